package pipeline

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = []byte("0123456789abcdef")
	testIV  = []byte("fedcba9876543210")
)

// encryptPayload шифрует полные блоки так же, как отправитель RAOP
func encryptPayload(t *testing.T, plain []byte) []byte {
	t.Helper()

	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)

	out := append([]byte(nil), plain...)
	n := len(out) / aes.BlockSize * aes.BlockSize
	cipher.NewCBCEncrypter(block, testIV).CryptBlocks(out[:n], out[:n])
	return out
}

func TestPayloadDecrypter(t *testing.T) {
	d, err := newPayloadDecrypter(testKey, testIV)
	require.NoError(t, err)

	for _, size := range []int{5, 16, 20, 32, 1400} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(i)
		}

		payload := encryptPayload(t, plain)
		if size >= aes.BlockSize {
			assert.NotEqual(t, plain[:aes.BlockSize], payload[:aes.BlockSize])
		}

		d.Decrypt(payload)
		assert.Equal(t, plain, payload, "size %d", size)
	}
}

func TestPayloadDecrypterIndependentPackets(t *testing.T) {
	d, err := newPayloadDecrypter(testKey, testIV)
	require.NoError(t, err)

	// Каждый пакет начинается с исходного IV
	plain := []byte("sixteen byte blk")
	for i := 0; i < 3; i++ {
		payload := encryptPayload(t, plain)
		d.Decrypt(payload)
		assert.Equal(t, plain, payload)
	}
}

func TestPayloadDecrypterInvalidKey(t *testing.T) {
	_, err := newPayloadDecrypter([]byte("short"), testIV)
	assert.Error(t, err)

	_, err = newPayloadDecrypter(testKey, []byte("short"))
	assert.Error(t, err)
}
