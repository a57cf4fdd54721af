package pipeline

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// payloadDecrypter расшифровывает полезную нагрузку аудио пакетов RAOP.
//
// Каждый пакет шифруется AES-128-CBC независимо с одним и тем же IV из ANNOUNCE.
// Шифруются только полные 16-байтные блоки, хвост передается открытым.
type payloadDecrypter struct {
	block cipher.Block
	iv    []byte
}

func newPayloadDecrypter(key, iv []byte) (*payloadDecrypter, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("ожидается AES-128 ключ длиной 16 байт, получено %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("ожидается IV длиной %d байт, получено %d", aes.BlockSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES шифра: %w", err)
	}

	return &payloadDecrypter{
		block: block,
		iv:    append([]byte(nil), iv...),
	}, nil
}

// Decrypt расшифровывает payload на месте
func (d *payloadDecrypter) Decrypt(payload []byte) {
	n := len(payload) / aes.BlockSize * aes.BlockSize
	if n == 0 {
		return
	}
	cipher.NewCBCDecrypter(d.block, d.iv).CryptBlocks(payload[:n], payload[:n])
}
