package airplay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name       string
		codec      Codec
		descriptor string
		wantRate   int
		wantCh     int
		wantBits   int
	}{
		{
			name:       "alac iTunes",
			codec:      CodecALAC,
			descriptor: "96 352 0 16 40 10 14 2 255 0 0 44100",
			wantRate:   44100,
			wantCh:     2,
			wantBits:   16,
		},
		{
			name:       "alac mono 48k",
			codec:      CodecALAC,
			descriptor: "96 4096 0 24 10 14 2 1 255 0 0 48000",
			wantRate:   48000,
			wantCh:     1,
			wantBits:   24,
		},
		{
			name:       "alac discarded fields ignored",
			codec:      CodecALAC,
			descriptor: "100 1 7 16 99 99 99 6 1 123456 987654 96000",
			wantRate:   96000,
			wantCh:     6,
			wantBits:   16,
		},
		{
			name:       "alac truncated",
			codec:      CodecALAC,
			descriptor: "96 352 0 16 40 10 14 2",
			wantRate:   DefaultSampleRate,
			wantCh:     2,
			wantBits:   16,
		},
		{
			name:       "pcm",
			codec:      CodecPCM,
			descriptor: "96 16 48000 1",
			wantRate:   48000,
			wantCh:     1,
			wantBits:   16,
		},
		{
			name:       "pcm zero values",
			codec:      CodecPCM,
			descriptor: "96 16 0 0",
			wantRate:   DefaultSampleRate,
			wantCh:     DefaultChannels,
			wantBits:   16,
		},
		{
			name:       "aac ignores descriptor",
			codec:      CodecAAC,
			descriptor: "96 mpeg4-generic/48000/1",
			wantRate:   DefaultSampleRate,
			wantCh:     DefaultChannels,
		},
		{
			name:     "unknown codec",
			codec:    Codec(42),
			wantRate: DefaultSampleRate,
			wantCh:   DefaultChannels,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format := Negotiate(tt.codec, tt.descriptor)

			assert.Equal(t, tt.wantRate, format.SampleRate)
			assert.Equal(t, tt.wantCh, format.Channels)
			assert.Equal(t, tt.wantBits, format.BitDepth)
			assert.Equal(t, tt.descriptor, format.Config)
		})
	}
}

func TestNegotiateMalformedDefaults(t *testing.T) {
	descriptors := []string{
		"",
		"   ",
		"garbage",
		"96 abc 0 16 40 10 14 2 255 0 0 44100",
		"-1 -2 -3",
	}

	for _, codec := range []Codec{CodecALAC, CodecPCM} {
		for _, d := range descriptors {
			t.Run(fmt.Sprintf("%s/%q", codec, d), func(t *testing.T) {
				format := Negotiate(codec, d)
				assert.Equal(t, DefaultSampleRate, format.SampleRate)
				assert.Equal(t, DefaultChannels, format.Channels)
			})
		}
	}
}

func TestNegotiateOverflowSampleRate(t *testing.T) {
	format := Negotiate(CodecALAC, "96 352 0 16 40 10 14 2 255 0 0 99999999999999")
	assert.Equal(t, DefaultSampleRate, format.SampleRate)
	assert.Equal(t, 2, format.Channels)
}

func TestAllocatePort(t *testing.T) {
	t.Run("first port free", func(t *testing.T) {
		binding, err := AllocatePort(context.Background(), 6000, func(int) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 6000, binding.Port)
		assert.Equal(t, 1, binding.Attempts)
	})

	t.Run("skips busy ports with even stride", func(t *testing.T) {
		var tried []int
		binding, err := AllocatePort(context.Background(), 6000, func(port int) error {
			tried = append(tried, port)
			if port < 6010 {
				return errors.New("address already in use")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 6010, binding.Port)
		assert.Equal(t, []int{6000, 6002, 6004, 6006, 6008, 6010}, tried)
		assert.Equal(t, 6, binding.Attempts)
	})

	t.Run("last port in window", func(t *testing.T) {
		binding, err := AllocatePort(context.Background(), 5001, func(port int) error {
			if port != 5101 {
				return errors.New("busy")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 5101, binding.Port)
		assert.Equal(t, MaxPortAttempts, binding.Attempts)
	})

	t.Run("exhausted after 51 attempts", func(t *testing.T) {
		attempts := 0
		bindErr := errors.New("busy")
		binding, err := AllocatePort(context.Background(), 6000, func(port int) error {
			attempts++
			assert.LessOrEqual(t, port, 6100)
			assert.Equal(t, 0, (port-6000)%2)
			return bindErr
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPortExhausted)
		assert.ErrorIs(t, err, bindErr)
		assert.True(t, IsRejection(err))
		assert.Equal(t, 51, attempts)
		assert.Equal(t, 51, binding.Attempts)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := AllocatePort(ctx, 6000, func(int) error { return nil })
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, HasErrorCode(err, ErrorCodePortExhausted))
	})
}

func TestAllocatePortRange(t *testing.T) {
	for _, base := range []int{1, 5000, 6001, 65400} {
		for free := base; free <= base+PortWindow+4; free += 2 {
			binding, err := AllocatePort(context.Background(), base, func(port int) error {
				if port == free {
					return nil
				}
				return errors.New("busy")
			})
			if free > base+PortWindow {
				assert.ErrorIs(t, err, ErrPortExhausted)
				continue
			}
			require.NoError(t, err)
			assert.Equal(t, free, binding.Port)
			assert.GreaterOrEqual(t, binding.Port, base)
			assert.LessOrEqual(t, binding.Port, base+PortWindow)
			assert.Equal(t, 0, (binding.Port-base)%PortStride)
		}
	}
}

func TestAllocatePortInvalidBase(t *testing.T) {
	for _, base := range []int{0, -1, MaxPort + 1} {
		t.Run(fmt.Sprintf("base %d", base), func(t *testing.T) {
			called := false
			binding, err := AllocatePort(context.Background(), base, func(int) error {
				called = true
				return nil
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPort)
			assert.True(t, IsRejection(err))
			assert.False(t, called)
			assert.Equal(t, 0, binding.Attempts)
			assert.Equal(t, 0, binding.Port)
		})
	}
}

func TestAllocatePortClampsWindow(t *testing.T) {
	var tried []int
	_, err := AllocatePort(context.Background(), 65500, func(port int) error {
		tried = append(tried, port)
		return errors.New("busy")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortExhausted)
	require.NotEmpty(t, tried)
	assert.Equal(t, 65534, tried[len(tried)-1])
	assert.Len(t, tried, 18)
}

func TestRTPDeltaMs(t *testing.T) {
	assert.Equal(t, int64(1000), RTPDeltaMs(1000, 45100, 44100))
	assert.Equal(t, int64(0), RTPDeltaMs(1000, 1000, 44100))

	// Переполнение 32-битного счетчика
	assert.Equal(t, int64(1000), RTPDeltaMs(0xFFFFFFFF-44099, 0, 44100))
	start := uint32(0xFFFFFF00)
	assert.Equal(t, int64(500), RTPDeltaMs(start, start+24000, 48000))

	// Нулевая частота заменяется значением по умолчанию
	assert.Equal(t, int64(1000), RTPDeltaMs(0, 44100, 0))

	position, duration := Progress(1000, 45100, 1000+44100*1000, 44100)
	assert.Equal(t, int64(1000), position)
	assert.Equal(t, int64(1000000), duration)
}

func TestRTPDeltaMsMonotonic(t *testing.T) {
	starts := []uint32{0, 12345, 0xFFFF0000, 0xFFFFFFFF}
	for _, start := range starts {
		prev := int64(-1)
		for step := uint32(0); step < 1<<31; step += 1 << 24 {
			pos := RTPDeltaMs(start, start+step, 44100)
			assert.GreaterOrEqual(t, pos, prev)
			prev = pos
		}
	}
}
