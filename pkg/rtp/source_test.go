package rtp

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourcePacket(ssrc uint32, seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SSRC:           ssrc,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: make([]byte, 100),
	}
}

func TestSourceTrackerInOrder(t *testing.T) {
	tracker := NewSourceTracker(44100)
	start := time.Unix(1700000000, 0)

	for i := 0; i < 10; i++ {
		arrival := start.Add(time.Duration(i) * 8 * time.Millisecond)
		tracker.Update(sourcePacket(1, uint16(100+i), uint32(352*i)), arrival)
	}

	stats := tracker.Statistics()
	assert.Equal(t, uint32(1), stats.SSRC)
	assert.Equal(t, uint64(10), stats.PacketsReceived)
	assert.Equal(t, uint64(10), stats.PacketsExpected)
	assert.Equal(t, int64(0), stats.PacketsLost)
	assert.Equal(t, uint64(1000), stats.BytesReceived)
	assert.Equal(t, uint8(0), stats.FractionLost())
	assert.Equal(t, start, stats.FirstSeen)
}

func TestSourceTrackerLossAndWrap(t *testing.T) {
	tracker := NewSourceTracker(44100)
	now := time.Now()

	// 65534, 65535, [0 потерян], 1, 2
	for _, seq := range []uint16{65534, 65535, 1, 2} {
		tracker.Update(sourcePacket(7, seq, 0), now)
	}

	stats := tracker.Statistics()
	assert.Equal(t, uint64(4), stats.PacketsReceived)
	assert.Equal(t, uint64(5), stats.PacketsExpected)
	assert.Equal(t, int64(1), stats.PacketsLost)
	assert.Equal(t, uint8(51), stats.FractionLost())
}

func TestSourceTrackerReordered(t *testing.T) {
	tracker := NewSourceTracker(44100)
	now := time.Now()

	for _, seq := range []uint16{10, 12, 11, 13} {
		tracker.Update(sourcePacket(7, seq, 0), now)
	}

	stats := tracker.Statistics()
	assert.Equal(t, uint64(4), stats.PacketsExpected)
	assert.Equal(t, int64(0), stats.PacketsLost)
}

func TestSourceTrackerRestart(t *testing.T) {
	tracker := NewSourceTracker(44100)
	now := time.Now()

	tracker.Update(sourcePacket(1, 10, 0), now)
	tracker.Update(sourcePacket(1, 11, 352), now)

	// Новый SSRC
	tracker.Update(sourcePacket(2, 500, 0), now)
	stats := tracker.Statistics()
	assert.Equal(t, uint32(2), stats.SSRC)
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.Resets)

	// Большой разрыв номеров
	tracker.Update(sourcePacket(2, 20000, 0), now)
	stats = tracker.Statistics()
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(2), stats.Resets)

	tracker.Reset()
	assert.Equal(t, SourceStatistics{}, tracker.Statistics())
}

func TestSourceTrackerJitter(t *testing.T) {
	tracker := NewSourceTracker(1000)
	start := time.Unix(1700000000, 0)

	// Равномерный поток: jitter остается нулевым
	for i := 0; i < 5; i++ {
		tracker.Update(sourcePacket(1, uint16(i), uint32(10*i)), start.Add(time.Duration(10*i)*time.Millisecond))
	}
	require.Equal(t, 0.0, tracker.Statistics().Jitter)

	// Пакет опоздал на 16 мс: J = 16/16 = 1 единица = 1 мс при 1000 Гц
	tracker.Update(sourcePacket(1, 5, 50), start.Add(66*time.Millisecond))
	stats := tracker.Statistics()
	assert.InDelta(t, 1.0, stats.Jitter, 1e-9)
	assert.InDelta(t, 1.0, stats.JitterMs, 1e-9)
}
