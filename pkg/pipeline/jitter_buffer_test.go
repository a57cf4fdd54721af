package pipeline

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPacket(seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    AudioPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: []byte{byte(seq)},
	}
}

func timestamps(packets []*rtp.Packet) []uint32 {
	result := make([]uint32, 0, len(packets))
	for _, p := range packets {
		result = append(result, p.Timestamp)
	}
	return result
}

func TestJitterBufferOrdering(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{Latency: 100 * time.Millisecond, ClockRate: 44100})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(1, 1000), now))
	require.NoError(t, jb.Put(testPacket(3, 1704), now))
	require.NoError(t, jb.Put(testPacket(2, 1352), now))

	// До истечения задержки ничего не выдается
	assert.Empty(t, jb.PopReady(now.Add(50*time.Millisecond)))

	ready := jb.PopReady(now.Add(time.Second))
	assert.Equal(t, []uint32{1000, 1352, 1704}, timestamps(ready))
	assert.Equal(t, 0, jb.Len())
}

func TestJitterBufferPacing(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{ClockRate: 1000})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(1, 0), now))
	require.NoError(t, jb.Put(testPacket(2, 100), now))
	require.NoError(t, jb.Put(testPacket(3, 200), now))

	assert.Equal(t, []uint32{0}, timestamps(jb.PopReady(now)))
	assert.Equal(t, []uint32{100}, timestamps(jb.PopReady(now.Add(150*time.Millisecond))))
	assert.Equal(t, []uint32{200}, timestamps(jb.PopReady(now.Add(200*time.Millisecond))))
}

func TestJitterBufferTimestampWraparound(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{ClockRate: 44100})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(1, 0xFFFFFF00), now))
	require.NoError(t, jb.Put(testPacket(3, 0x00000200), now))
	require.NoError(t, jb.Put(testPacket(2, 0x00000060), now))

	ready := jb.PopReady(now.Add(time.Second))
	assert.Equal(t, []uint32{0xFFFFFF00, 0x00000060, 0x00000200}, timestamps(ready))
}

func TestJitterBufferLatePacket(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{ClockRate: 44100})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(2, 2000), now))
	require.Len(t, jb.PopReady(now), 1)

	assert.ErrorIs(t, jb.Put(testPacket(1, 1000), now), ErrLatePacket)
	assert.ErrorIs(t, jb.Put(testPacket(2, 2000), now), ErrLatePacket)
	assert.NoError(t, jb.Put(testPacket(3, 3000), now))

	stats := jb.GetStatistics()
	assert.Equal(t, uint64(2), stats.PacketsLate)
	assert.Equal(t, uint64(4), stats.PacketsReceived)
}

func TestJitterBufferOverflow(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{BufferSize: 2, Latency: time.Hour, ClockRate: 44100})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(1, 100), now))
	require.NoError(t, jb.Put(testPacket(2, 200), now))
	require.NoError(t, jb.Put(testPacket(3, 300), now))

	assert.Equal(t, 2, jb.Len())
	assert.Equal(t, uint64(1), jb.GetStatistics().PacketsDropped)
	assert.Equal(t, []uint32{200, 300}, timestamps(jb.PopAll()))
}

func TestJitterBufferLostSequence(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{Latency: time.Hour})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(65534, 1), now))
	require.NoError(t, jb.Put(testPacket(1, 4), now))
	require.NoError(t, jb.Put(testPacket(0, 3), now))

	// Пропущены 65535 и 0, затем 0 пришел с опозданием
	assert.Equal(t, uint64(2), jb.GetStatistics().PacketsLost)
}

func TestJitterBufferReset(t *testing.T) {
	jb := NewJitterBuffer(JitterBufferConfig{ClockRate: 44100})
	now := time.Now()

	require.NoError(t, jb.Put(testPacket(1, 5000), now))
	require.Len(t, jb.PopReady(now), 1)

	jb.Reset()
	assert.Equal(t, 0, jb.Len())

	// После сброса ранний timestamp снова принимается
	assert.NoError(t, jb.Put(testPacket(1, 10), now))
}
