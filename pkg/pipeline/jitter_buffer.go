package pipeline

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// ErrLatePacket пакет пришел после того, как его позиция уже воспроизведена
var ErrLatePacket = errors.New("пакет опоздал")

// JitterBufferConfig параметры jitter буфера
type JitterBufferConfig struct {
	BufferSize int           // Максимальный размер буфера в пакетах
	Latency    time.Duration // Задержка воспроизведения (0 = выдавать сразу)
	ClockRate  int           // Частота RTP clock (частота дискретизации)
}

// JitterBuffer упорядочивает RTP пакеты по timestamp и выдает их,
// когда наступает время воспроизведения.
//
// Время воспроизведения пакета отсчитывается от первого принятого пакета:
//
//	expected = base + (timestamp - baseTimestamp) / clockRate + latency
//
// Разности timestamp вычисляются по модулю 2^32, поэтому переполнение
// 32-битного счетчика не нарушает порядок.
type JitterBuffer struct {
	config JitterBufferConfig

	packets packetHeap

	started       bool
	baseTime      time.Time
	baseTimestamp uint32
	expectedSeq   uint16

	played        bool
	lastTimestamp uint32

	packetsReceived uint64
	packetsLost     uint64
	packetsLate     uint64
	packetsDropped  uint64

	mutex sync.Mutex
}

// JitterBufferStatistics статистика jitter буфера
type JitterBufferStatistics struct {
	BufferSize      int
	MaxBufferSize   int
	PacketsReceived uint64
	PacketsLost     uint64 // Пропуски в последовательности номеров
	PacketsLate     uint64 // Отброшены как опоздавшие
	PacketsDropped  uint64 // Вытеснены при переполнении
}

type jitterPacket struct {
	packet   *rtp.Packet
	expected time.Time
	index    int
}

// packetHeap реализует heap.Interface с сортировкой по timestamp
type packetHeap []*jitterPacket

func (h packetHeap) Len() int { return len(h) }
func (h packetHeap) Less(i, j int) bool {
	return timestampBefore(h[i].packet.Timestamp, h[j].packet.Timestamp)
}
func (h packetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *packetHeap) Push(x interface{}) {
	item := x.(*jitterPacket)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// NewJitterBuffer создает jitter буфер
func NewJitterBuffer(config JitterBufferConfig) *JitterBuffer {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferPackets
	}
	if config.ClockRate <= 0 {
		config.ClockRate = 44100
	}

	jb := &JitterBuffer{config: config}
	heap.Init(&jb.packets)
	return jb
}

// Put добавляет пакет. Опоздавший пакет отбрасывается с ErrLatePacket,
// при переполнении вытесняется самый ранний пакет.
func (jb *JitterBuffer) Put(packet *rtp.Packet, now time.Time) error {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if !jb.started {
		jb.started = true
		jb.baseTime = now
		jb.baseTimestamp = packet.Timestamp
		jb.expectedSeq = packet.SequenceNumber
	}

	jb.packetsReceived++

	if packet.SequenceNumber != jb.expectedSeq && isSeqNewer(packet.SequenceNumber, jb.expectedSeq) {
		jb.packetsLost += uint64(packet.SequenceNumber - jb.expectedSeq)
	}
	if isSeqNewer(packet.SequenceNumber, jb.expectedSeq) || packet.SequenceNumber == jb.expectedSeq {
		jb.expectedSeq = packet.SequenceNumber + 1
	}

	if jb.played && !timestampBefore(jb.lastTimestamp, packet.Timestamp) {
		jb.packetsLate++
		return ErrLatePacket
	}

	if len(jb.packets) >= jb.config.BufferSize {
		heap.Pop(&jb.packets)
		jb.packetsDropped++
	}

	heap.Push(&jb.packets, &jitterPacket{
		packet:   packet,
		expected: jb.expectedTime(packet.Timestamp),
	})
	return nil
}

// PopReady извлекает в порядке timestamp все пакеты, время которых наступило
func (jb *JitterBuffer) PopReady(now time.Time) []*rtp.Packet {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	var ready []*rtp.Packet
	for len(jb.packets) > 0 {
		if now.Before(jb.packets[0].expected) {
			break
		}
		item := heap.Pop(&jb.packets).(*jitterPacket)
		ready = append(ready, item.packet)
		jb.played = true
		jb.lastTimestamp = item.packet.Timestamp
	}
	return ready
}

// PopAll извлекает все пакеты в порядке timestamp не дожидаясь времени воспроизведения
func (jb *JitterBuffer) PopAll() []*rtp.Packet {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	var ready []*rtp.Packet
	for len(jb.packets) > 0 {
		item := heap.Pop(&jb.packets).(*jitterPacket)
		ready = append(ready, item.packet)
		jb.played = true
		jb.lastTimestamp = item.packet.Timestamp
	}
	return ready
}

// Reset очищает буфер и сбрасывает базу времени
func (jb *JitterBuffer) Reset() {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	jb.packets = jb.packets[:0]
	jb.started = false
	jb.played = false
}

// Len возвращает количество пакетов в буфере
func (jb *JitterBuffer) Len() int {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()
	return len(jb.packets)
}

// GetStatistics возвращает статистику jitter буфера
func (jb *JitterBuffer) GetStatistics() JitterBufferStatistics {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	return JitterBufferStatistics{
		BufferSize:      len(jb.packets),
		MaxBufferSize:   jb.config.BufferSize,
		PacketsReceived: jb.packetsReceived,
		PacketsLost:     jb.packetsLost,
		PacketsLate:     jb.packetsLate,
		PacketsDropped:  jb.packetsDropped,
	}
}

func (jb *JitterBuffer) expectedTime(timestamp uint32) time.Time {
	offset := int64(int32(timestamp - jb.baseTimestamp))
	delta := time.Duration(offset) * time.Second / time.Duration(jb.config.ClockRate)
	return jb.baseTime.Add(delta).Add(jb.config.Latency)
}

// timestampBefore сравнивает RTP timestamp по модулю 2^32
func timestampBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// isSeqNewer проверяет что a новее b с учетом переполнения
func isSeqNewer(a, b uint16) bool {
	return a != b && a-b < 0x8000
}
