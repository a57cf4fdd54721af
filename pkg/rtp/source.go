package rtp

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// maxSequenceJump наибольший скачок номера пакета, который считается продолжением потока
const maxSequenceJump = 3000

// SourceStatistics статистика приема от источника согласно RFC 3550
type SourceStatistics struct {
	SSRC            uint32
	PacketsReceived uint64
	PacketsExpected uint64
	PacketsLost     int64
	BytesReceived   uint64
	Jitter          float64 // Межпакетный jitter в единицах RTP timestamp
	JitterMs        float64 // Тот же jitter в миллисекундах
	Resets          uint64  // Сколько раз поток начинался заново (смена SSRC, разрыв)
	FirstSeen       time.Time
	LastSeen        time.Time
}

// FractionLost доля потерь с момента начала потока (RFC 3550 A.3)
func (s SourceStatistics) FractionLost() uint8 {
	if s.PacketsExpected == 0 || s.PacketsLost <= 0 {
		return 0
	}
	fraction := uint64(s.PacketsLost) * 256 / s.PacketsExpected
	if fraction > 255 {
		return 255
	}
	return uint8(fraction)
}

// SourceTracker отслеживает номера пакетов и jitter единственного отправителя.
//
// Отправитель RAOP один, но после FLUSH он может начать поток с новым SSRC
// или новой последовательностью. В этом случае счет начинается заново.
type SourceTracker struct {
	clockRate int

	mutex       sync.Mutex
	started     bool
	ssrc        uint32
	baseSeq     uint16
	maxSeq      uint16
	cycles      uint32
	lastTransit uint32
	stats       SourceStatistics
}

// NewSourceTracker создает трекер для потока с частотой clockRate Гц
func NewSourceTracker(clockRate int) *SourceTracker {
	if clockRate <= 0 {
		clockRate = 44100
	}
	return &SourceTracker{clockRate: clockRate}
}

// Update учитывает пакет, полученный в момент arrival
func (t *SourceTracker) Update(packet *rtp.Packet, arrival time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	seq := packet.SequenceNumber
	if !t.started || packet.SSRC != t.ssrc {
		t.restartLocked(packet, arrival)
		return
	}

	delta := seq - t.maxSeq
	switch {
	case delta == 0:
		// Дубликат
	case delta < maxSequenceJump:
		if seq < t.maxSeq {
			t.cycles += 1 << 16
		}
		t.maxSeq = seq
	case delta <= 0xFFFF-maxSequenceJump:
		// Большой разрыв: поток начат заново
		t.restartLocked(packet, arrival)
		return
	default:
		// Переупорядоченный или повторный пакет
	}

	t.stats.PacketsReceived++
	t.stats.BytesReceived += uint64(len(packet.Payload))
	t.stats.LastSeen = arrival
	t.stats.PacketsExpected = uint64(t.cycles) + uint64(t.maxSeq) - uint64(t.baseSeq) + 1
	t.stats.PacketsLost = int64(t.stats.PacketsExpected) - int64(t.stats.PacketsReceived)

	t.updateJitterLocked(packet.Timestamp, arrival)
}

// Statistics возвращает копию текущей статистики
func (t *SourceTracker) Statistics() SourceStatistics {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.stats
}

// Reset забывает текущий поток
func (t *SourceTracker) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.started = false
	t.stats = SourceStatistics{}
}

func (t *SourceTracker) restartLocked(packet *rtp.Packet, arrival time.Time) {
	resets := t.stats.Resets
	if t.started {
		resets++
	}

	t.started = true
	t.ssrc = packet.SSRC
	t.baseSeq = packet.SequenceNumber
	t.maxSeq = packet.SequenceNumber
	t.cycles = 0
	t.lastTransit = t.transit(packet.Timestamp, arrival)
	t.stats = SourceStatistics{
		SSRC:            packet.SSRC,
		PacketsReceived: 1,
		PacketsExpected: 1,
		BytesReceived:   uint64(len(packet.Payload)),
		Resets:          resets,
		FirstSeen:       arrival,
		LastSeen:        arrival,
	}
}

// updateJitterLocked RFC 3550 A.8: J += (|D| - J) / 16
func (t *SourceTracker) updateJitterLocked(timestamp uint32, arrival time.Time) {
	transit := t.transit(timestamp, arrival)
	d := int64(int32(transit - t.lastTransit))
	t.lastTransit = transit
	if d < 0 {
		d = -d
	}

	t.stats.Jitter += (float64(d) - t.stats.Jitter) / 16
	t.stats.JitterMs = t.stats.Jitter * 1000 / float64(t.clockRate)
}

// transit разница между временем прибытия и timestamp в единицах RTP (по модулю 2^32)
func (t *SourceTracker) transit(timestamp uint32, arrival time.Time) uint32 {
	rate := int64(t.clockRate)
	units := arrival.Unix()*rate + int64(arrival.Nanosecond())*rate/int64(time.Second)
	return uint32(units) - timestamp
}
