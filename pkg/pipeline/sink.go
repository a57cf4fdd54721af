package pipeline

import (
	"errors"
	"io"
	"math"
	"sync/atomic"

	"github.com/arzzra/raop_receiver/pkg/airplay"
)

// ErrEndOfStream возвращается приемником, когда поток завершен
var ErrEndOfStream = errors.New("конец потока")

// Frame кадр аудио, переданный приемнику в порядке воспроизведения
type Frame struct {
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
}

// Sink принимает кадры аудио. Декодирование и вывод звука выполняет реализация.
//
// WriteFrame, вернувший ErrEndOfStream, завершает поток событием
// EndOfStream, любая другая ошибка порождает событие Error.
type Sink interface {
	WriteFrame(frame Frame) error
	SetVolume(db float64) error
	Close() error
}

// SinkFactory создает приемник для сессии
type SinkFactory func(params airplay.PipelineParams) (Sink, error)

// DiscardSink приемник, отбрасывающий данные. Используется для TCP режима
// и когда вывод звука не настроен.
type DiscardSink struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
	volume atomic.Uint64
	closed atomic.Bool
}

// NewDiscardSinkFactory возвращает фабрику DiscardSink
func NewDiscardSinkFactory() SinkFactory {
	return func(airplay.PipelineParams) (Sink, error) {
		return &DiscardSink{}, nil
	}
}

// WriteFrame учитывает кадр и отбрасывает его
func (s *DiscardSink) WriteFrame(frame Frame) error {
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	s.frames.Add(1)
	s.bytes.Add(uint64(len(frame.Payload)))
	return nil
}

// Write реализует io.Writer для потокового режима
func (s *DiscardSink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	s.bytes.Add(uint64(len(p)))
	return len(p), nil
}

// SetVolume запоминает громкость в dB
func (s *DiscardSink) SetVolume(db float64) error {
	s.volume.Store(math.Float64bits(db))
	return nil
}

// Volume возвращает последнюю установленную громкость
func (s *DiscardSink) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// Frames возвращает количество принятых кадров
func (s *DiscardSink) Frames() uint64 {
	return s.frames.Load()
}

// Bytes возвращает количество принятых байт
func (s *DiscardSink) Bytes() uint64 {
	return s.bytes.Load()
}

// Close закрывает приемник
func (s *DiscardSink) Close() error {
	s.closed.Store(true)
	return nil
}

// frameWriter адаптирует Sink к io.Writer для потокового режима
type frameWriter struct {
	sink Sink
}

func (w frameWriter) Write(p []byte) (int, error) {
	if writer, ok := w.sink.(io.Writer); ok {
		return writer.Write(p)
	}
	if err := w.sink.WriteFrame(Frame{Payload: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}
