package airplay

import (
	"context"
	"fmt"
)

// Transport определяет транспорт аудио потока, согласованный в SETUP.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	default:
		return fmt.Sprintf("transport(%d)", int(t))
	}
}

// Codec определяет аудио кодек потока.
type Codec int

const (
	CodecALAC Codec = iota
	CodecAAC
	CodecPCM
)

func (c Codec) String() string {
	switch c {
	case CodecALAC:
		return "alac"
	case CodecAAC:
		return "aac"
	case CodecPCM:
		return "pcm"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// PipelineState состояние медиа конвейера, которым управляет сессия.
type PipelineState int

const (
	PipelineNull PipelineState = iota
	PipelinePaused
	PipelinePlaying
)

func (s PipelineState) String() string {
	switch s {
	case PipelineNull:
		return "null"
	case PipelinePaused:
		return "paused"
	case PipelinePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// PipelineEventType тип асинхронного события конвейера
type PipelineEventType int

const (
	EventEndOfStream PipelineEventType = iota + 1
	EventError
)

func (t PipelineEventType) String() string {
	switch t {
	case EventEndOfStream:
		return "eos"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// PipelineEvent асинхронное уведомление от конвейера.
// Message заполняется только для EventError.
type PipelineEvent struct {
	Type    PipelineEventType
	Message string
}

// PipelineParams параметры создания конвейера.
// Key и IV передаются только для UDP транспорта.
type PipelineParams struct {
	SessionID   string
	Transport   Transport
	ClientIP    string
	Codec       Codec
	Format      Format
	Key         []byte
	IV          []byte
	DisableSync bool
}

// Pipeline внешний медиа конвейер (прием, расшифровка, декодирование, вывод).
//
// Сессия владеет конвейером эксклюзивно: создает его в Setup и освобождает в Teardown.
// События доставляются из отдельной горутины через канал Events.
type Pipeline interface {
	// Bind пытается занять порт приема. Ошибка означает, что порт занят.
	Bind(port int) error

	// SetState переводит конвейер в указанное состояние
	SetState(state PipelineState) error

	// QueryRTPTime возвращает RTP timestamp текущей позиции воспроизведения
	QueryRTPTime() (uint32, bool)

	// Events канал асинхронных событий (конец потока, ошибка)
	Events() <-chan PipelineEvent

	// Close освобождает все ресурсы конвейера
	Close() error
}

// VolumeSetter опциональная возможность конвейера регулировать громкость.
// Громкость задается в дБ в диапазоне RAOP (-144..0).
type VolumeSetter interface {
	SetVolume(db float64) error
}

// PipelineFactory создает конвейеры для сессий
type PipelineFactory interface {
	Create(ctx context.Context, params PipelineParams) (Pipeline, error)
}

// PipelineFactoryFunc адаптер функции к PipelineFactory
type PipelineFactoryFunc func(ctx context.Context, params PipelineParams) (Pipeline, error)

// Create вызывает f(ctx, params)
func (f PipelineFactoryFunc) Create(ctx context.Context, params PipelineParams) (Pipeline, error) {
	return f(ctx, params)
}

// Player набор возможностей плеера, доступный UI и API удаленного управления.
type Player interface {
	Play(name string, tags *Tags) bool
	SetState(state PlayerState) PlayerState
	GetState() PlayerState
	GetName() string
	GetPos() (pos int64, duration int64)
	GetStatus() *Status
}
