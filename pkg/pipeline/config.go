package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	rtpPkg "github.com/arzzra/raop_receiver/pkg/rtp"
)

// Значения по умолчанию конвейера
const (
	// DefaultLatency задержка jitter буфера перед воспроизведением
	DefaultLatency = 200 * time.Millisecond

	// DefaultBufferPackets емкость jitter буфера. При 352 фреймах на пакет
	// и 44.1kHz это около 4 секунд аудио
	DefaultBufferPackets = 512

	// DefaultPacketRate предельная скорость приема пакетов в секунду.
	// Нормальный поток ALAC около 125 пакетов в секунду
	DefaultPacketRate = 1000

	// DefaultPacketBurst допустимый всплеск пакетов (повторные передачи)
	DefaultPacketBurst = 250

	// DefaultEventBuffer размер буфера канала событий
	DefaultEventBuffer = 8

	// DefaultPlayoutInterval период опроса jitter буфера
	DefaultPlayoutInterval = 5 * time.Millisecond

	// AudioPayloadType тип полезной нагрузки аудио пакетов RAOP
	AudioPayloadType = 96
)

// Config конфигурация фабрики конвейеров
type Config struct {
	Transport       rtpPkg.TransportConfig // Настройки приемного транспорта (LocalAddr игнорируется)
	Latency         time.Duration          // Задержка воспроизведения
	BufferPackets   int                    // Емкость jitter буфера
	PacketRate      int                    // Предел пакетов в секунду (0 = без ограничения)
	PacketBurst     int                    // Допустимый всплеск
	EventBuffer     int                    // Размер буфера канала событий (при заполнении циклы ждут читателя)
	PlayoutInterval time.Duration          // Период опроса jitter буфера
	PayloadType     uint8                  // Ожидаемый payload type аудио пакетов

	// NewSink создает приемник кадров для сессии. По умолчанию DiscardSink.
	NewSink SinkFactory

	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Transport:       rtpPkg.DefaultTransportConfig(),
		Latency:         DefaultLatency,
		BufferPackets:   DefaultBufferPackets,
		PacketRate:      DefaultPacketRate,
		PacketBurst:     DefaultPacketBurst,
		EventBuffer:     DefaultEventBuffer,
		PlayoutInterval: DefaultPlayoutInterval,
		PayloadType:     AudioPayloadType,
		NewSink:         NewDiscardSinkFactory(),
		Logger:          slog.Default(),
	}
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if c.Latency < 0 {
		return fmt.Errorf("задержка не может быть отрицательной: %v", c.Latency)
	}
	if c.BufferPackets <= 0 {
		return fmt.Errorf("емкость jitter буфера должна быть положительной: %d", c.BufferPackets)
	}
	if c.PacketRate < 0 || c.PacketBurst < 0 {
		return fmt.Errorf("параметры ограничения скорости не могут быть отрицательными")
	}
	if c.PacketRate > 0 && c.PacketBurst == 0 {
		return fmt.Errorf("при ограничении скорости всплеск должен быть положительным")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("размер буфера событий должен быть положительным: %d", c.EventBuffer)
	}
	if c.PlayoutInterval <= 0 {
		return fmt.Errorf("период воспроизведения должен быть положительным: %v", c.PlayoutInterval)
	}
	if c.PayloadType > 127 {
		return fmt.Errorf("невалидный payload type: %d", c.PayloadType)
	}
	if c.NewSink == nil {
		return fmt.Errorf("фабрика приемников обязательна")
	}
	return c.Transport.Socket.Validate()
}
