package statusapi

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения по умолчанию
const (
	DefaultAddr         = ":8080"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultRequestRate  = 50
	DefaultRequestBurst = 100
)

// Config конфигурация HTTP сервера статуса
type Config struct {
	Addr         string        // Адрес HTTP сервера
	PollInterval time.Duration // Период опроса статуса для websocket рассылки
	RequestRate  int           // Предел запросов в секунду (0 = без ограничения)
	RequestBurst int           // Допустимый всплеск запросов

	// Gatherer источник метрик для /metrics (nil = prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:         DefaultAddr,
		PollInterval: DefaultPollInterval,
		RequestRate:  DefaultRequestRate,
		RequestBurst: DefaultRequestBurst,
		Logger:       slog.Default(),
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("период опроса должен быть положительным: %v", c.PollInterval)
	}
	if c.RequestRate < 0 || c.RequestBurst < 0 {
		return fmt.Errorf("параметры ограничения запросов не могут быть отрицательными")
	}
	if c.RequestRate > 0 && c.RequestBurst == 0 {
		return fmt.Errorf("при ограничении запросов всплеск должен быть положительным")
	}
	return nil
}
