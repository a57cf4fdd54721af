package airplay

import (
	"fmt"
	"log/slog"
)

// SessionConfig параметры создания сессии.
//
// Пример:
//
//	factory, _ := pipeline.NewFactory(pipeline.DefaultConfig())
//	config := DefaultSessionConfig()
//	config.Factory = factory
//	config.Name = "Гостиная"
//
//	session, err := NewSession(config)
type SessionConfig struct {
	// SessionID идентификатор для логов и метрик, пустой = сгенерировать UUID
	SessionID string

	// Name начальное имя плеера в статусе
	Name string

	// DisableSync отключает синхронизацию вывода в конвейере
	DisableSync bool

	// Factory создает конвейеры (обязательно)
	Factory PipelineFactory

	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultSessionConfig возвращает конфигурацию по умолчанию
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Name:   "AirPlay",
		Logger: slog.Default(),
	}
}

// Validate проверяет конфигурацию
func (c *SessionConfig) Validate() error {
	if c.Factory == nil {
		return NewError(ErrorCodeInvalidConfig, c.SessionID, "Factory не может быть nil")
	}
	if len(c.Name) > 255 {
		return NewError(ErrorCodeInvalidConfig, c.SessionID, fmt.Sprintf("слишком длинное имя: %d символов", len(c.Name)))
	}
	return nil
}
