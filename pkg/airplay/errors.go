package airplay

import (
	"errors"
	"fmt"
)

// ErrorCode определяет типизированные коды ошибок сессии AirPlay.
type ErrorCode int

const (
	// Ошибки жизненного цикла
	ErrorCodePortExhausted ErrorCode = iota + 2000
	ErrorCodeAlreadyActive
	ErrorCodeNotSetUp
	ErrorCodeInvalidState

	// Ошибки конвейера
	ErrorCodePipelineCreate
	ErrorCodePipelineError

	// Ошибки входных параметров
	ErrorCodeInvalidAnnounce
	ErrorCodeInvalidConfig
	ErrorCodeInvalidPort
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodePortExhausted:
		return "PortExhausted"
	case ErrorCodeAlreadyActive:
		return "AlreadyActive"
	case ErrorCodeNotSetUp:
		return "NotSetUp"
	case ErrorCodeInvalidState:
		return "InvalidState"
	case ErrorCodePipelineCreate:
		return "PipelineCreate"
	case ErrorCodePipelineError:
		return "PipelineError"
	case ErrorCodeInvalidAnnounce:
		return "InvalidAnnounce"
	case ErrorCodeInvalidConfig:
		return "InvalidConfig"
	case ErrorCodeInvalidPort:
		return "InvalidPort"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Error базовая ошибка сессии.
// Содержит код, контекст (порт, кодек, состояние) и идентификатор сессии
// для сопоставления с логами.
type Error struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	if e.SessionID != "" {
		return fmt.Sprintf("[airplay:%s] сессия %s: %s", e.Code, e.SessionID, msg)
	}
	return fmt.Sprintf("[airplay:%s] %s", e.Code, msg)
}

// Unwrap возвращает обернутую ошибку
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду, что позволяет использовать errors.Is с ErrPortExhausted и т.п.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext возвращает значение из контекста ошибки по ключу.
func (e *Error) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// Сигнальные ошибки для errors.Is
var (
	ErrPortExhausted = &Error{Code: ErrorCodePortExhausted, Message: "нет свободного порта в окне поиска"}
	ErrAlreadyActive = &Error{Code: ErrorCodeAlreadyActive, Message: "конвейер уже создан"}
	ErrNotSetUp      = &Error{Code: ErrorCodeNotSetUp, Message: "сессия не настроена"}
	ErrInvalidPort   = &Error{Code: ErrorCodeInvalidPort, Message: "недопустимый базовый порт"}
)

// NewError создает ошибку с кодом и сообщением
func NewError(code ErrorCode, sessionID, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
	}
}

// WrapError оборачивает существующую ошибку в Error
func WrapError(code ErrorCode, sessionID, message string, err error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		Wrapped:   err,
	}
}

// withContext добавляет пару ключ/значение в контекст ошибки
func (e *Error) withContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code ErrorCode) bool {
	var airErr *Error
	if errors.As(err, &airErr) {
		return airErr.Code == code
	}
	return false
}

// IsRejection сообщает, что команда была отклонена без побочных эффектов.
// Обработчик управляющего канала отвечает на такие ошибки отрицательным подтверждением.
func IsRejection(err error) bool {
	return HasErrorCode(err, ErrorCodePortExhausted) ||
		HasErrorCode(err, ErrorCodeAlreadyActive) ||
		HasErrorCode(err, ErrorCodeNotSetUp) ||
		HasErrorCode(err, ErrorCodeInvalidPort)
}
