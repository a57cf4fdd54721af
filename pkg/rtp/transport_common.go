// Общие утилиты приемных транспортов
//
// Файл содержит константы, настройки сокетов, валидацию пакетов
// и классификацию сетевых ошибок, общие для UDP и TCP транспортов.
package rtp

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtp"
)

const (
	// DefaultBufferSize размер буфера чтения. Пакет ALAC из 352 стерео
	// фреймов вместе с заголовком не превышает 1.5KB
	DefaultBufferSize = 2048

	// DefaultReceiveTimeout таймаут одного чтения. Позволяет циклу приема
	// проверять контекст без блокировки навсегда
	DefaultReceiveTimeout = 100 * time.Millisecond

	// AudioRecvBuffer размер буфера ядра на прием.
	// 256KB вмещают около секунды несжатого стерео 44.1kHz
	AudioRecvBuffer = 256 * 1024

	// MinRTPPacketSize минимальный размер RTP заголовка
	MinRTPPacketSize = 12
	// MaxRTPPacketSize максимальный размер принимаемого пакета
	MaxRTPPacketSize = DefaultBufferSize

	// ExpectedRTPVersion RFC 3550: версия RTP должна быть 2
	ExpectedRTPVersion = 2

	// DSCP значения для QoS классификации трафика согласно RFC 4594
	DSCPExpeditedForwarding = 46 // EF для интерактивного аудио
	DSCPAudioVideo          = 34 // AF41 для потокового аудио/видео
	DSCPBestEffort          = 0
)

// SocketOptions системные настройки сокета
type SocketOptions struct {
	RecvBuffer   int    // SO_RCVBUF (0 = AudioRecvBuffer)
	ReusePort    bool   // Разрешить повторное использование порта
	DSCP         int    // DSCP маркировка (0 = не устанавливать)
	BindToDevice string // Привязка к сетевому интерфейсу (только Linux)
}

// Validate проверяет корректность настроек сокета
func (o SocketOptions) Validate() error {
	if o.RecvBuffer < 0 {
		return fmt.Errorf("размер буфера не может быть отрицательным")
	}
	if o.DSCP < 0 || o.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0-63")
	}
	return nil
}

// applySocketOptions применяет настройки к открытому сокету
func applySocketOptions(conn syscall.Conn, opts SocketOptions) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applySockOpts(int(fd), opts)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}

	return sockOptErr
}

func applySockOpts(fd int, opts SocketOptions) error {
	recvBuf := opts.RecvBuffer
	if recvBuf == 0 {
		recvBuf = AudioRecvBuffer
	}
	if err := setSockOptRecvBuffer(fd, recvBuf); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", recvBuf, err)
	}

	if opts.DSCP > 0 {
		if err := setSockOptDSCP(fd, opts.DSCP); err != nil {
			return fmt.Errorf("ошибка установки DSCP: %w", err)
		}
	}

	if opts.ReusePort {
		if err := setSockOptReusePort(fd); err != nil {
			return fmt.Errorf("ошибка установки SO_REUSEPORT: %w", err)
		}
	}

	if opts.BindToDevice != "" {
		if err := setSockOptBindToDevice(fd, opts.BindToDevice); err != nil {
			return fmt.Errorf("ошибка привязки к устройству %s: %w", opts.BindToDevice, err)
		}
	}

	setSockOptAudioPriority(fd)
	return nil
}

// validatePacketSize проверяет размер пакета
func validatePacketSize(size int) error {
	if size < MinRTPPacketSize {
		return fmt.Errorf("пакет слишком мал: %d байт (минимум %d)", size, MinRTPPacketSize)
	}
	if size > MaxRTPPacketSize {
		return fmt.Errorf("пакет слишком велик: %d байт (максимум %d)", size, MaxRTPPacketSize)
	}
	return nil
}

// validateRTPHeader проверяет корректность RTP заголовка согласно RFC 3550
func validateRTPHeader(header *rtp.Header) error {
	if header.Version != ExpectedRTPVersion {
		return fmt.Errorf("неподдерживаемая версия RTP: %d (ожидается %d)", header.Version, ExpectedRTPVersion)
	}
	if header.PayloadType > 127 {
		return fmt.Errorf("невалидный payload type: %d (максимум 127)", header.PayloadType)
	}
	return nil
}

// NetworkErrorType определяет типы сетевых ошибок
type NetworkErrorType int

const (
	ErrorTypeTemporary  NetworkErrorType = iota // Временная ошибка (retry возможен)
	ErrorTypePermanent                          // Постоянная ошибка (retry бессмыслен)
	ErrorTypeTimeout                            // Таймаут (нормальное поведение)
	ErrorTypeConnection                         // Проблемы соединения
	ErrorTypeClosed                             // Транспорт закрыт
	ErrorTypeUnknown                            // Неклассифицированная ошибка
)

func (t NetworkErrorType) String() string {
	switch t {
	case ErrorTypeTemporary:
		return "temporary"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClassifiedError обертка для сетевых ошибок с дополнительной информацией
type ClassifiedError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s (type: %s, retryable: %t)",
		e.Operation, e.Err.Error(), e.Type, e.Retryable)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// classifyNetworkError анализирует сетевую ошибку и возвращает классифицированную версию
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Operation: operation,
		Err:       err,
		Type:      ErrorTypeUnknown,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, net.ErrClosed):
		classified.Type = ErrorTypeClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		classified.Type = ErrorTypeTimeout
		classified.Retryable = true
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		classified.Type = ErrorTypeTemporary
		classified.Retryable = true
	case containsAny(err.Error(), connectionErrors):
		classified.Type = ErrorTypeConnection
		classified.Retryable = true
	case containsAny(err.Error(), permanentErrors):
		classified.Type = ErrorTypePermanent
	}

	return classified
}

var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"network is unreachable",
	"host is unreachable",
	"no route to host",
}

var permanentErrors = []string{
	"invalid argument",
	"address family not supported",
	"permission denied",
	"operation not supported",
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// IsTimeout сообщает что чтение завершилось по таймауту и его можно повторить
func IsTimeout(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Type == ErrorTypeTimeout
}

// IsRetryable сообщает что операцию можно повторить
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Retryable
}

// IsClosed сообщает что транспорт закрыт локально
func IsClosed(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Type == ErrorTypeClosed {
		return true
	}
	return errors.Is(err, ErrTransportClosed) || errors.Is(err, net.ErrClosed)
}

// ErrTransportClosed возвращается операциями закрытого транспорта
var ErrTransportClosed = errors.New("транспорт не активен")

// TransportStatistics статистика приема транспорта
type TransportStatistics struct {
	PacketsReceived uint64    // Получено пакетов
	BytesReceived   uint64    // Получено байт
	PacketsInvalid  uint64    // Отброшено невалидных пакетов
	ErrorsReceive   uint64    // Ошибки получения
	LastActivity    time.Time // Последняя активность
	ConnectionTime  time.Time // Время открытия транспорта
	LocalAddr       string    // Локальный адрес
	RemoteAddr      string    // Адрес отправителя
	TransportType   string    // UDP или TCP
}

// GetUptime возвращает время работы транспорта
func (ts *TransportStatistics) GetUptime() time.Duration {
	if ts.ConnectionTime.IsZero() {
		return 0
	}
	return time.Since(ts.ConnectionTime)
}

// GetReceiveRate возвращает скорость получения в пакетах/сек
func (ts *TransportStatistics) GetReceiveRate() float64 {
	uptime := ts.GetUptime()
	if uptime == 0 {
		return 0
	}
	return float64(ts.PacketsReceived) / uptime.Seconds()
}

// receiveCounters счетчики приема, обновляемые без блокировки
type receiveCounters struct {
	packets      atomic.Uint64
	bytes        atomic.Uint64
	invalid      atomic.Uint64
	errors       atomic.Uint64
	lastActivity atomic.Int64
}

func (c *receiveCounters) received(n int) {
	c.packets.Add(1)
	c.bytes.Add(uint64(n))
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *receiveCounters) fill(stats *TransportStatistics) {
	stats.PacketsReceived = c.packets.Load()
	stats.BytesReceived = c.bytes.Load()
	stats.PacketsInvalid = c.invalid.Load()
	stats.ErrorsReceive = c.errors.Load()
	if ts := c.lastActivity.Load(); ts != 0 {
		stats.LastActivity = time.Unix(0, ts)
	}
}
