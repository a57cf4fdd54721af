// Package rtp содержит приемные транспорты аудио потока AirPlay (RAOP).
//
// UDP транспорт принимает RTP пакеты и валидирует их согласно RFC 3550,
// TCP транспорт принимает одно потоковое соединение от отправителя.
// Оба транспорта настраивают сокеты под потоковое аудио (см. transport_socket_*.go).
package rtp

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pion/rtp"
)

// Transport определяет интерфейс приема RTP пакетов
// Используется конвейером воспроизведения для UDP режима
type Transport interface {
	// Receive получает RTP пакет с указанием источника
	Receive(ctx context.Context) (*rtp.Packet, net.Addr, error)

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// Statistics возвращает снимок статистики приема
	Statistics() TransportStatistics

	// Close закрывает транспорт
	Close() error

	// IsActive проверяет активность транспорта
	IsActive() bool
}

// TransportConfig базовая конфигурация для транспорта
type TransportConfig struct {
	LocalAddr      string        // Локальный адрес для привязки
	BufferSize     int           // Размер буфера для чтения
	ReceiveTimeout time.Duration // Таймаут одного чтения
	Socket         SocketOptions // Системные настройки сокета
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BufferSize:     DefaultBufferSize,
		ReceiveTimeout: DefaultReceiveTimeout,
		Socket: SocketOptions{
			DSCP: DSCPAudioVideo,
		},
	}
}

// ListenAddr возвращает адрес привязки ко всем интерфейсам для порта
func ListenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}
