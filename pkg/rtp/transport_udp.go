package rtp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// UDPTransport реализует Transport для приема RTP по UDP
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig
	opened     time.Time
	counters   receiveCounters

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport создает UDP транспорт, привязанный к config.LocalAddr
func NewUDPTransport(config TransportConfig) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.ReceiveTimeout == 0 {
		config.ReceiveTimeout = DefaultReceiveTimeout
	}
	if err := config.Socket.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация сокета: %w", err)
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	if err := applySocketOptions(conn, config.Socket); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	return &UDPTransport{
		conn:   conn,
		config: config,
		opened: time.Now(),
		active: true,
	}, nil
}

// Receive получает RTP пакет по UDP.
// Таймаут чтения возвращается как ClassifiedError с типом ErrorTypeTimeout.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	timeout := t.config.ReceiveTimeout
	t.mutex.RUnlock()

	if !active {
		return nil, nil, ErrTransportClosed
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)
	conn.SetReadDeadline(time.Now().Add(timeout))

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		classified := classifyNetworkError("UDP read", err)
		if !IsTimeout(classified) {
			t.counters.errors.Add(1)
		}
		return nil, nil, classified
	}

	if err := validatePacketSize(n); err != nil {
		t.counters.invalid.Add(1)
		return nil, addr, fmt.Errorf("невалидный размер пакета: %w", err)
	}

	// Отправителем считается источник первого пакета
	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buffer[:n]); err != nil {
		t.counters.invalid.Add(1)
		return nil, addr, fmt.Errorf("ошибка демаршалинга RTP пакета: %w", err)
	}

	if err := validateRTPHeader(&packet.Header); err != nil {
		t.counters.invalid.Add(1)
		return nil, addr, fmt.Errorf("невалидный RTP заголовок: %w", err)
	}

	t.counters.received(n)
	return packet, addr, nil
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает адрес отправителя (после первого пакета)
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// Statistics возвращает снимок статистики
func (t *UDPTransport) Statistics() TransportStatistics {
	stats := TransportStatistics{
		ConnectionTime: t.opened,
		TransportType:  "UDP",
	}
	if addr := t.LocalAddr(); addr != nil {
		stats.LocalAddr = addr.String()
	}
	if addr := t.RemoteAddr(); addr != nil {
		stats.RemoteAddr = addr.String()
	}
	t.counters.fill(&stats)
	return stats
}

// Close закрывает транспорт
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}
