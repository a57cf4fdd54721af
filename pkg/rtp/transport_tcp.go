package rtp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCPTransport принимает потоковое соединение отправителя в TCP режиме RAOP.
// Принимается одно соединение; данные читаются как непрерывный поток байт.
type TCPTransport struct {
	listener *net.TCPListener
	conn     *net.TCPConn
	config   TransportConfig
	opened   time.Time
	counters receiveCounters

	active bool
	mutex  sync.RWMutex
}

// NewTCPTransport создает TCP транспорт, слушающий config.LocalAddr
func NewTCPTransport(config TransportConfig) (*TCPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.ReceiveTimeout == 0 {
		config.ReceiveTimeout = DefaultReceiveTimeout
	}
	if err := config.Socket.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация сокета: %w", err)
	}

	localAddr, err := net.ResolveTCPAddr("tcp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}

	listener, err := net.ListenTCP("tcp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания TCP слушателя: %w", err)
	}

	return &TCPTransport{
		listener: listener,
		config:   config,
		opened:   time.Now(),
		active:   true,
	}, nil
}

// Accept ожидает соединение отправителя.
// Ожидание прерывается отменой контекста или закрытием транспорта.
func (t *TCPTransport) Accept(ctx context.Context) (io.ReadCloser, error) {
	t.mutex.RLock()
	active := t.active
	listener := t.listener
	timeout := t.config.ReceiveTimeout
	t.mutex.RUnlock()

	if !active {
		return nil, ErrTransportClosed
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		listener.SetDeadline(time.Now().Add(timeout))
		conn, err := listener.AcceptTCP()
		if err != nil {
			classified := classifyNetworkError("TCP accept", err)
			if IsTimeout(classified) {
				continue
			}
			t.counters.errors.Add(1)
			return nil, classified
		}

		if err := applySocketOptions(conn, t.config.Socket); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
		}

		t.mutex.Lock()
		if !t.active {
			t.mutex.Unlock()
			conn.Close()
			return nil, ErrTransportClosed
		}
		t.conn = conn
		t.mutex.Unlock()

		return &countingConn{conn: conn, counters: &t.counters}, nil
	}
}

// LocalAddr возвращает адрес слушателя
func (t *TCPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// RemoteAddr возвращает адрес принятого отправителя
func (t *TCPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// Statistics возвращает снимок статистики
func (t *TCPTransport) Statistics() TransportStatistics {
	stats := TransportStatistics{
		ConnectionTime: t.opened,
		TransportType:  "TCP",
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

// Close закрывает слушатель и принятое соединение
func (t *TCPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false

	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	if lerr := t.listener.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// IsActive проверяет активность транспорта
func (t *TCPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// countingConn считает принятые байты. Только Read и Close,
// чтобы io.Copy не обходил подсчет через WriteTo
type countingConn struct {
	conn     *net.TCPConn
	counters *receiveCounters
}

func (c *countingConn) Close() error {
	return c.conn.Close()
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n > 0 {
		c.counters.bytes.Add(uint64(n))
		c.counters.lastActivity.Store(time.Now().UnixNano())
	}
	if err != nil && err != io.EOF {
		c.counters.errors.Add(1)
	}
	return n, err
}
