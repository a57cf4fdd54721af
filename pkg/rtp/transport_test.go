package rtp

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalUDP(t *testing.T) *UDPTransport {
	t.Helper()

	config := DefaultTransportConfig()
	config.LocalAddr = "127.0.0.1:0"
	config.ReceiveTimeout = 50 * time.Millisecond

	transport, err := NewUDPTransport(config)
	require.NoError(t, err)
	t.Cleanup(func() { transport.Close() })
	return transport
}

func sendRaw(t *testing.T, to net.Addr, data []byte) {
	t.Helper()

	conn, err := net.Dial("udp", to.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(data)
	require.NoError(t, err)
}

func marshalPacket(t *testing.T, seq uint16, ts uint32, payload []byte) []byte {
	t.Helper()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0x1234,
		},
		Payload: payload,
	}
	data, err := packet.Marshal()
	require.NoError(t, err)
	return data
}

// receiveNext читает пакеты пропуская таймауты
func receiveNext(t *testing.T, transport Transport) (*rtp.Packet, net.Addr, error) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		packet, addr, err := transport.Receive(context.Background())
		if IsTimeout(err) {
			continue
		}
		return packet, addr, err
	}
	t.Fatal("пакет не получен")
	return nil, nil, nil
}

func TestUDPTransportReceive(t *testing.T) {
	transport := newLocalUDP(t)

	sendRaw(t, transport.LocalAddr(), marshalPacket(t, 7, 44100, []byte{1, 2, 3, 4}))

	packet, addr, err := receiveNext(t, transport)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), packet.SequenceNumber)
	assert.Equal(t, uint32(44100), packet.Timestamp)
	assert.Equal(t, []byte{1, 2, 3, 4}, packet.Payload)
	assert.NotNil(t, addr)

	assert.Equal(t, addr.String(), transport.RemoteAddr().String())

	stats := transport.Statistics()
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(16), stats.BytesReceived)
	assert.Equal(t, "UDP", stats.TransportType)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestUDPTransportInvalidPackets(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{
			name: "слишком короткий",
			data: func(*testing.T) []byte { return []byte{0x80, 0x60, 0x00} },
		},
		{
			name: "версия RTP 1",
			data: func(t *testing.T) []byte {
				data := marshalPacket(t, 1, 1, []byte{0})
				data[0] = (data[0] & 0x3f) | 0x40
				return data
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newLocalUDP(t)
			sendRaw(t, transport.LocalAddr(), tt.data(t))

			_, _, err := receiveNext(t, transport)
			require.Error(t, err)
			assert.False(t, IsTimeout(err))
			assert.Equal(t, uint64(1), transport.Statistics().PacketsInvalid)
			assert.Equal(t, uint64(0), transport.Statistics().PacketsReceived)
		})
	}
}

func TestUDPTransportTimeoutAndCancel(t *testing.T) {
	transport := newLocalUDP(t)

	_, _, err := transport.Receive(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, uint64(0), transport.Statistics().ErrorsReceive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = transport.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUDPTransportClose(t *testing.T) {
	transport := newLocalUDP(t)

	require.NoError(t, transport.Close())
	assert.False(t, transport.IsActive())
	require.NoError(t, transport.Close())

	_, _, err := transport.Receive(context.Background())
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, IsClosed(err))
}

func TestUDPTransportPortBusy(t *testing.T) {
	first := newLocalUDP(t)

	config := DefaultTransportConfig()
	config.LocalAddr = first.LocalAddr().String()

	_, err := NewUDPTransport(config)
	require.Error(t, err)
}

func TestUDPTransportInvalidConfig(t *testing.T) {
	_, err := NewUDPTransport(TransportConfig{LocalAddr: "invalid-address:port"})
	require.Error(t, err)

	_, err = NewUDPTransport(TransportConfig{
		LocalAddr: "127.0.0.1:0",
		Socket:    SocketOptions{DSCP: 64},
	})
	require.Error(t, err)
}

func TestTCPTransportAccept(t *testing.T) {
	config := DefaultTransportConfig()
	config.LocalAddr = "127.0.0.1:0"

	transport, err := NewTCPTransport(config)
	require.NoError(t, err)
	defer transport.Close()

	go func() {
		conn, err := net.Dial("tcp", transport.LocalAddr().String())
		if err != nil {
			return
		}
		conn.Write([]byte("hello"))
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := transport.Accept(ctx)
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	stats := transport.Statistics()
	assert.Equal(t, uint64(5), stats.BytesReceived)
	assert.Equal(t, "TCP", stats.TransportType)
	assert.NotEmpty(t, stats.RemoteAddr)
}

func TestTCPTransportAcceptCancelled(t *testing.T) {
	config := DefaultTransportConfig()
	config.LocalAddr = "127.0.0.1:0"
	config.ReceiveTimeout = 20 * time.Millisecond

	transport, err := NewTCPTransport(config)
	require.NoError(t, err)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = transport.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, transport.Close())
	_, err = transport.Accept(context.Background())
	assert.ErrorIs(t, err, ErrTransportClosed)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  NetworkErrorType
		retryable bool
	}{
		{"timeout", timeoutErr{}, ErrorTypeTimeout, true},
		{"closed", net.ErrClosed, ErrorTypeClosed, false},
		{"eintr", syscall.EINTR, ErrorTypeTemporary, true},
		{"refused", errors.New("read: connection refused"), ErrorTypeConnection, true},
		{"permission", errors.New("bind: permission denied"), ErrorTypePermanent, false},
		{"other", errors.New("something"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyNetworkError("op", tt.err)

			var ce *ClassifiedError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantType, ce.Type)
			assert.Equal(t, tt.retryable, ce.Retryable)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.wantType.String())
		})
	}

	assert.NoError(t, classifyNetworkError("op", nil))
}

func TestValidatePacket(t *testing.T) {
	assert.Error(t, validatePacketSize(MinRTPPacketSize-1))
	assert.NoError(t, validatePacketSize(MinRTPPacketSize))
	assert.NoError(t, validatePacketSize(MaxRTPPacketSize))
	assert.Error(t, validatePacketSize(MaxRTPPacketSize+1))

	assert.NoError(t, validateRTPHeader(&rtp.Header{Version: 2, PayloadType: 96}))
	assert.Error(t, validateRTPHeader(&rtp.Header{Version: 1, PayloadType: 96}))
	assert.Error(t, validateRTPHeader(&rtp.Header{Version: 2, PayloadType: 200}))
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, ":6000", ListenAddr(6000))
}
