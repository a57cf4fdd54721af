package pipeline

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/raop_receiver/pkg/airplay"
)

func newTestSession(t *testing.T, env *testEnv) *airplay.Session {
	t.Helper()

	config := airplay.DefaultSessionConfig()
	config.Factory = env.factory
	config.DisableSync = true

	session, err := airplay.NewSession(config)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSessionWithUDPPipeline(t *testing.T) {
	env := newTestEnv(t)
	session := newTestSession(t, env)

	busy, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer busy.Close()
	base := busy.LocalAddr().(*net.UDPAddr).Port

	port, err := session.Setup(context.Background(), airplay.SetupParams{
		Transport: airplay.TransportUDP,
		ClientIP:  "127.0.0.1",
		Port:      base,
		Codec:     airplay.CodecALAC,
		Format:    "96 352 0 16 40 10 14 2 255 0 0 44100",
	})
	require.NoError(t, err)
	assert.NotEqual(t, base, port)
	assert.Equal(t, 0, (port-base)%airplay.PortStride)

	require.NoError(t, session.Record(1))
	session.SetProgress(1000, 1000, 1000+44100*10)

	sendPackets(t, port, testPacket(1, 1000), testPacket(2, 1000+44100))

	require.Eventually(t, func() bool {
		return session.GetStatus().PositionMs == 1000
	}, 2*time.Second, 5*time.Millisecond)

	st := session.GetStatus()
	assert.Equal(t, airplay.StatePlaying, st.State)
	assert.Equal(t, int64(10000), st.DurationMs)

	require.NoError(t, session.SetVolume(-20))
	assert.Equal(t, -20.0, env.sink.volume)

	require.NoError(t, session.Teardown())
	assert.Equal(t, airplay.StateNone, session.GetState())
	assert.True(t, env.sink.closed)

	// Порт освобожден
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	require.NoError(t, err)
	conn.Close()
}

func TestSessionPipelineEndOfStream(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = ErrEndOfStream
	env.sink.failOn = 1
	session := newTestSession(t, env)

	port, err := session.Setup(context.Background(), airplay.SetupParams{
		Transport: airplay.TransportUDP,
		Port:      freeUDPPort(t),
		Codec:     airplay.CodecPCM,
		Format:    "96 16 44100 2",
	})
	require.NoError(t, err)
	require.NoError(t, session.Record(1))

	sendPackets(t, port, testPacket(1, 1000))

	require.Eventually(t, func() bool {
		return session.GetState() == airplay.StateStopped
	}, 2*time.Second, 5*time.Millisecond)
}

func freeUDPPort(t *testing.T) int {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}
