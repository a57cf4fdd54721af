// Package pipeline реализует конвейер воспроизведения аудио потока RAOP.
//
// В UDP режиме конвейер принимает RTP пакеты, отбрасывает чужие и невалидные,
// ограничивает скорость приема, расшифровывает полезную нагрузку AES-128-CBC,
// упорядочивает пакеты в jitter буфере и передает кадры приемнику (Sink).
// В TCP режиме поток принимается целиком и передается приемнику без разбора.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/raop_receiver/pkg/airplay"
	rtpPkg "github.com/arzzra/raop_receiver/pkg/rtp"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Factory создает конвейеры для сессий
type Factory struct {
	config Config
}

// NewFactory создает фабрику конвейеров
func NewFactory(config Config) (*Factory, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "неверная конфигурация конвейера")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Factory{config: config}, nil
}

// Create создает конвейер для параметров сессии. Порт не занимается до Bind.
func (f *Factory) Create(ctx context.Context, params airplay.PipelineParams) (airplay.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newPipeline(f.config, params)
}

// Pipeline конвейер воспроизведения одной сессии
type Pipeline struct {
	params    airplay.PipelineParams
	config    Config
	logger    *slog.Logger
	metrics   *Metrics
	sink      Sink
	decrypter *payloadDecrypter
	limiter   *rate.Limiter
	jitter    *JitterBuffer
	source    *rtpPkg.SourceTracker
	clientIP  net.IP

	events chan airplay.PipelineEvent

	rtpTime    atomic.Uint32
	hasRTPTime atomic.Bool
	paused     atomic.Bool

	mutex  sync.Mutex
	state  airplay.PipelineState
	udp    *rtpPkg.UDPTransport
	tcp    *rtpPkg.TCPTransport
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func newPipeline(config Config, params airplay.PipelineParams) (*Pipeline, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		params:   params,
		config:   config,
		logger:   logger.With(slog.String("session_id", params.SessionID), slog.String("transport", params.Transport.String())),
		metrics:  config.Metrics,
		clientIP: net.ParseIP(params.ClientIP),
		events:   make(chan airplay.PipelineEvent, config.EventBuffer),
		state:    airplay.PipelineNull,
	}

	if params.Transport == airplay.TransportUDP {
		if len(params.Key) > 0 {
			decrypter, err := newPayloadDecrypter(params.Key, params.IV)
			if err != nil {
				return nil, errors.Wrap(err, "ошибка инициализации расшифровки")
			}
			p.decrypter = decrypter
		}

		latency := config.Latency
		if params.DisableSync {
			latency = 0
		}
		p.jitter = NewJitterBuffer(JitterBufferConfig{
			BufferSize: config.BufferPackets,
			Latency:    latency,
			ClockRate:  params.Format.SampleRate,
		})
		p.source = rtpPkg.NewSourceTracker(params.Format.SampleRate)

		if config.PacketRate > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(config.PacketRate), config.PacketBurst)
		}
	}

	sink, err := config.NewSink(params)
	if err != nil {
		return nil, errors.Wrap(err, "ошибка создания приемника")
	}
	p.sink = sink

	p.logger.Debug("Pipeline.Create",
		slog.String("codec", params.Codec.String()),
		slog.Int("sample_rate", params.Format.SampleRate),
		slog.Int("channels", params.Format.Channels),
		slog.Bool("encrypted", p.decrypter != nil),
		slog.Bool("disable_sync", params.DisableSync))

	return p, nil
}

// Bind занимает порт приема. Ошибка означает, что порт недоступен.
func (p *Pipeline) Bind(port int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return rtpPkg.ErrTransportClosed
	}
	if p.udp != nil || p.tcp != nil {
		return fmt.Errorf("конвейер уже привязан к порту %d", p.portLocked())
	}

	config := p.config.Transport
	config.LocalAddr = rtpPkg.ListenAddr(port)

	switch p.params.Transport {
	case airplay.TransportTCP:
		transport, err := rtpPkg.NewTCPTransport(config)
		if err != nil {
			return err
		}
		p.tcp = transport
	default:
		transport, err := rtpPkg.NewUDPTransport(config)
		if err != nil {
			return err
		}
		p.udp = transport
	}

	p.logger.Debug("Pipeline.Bind", slog.Int("port", p.portLocked()))
	return nil
}

// Port возвращает фактический порт приема (0 до Bind)
func (p *Pipeline) Port() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.portLocked()
}

func (p *Pipeline) portLocked() int {
	var addr net.Addr
	switch {
	case p.udp != nil:
		addr = p.udp.LocalAddr()
	case p.tcp != nil:
		addr = p.tcp.LocalAddr()
	}

	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.Port
	case *net.TCPAddr:
		return a.Port
	}
	return 0
}

// SetState переводит конвейер в указанное состояние.
// Playing запускает прием и воспроизведение, Paused останавливает выдачу кадров,
// Null останавливает все и освобождает порт.
func (p *Pipeline) SetState(state airplay.PipelineState) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed && state != airplay.PipelineNull {
		return rtpPkg.ErrTransportClosed
	}

	switch state {
	case airplay.PipelinePlaying:
		if p.udp == nil && p.tcp == nil {
			return errors.New("конвейер не привязан к порту")
		}
		p.paused.Store(false)
		if p.cancel == nil {
			p.startLocked()
		}

	case airplay.PipelinePaused:
		if p.udp == nil && p.tcp == nil {
			return errors.New("конвейер не привязан к порту")
		}
		p.paused.Store(true)

	case airplay.PipelineNull:
		p.stopLocked()

	default:
		return fmt.Errorf("неизвестное состояние конвейера: %d", state)
	}

	if p.state != state {
		p.logger.Debug("Pipeline.SetState",
			slog.String("from", p.state.String()),
			slog.String("to", state.String()))
	}
	p.state = state
	return nil
}

// QueryRTPTime возвращает RTP timestamp последнего воспроизведенного кадра
func (p *Pipeline) QueryRTPTime() (uint32, bool) {
	if !p.hasRTPTime.Load() {
		return 0, false
	}
	return p.rtpTime.Load(), true
}

// Events возвращает канал асинхронных событий.
// Канал закрывается в Close.
func (p *Pipeline) Events() <-chan airplay.PipelineEvent {
	return p.events
}

// SourceStatistics возвращает статистику приема от отправителя (только UDP)
func (p *Pipeline) SourceStatistics() rtpPkg.SourceStatistics {
	if p.source == nil {
		return rtpPkg.SourceStatistics{}
	}
	return p.source.Statistics()
}

// SetVolume передает громкость приемнику
func (p *Pipeline) SetVolume(db float64) error {
	return p.sink.SetVolume(db)
}

// Close останавливает конвейер и освобождает ресурсы
func (p *Pipeline) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}

	p.stopLocked()
	p.closed = true
	close(p.events)

	if err := p.sink.Close(); err != nil {
		return errors.Wrap(err, "ошибка закрытия приемника")
	}
	return nil
}

func (p *Pipeline) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if p.udp != nil {
		p.wg.Add(2)
		go p.receiveLoop(ctx, p.udp)
		go p.playoutLoop(ctx)
		return
	}

	p.wg.Add(1)
	go p.streamLoop(ctx, p.tcp)
}

// stopLocked останавливает циклы и закрывает транспорт.
// Циклы не захватывают p.mutex, поэтому ожидание под блокировкой безопасно.
func (p *Pipeline) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	if p.udp != nil {
		stats := p.udp.Statistics()
		p.logger.Debug("Pipeline.stop",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_invalid", stats.PacketsInvalid),
			slog.Uint64("bytes_received", stats.BytesReceived))
		p.udp.Close()
		p.udp = nil
	}
	if p.tcp != nil {
		stats := p.tcp.Statistics()
		p.logger.Debug("Pipeline.stop",
			slog.Uint64("bytes_received", stats.BytesReceived),
			slog.String("remote_addr", stats.RemoteAddr))
		p.tcp.Close()
		p.tcp = nil
	}

	p.wg.Wait()

	if p.source != nil {
		stats := p.source.Statistics()
		p.logger.Debug("Pipeline.stop source",
			slog.Uint64("ssrc", uint64(stats.SSRC)),
			slog.Int64("packets_lost", stats.PacketsLost),
			slog.Float64("jitter_ms", stats.JitterMs),
			slog.Uint64("resets", stats.Resets))
		p.source.Reset()
	}
	if p.jitter != nil {
		p.jitter.Reset()
	}
	p.hasRTPTime.Store(false)
	p.paused.Store(false)
}

func (p *Pipeline) receiveLoop(ctx context.Context, transport rtpPkg.Transport) {
	defer p.wg.Done()

	for {
		packet, addr, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || rtpPkg.IsClosed(err) {
				return
			}
			if rtpPkg.IsRetryable(err) {
				continue
			}

			var classified *rtpPkg.ClassifiedError
			if errors.As(err, &classified) {
				p.logger.Error("Pipeline.receiveLoop: ошибка приема", slog.String("error", err.Error()))
				p.emit(ctx, airplay.EventError, err.Error())
				return
			}

			p.metrics.packetDropped(dropInvalid)
			continue
		}

		p.handlePacket(packet, addr)
	}
}

func (p *Pipeline) handlePacket(packet *rtp.Packet, addr net.Addr) {
	if p.clientIP != nil {
		if udpAddr, ok := addr.(*net.UDPAddr); ok && !udpAddr.IP.Equal(p.clientIP) {
			p.metrics.packetDropped(dropForeign)
			return
		}
	}

	if packet.PayloadType != p.config.PayloadType {
		p.metrics.packetDropped(dropPayloadType)
		return
	}

	if p.limiter != nil && !p.limiter.Allow() {
		p.metrics.packetDropped(dropRateLimited)
		return
	}

	if p.decrypter != nil {
		p.decrypter.Decrypt(packet.Payload)
	}

	now := time.Now()
	p.source.Update(packet, now)
	p.metrics.packetReceived()
	p.metrics.sourceJitter(p.source.Statistics().JitterMs)
	if err := p.jitter.Put(packet, now); err != nil {
		p.metrics.packetDropped(dropLate)
	}
}

func (p *Pipeline) playoutLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PlayoutInterval)
	defer ticker.Stop()

	buffered := 0
	defer func() { p.metrics.buffered(-buffered) }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !p.paused.Load() {
			var packets []*rtp.Packet
			if p.params.DisableSync {
				packets = p.jitter.PopAll()
			} else {
				packets = p.jitter.PopReady(time.Now())
			}

			for _, packet := range packets {
				if !p.deliver(ctx, packet) {
					return
				}
			}
		}

		n := p.jitter.Len()
		p.metrics.buffered(n - buffered)
		buffered = n
	}
}

// deliver передает кадр приемнику. Возвращает false, если поток завершен.
func (p *Pipeline) deliver(ctx context.Context, packet *rtp.Packet) bool {
	err := p.sink.WriteFrame(Frame{
		Sequence:  packet.SequenceNumber,
		Timestamp: packet.Timestamp,
		Payload:   packet.Payload,
	})

	switch {
	case err == nil:
		p.rtpTime.Store(packet.Timestamp)
		p.hasRTPTime.Store(true)
		p.metrics.framePlayed()
		return true
	case errors.Is(err, ErrEndOfStream):
		p.logger.Debug("Pipeline.deliver: конец потока")
		p.emit(ctx, airplay.EventEndOfStream, "")
		return false
	default:
		p.logger.Error("Pipeline.deliver: ошибка приемника", slog.String("error", err.Error()))
		p.emit(ctx, airplay.EventError, err.Error())
		return false
	}
}

func (p *Pipeline) streamLoop(ctx context.Context, transport *rtpPkg.TCPTransport) {
	defer p.wg.Done()

	stream, err := transport.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil || rtpPkg.IsClosed(err) {
			return
		}
		p.logger.Error("Pipeline.streamLoop: ошибка приема соединения", slog.String("error", err.Error()))
		p.emit(ctx, airplay.EventError, err.Error())
		return
	}
	defer stream.Close()

	n, err := io.Copy(frameWriter{sink: p.sink}, stream)
	p.metrics.streamed(n)

	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil, errors.Is(err, ErrEndOfStream):
		// Отправитель закрыл соединение
		p.logger.Debug("Pipeline.streamLoop: конец потока", slog.Int64("bytes", n))
		p.emit(ctx, airplay.EventEndOfStream, "")
	default:
		p.logger.Error("Pipeline.streamLoop: ошибка чтения потока", slog.String("error", err.Error()))
		p.emit(ctx, airplay.EventError, err.Error())
	}
}

// emit доставляет событие сессии. Если буфер событий заполнен, ждет читателя
// до остановки конвейера (отмены ctx).
func (p *Pipeline) emit(ctx context.Context, eventType airplay.PipelineEventType, message string) {
	ev := airplay.PipelineEvent{Type: eventType, Message: message}
	select {
	case p.events <- ev:
		return
	default:
	}

	p.logger.Debug("Pipeline.emit: канал событий заполнен, ожидание читателя",
		slog.String("type", eventType.String()))
	select {
	case p.events <- ev:
	case <-ctx.Done():
		p.logger.Warn("Pipeline.emit: конвейер остановлен, событие не доставлено",
			slog.String("type", eventType.String()))
	}
}
