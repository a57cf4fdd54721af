package airplay

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// Проверка на соответствие интерфейсу во время компиляции
var _ Player = (*Session)(nil)

// SetupParams параметры команды SETUP, подготовленные управляющим каналом
type SetupParams struct {
	Transport Transport
	ClientIP  string
	Port      int
	Codec     Codec
	Format    string
	Key       []byte
	IV        []byte
}

// Session управляет приемом одного аудио потока AirPlay.
//
// Session связывает согласование формата, выделение порта, расчет позиции
// по RTP меткам и хранилище статуса:
//   - команды управляющего канала (Setup, Record, Flush, Teardown, SetProgress)
//   - асинхронные события конвейера (конец потока, ошибка)
//   - чтение статуса из любых горутин (GetStatus)
//
// Пример:
//
//	session, _ := NewSession(config)
//	port, err := session.Setup(ctx, SetupParams{
//	    Transport: TransportUDP,
//	    Port:      6000,
//	    Codec:     CodecALAC,
//	    Format:    "96 352 0 16 40 10 14 2 255 0 0 44100",
//	})
//	_ = session.Record(seq)
//	status := session.GetStatus()
//
// Все поля ниже mu защищены мьютексом сессии. Хранилище статуса имеет свой
// мьютекс, который всегда захватывается после mu.
type Session struct {
	id      string
	factory PipelineFactory
	logger  *slog.Logger
	metrics *Metrics
	status  *StatusStore

	mu           sync.Mutex
	machine      *fsm.FSM
	pipeline     Pipeline
	generation   uint64
	detach       chan struct{}
	watcherDone  chan struct{}
	transport    Transport
	codec        Codec
	format       Format
	port         int
	startRTPTime uint32
	disableSync  bool
}

// NewSession создает сессию в состоянии None без конвейера
func NewSession(config SessionConfig) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	id := config.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:          id,
		factory:     config.Factory,
		logger:      logger.With(slog.String("session_id", id)),
		metrics:     config.Metrics,
		status:      NewStatusStore(StateNone, config.Name),
		machine:     newSessionFSM(),
		disableSync: config.DisableSync,
		format: Format{
			SampleRate: DefaultSampleRate,
			Channels:   DefaultChannels,
		},
	}, nil
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// Port возвращает занятый порт приема или 0 если сессия не настроена
func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Format возвращает согласованный формат
func (s *Session) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Setup согласует формат, создает конвейер и занимает порт приема.
// Возвращает фактически занятый порт.
//
// Повторный Setup без Teardown отклоняется с ErrAlreadyActive.
// Если свободный порт не найден, конвейер освобождается и возвращается ErrPortExhausted.
func (s *Session) Setup(ctx context.Context, params SetupParams) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		s.metrics.setupResult("already_active")
		s.logger.Warn("Session.Setup rejected: pipeline already attached")
		return 0, NewError(ErrorCodeAlreadyActive, s.id, "конвейер уже создан").
			withContext("port", s.port)
	}

	if err := ValidatePort(params.Port); err != nil {
		s.metrics.setupResult("invalid_port")
		s.logger.Warn("Session.Setup rejected: invalid port", slog.Int("base_port", params.Port))
		if airErr, ok := err.(*Error); ok {
			airErr.SessionID = s.id
		}
		return 0, err
	}

	format := Negotiate(params.Codec, params.Format)

	pp := PipelineParams{
		SessionID:   s.id,
		Transport:   params.Transport,
		ClientIP:    params.ClientIP,
		Codec:       params.Codec,
		Format:      format,
		DisableSync: s.disableSync,
	}
	// Ключи передаются только в UDP конвейер, TCP работает без расшифровки
	if params.Transport == TransportUDP && len(params.Key) > 0 {
		pp.Key = bytes.Clone(params.Key)
		pp.IV = bytes.Clone(params.IV)
	}

	p, err := s.factory.Create(ctx, pp)
	if err != nil {
		s.metrics.setupResult("pipeline_error")
		s.logger.Error("Session.Setup pipeline create failed", slog.String("error", err.Error()))
		return 0, WrapError(ErrorCodePipelineCreate, s.id, "не удалось создать конвейер", err)
	}

	binding, err := AllocatePort(ctx, params.Port, p.Bind)
	s.metrics.portAttempts(binding.Attempts)
	if err != nil {
		if closeErr := p.Close(); closeErr != nil {
			s.logger.Debug("Session.Setup pipeline close failed", slog.String("error", closeErr.Error()))
		}
		if airErr, ok := err.(*Error); ok {
			airErr.SessionID = s.id
		}
		s.metrics.setupResult("port_exhausted")
		s.logger.Warn("Session.Setup no free port",
			slog.Int("base_port", params.Port),
			slog.Int("attempts", binding.Attempts))
		return 0, err
	}

	s.transport = params.Transport
	s.codec = params.Codec
	s.format = format
	s.port = binding.Port
	s.attachLocked(p)

	s.metrics.setupResult("ok")
	s.metrics.sessionAttached()
	s.logger.Debug("Session.Setup done",
		slog.String("transport", params.Transport.String()),
		slog.String("codec", params.Codec.String()),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels),
		slog.Int("port", binding.Port),
		slog.Int("attempts", binding.Attempts),
		slog.Bool("encrypted", len(pp.Key) > 0))

	return binding.Port, nil
}

// Record запускает воспроизведение
func (s *Session) Record(seq uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		s.logger.Warn("Session.Record rejected: not set up")
		return NewError(ErrorCodeNotSetUp, s.id, "RECORD без SETUP")
	}

	if err := s.pipeline.SetState(PipelinePlaying); err != nil {
		s.logger.Error("Session.Record pipeline start failed", slog.String("error", err.Error()))
		return WrapError(ErrorCodePipelineError, s.id, "не удалось запустить конвейер", err)
	}

	s.changeStateLocked(StatePlaying)
	s.logger.Debug("Session.Record", slog.Int("seq", int(seq)))
	return nil
}

// Flush переводит статус в Paused.
// Конвейер при этом не останавливается: FLUSH сбрасывает учет позиции, а не прием.
func (s *Session) Flush(seq uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		s.logger.Warn("Session.Flush rejected: not set up")
		return NewError(ErrorCodeNotSetUp, s.id, "FLUSH без SETUP")
	}

	s.changeStateLocked(StatePaused)
	s.logger.Debug("Session.Flush", slog.Int("seq", int(seq)))
	return nil
}

// Teardown останавливает и освобождает конвейер, статус переходит в None.
// Повторный вызов возвращает ErrNotSetUp.
func (s *Session) Teardown() error {
	s.mu.Lock()

	p := s.pipeline
	if p == nil {
		s.mu.Unlock()
		return NewError(ErrorCodeNotSetUp, s.id, "TEARDOWN без SETUP")
	}

	// Отключаем источник событий до остановки конвейера
	close(s.detach)
	done := s.watcherDone
	s.pipeline = nil
	s.detach = nil
	s.watcherDone = nil
	s.generation++
	s.port = 0

	if err := p.SetState(PipelineNull); err != nil {
		s.logger.Debug("Session.Teardown pipeline stop failed", slog.String("error", err.Error()))
	}
	if err := p.Close(); err != nil {
		s.logger.Debug("Session.Teardown pipeline close failed", slog.String("error", err.Error()))
	}

	s.changeStateLocked(StateNone)
	s.mu.Unlock()

	// Обработчик событий мог ждать мьютекс, поэтому ждем его без блокировки
	<-done

	s.metrics.sessionDetached()
	s.logger.Debug("Session.Teardown done")
	return nil
}

// Close освобождает конвейер, если он был создан
func (s *Session) Close() error {
	if err := s.Teardown(); err != nil && !HasErrorCode(err, ErrorCodeNotSetUp) {
		return err
	}
	return nil
}

// SetProgress задает прогресс трека по RTP меткам.
// Прогресс означает активное воспроизведение, поэтому состояние становится Playing.
func (s *Session) SetProgress(start, current, end uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startRTPTime = start
	position, duration := Progress(start, current, end, s.format.SampleRate)

	s.fireLocked(StatePlaying)
	s.status.Update(func(st *Status) {
		st.State = StatePlaying
		st.PositionMs = position
		st.DurationMs = duration
	})
}

// SetCover устанавливает обложку трека, если она еще не задана
func (s *Session) SetCover(cover []byte, coverType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.status.SetCover(cover, coverType)
	if !ok {
		s.logger.Debug("Session.SetCover ignored: cover already set")
	}
	return ok
}

// SetVolume передает громкость конвейеру, если он это поддерживает
func (s *Session) SetVolume(db float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setter, ok := s.pipeline.(VolumeSetter)
	if !ok {
		return nil
	}
	if err := setter.SetVolume(db); err != nil {
		return WrapError(ErrorCodePipelineError, s.id, "не удалось изменить громкость", err)
	}
	return nil
}

// DisableSync включает или отключает синхронизацию вывода.
// Применяется к конвейерам, созданным после вызова.
func (s *Session) DisableSync(disable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableSync = disable
}

// Play заменяет имя и теги текущего трека
func (s *Session) Play(name string, tags *Tags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.ReplaceTags(name, tags)
	return true
}

// SetState переводит плеер в Playing или Paused.
// Другие состояния командой не задаются: возвращается текущее состояние.
func (s *Session) SetState(state PlayerState) PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.status.Snapshot().State
	if s.pipeline == nil {
		return current
	}

	var target PipelineState
	switch state {
	case StatePlaying:
		target = PipelinePlaying
	case StatePaused:
		target = PipelinePaused
	default:
		return current
	}

	if err := s.pipeline.SetState(target); err != nil {
		s.logger.Error("Session.SetState pipeline failed",
			slog.String("state", state.String()),
			slog.String("error", err.Error()))
		return current
	}

	s.changeStateLocked(state)
	return state
}

// GetState возвращает текущее состояние плеера
func (s *Session) GetState() PlayerState {
	return s.status.Snapshot().State
}

// GetName возвращает имя текущего трека
func (s *Session) GetName() string {
	return s.status.Snapshot().Name
}

// GetPos возвращает позицию воспроизведения по RTP метке конвейера и длительность трека.
// Если конвейер не может сообщить метку, позиция равна 0.
func (s *Session) GetPos() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	position, _ := s.positionLocked()
	return position, s.status.Snapshot().DurationMs
}

// GetStatus обновляет позицию из конвейера и возвращает снимок статуса.
// Снимок можно читать без блокировок, он не меняется после возврата.
func (s *Session) GetStatus() *Status {
	s.mu.Lock()
	if position, ok := s.positionLocked(); ok && position != s.status.Snapshot().PositionMs {
		s.status.Update(func(st *Status) {
			st.PositionMs = position
		})
	}
	s.mu.Unlock()

	return s.status.Snapshot()
}

func (s *Session) positionLocked() (int64, bool) {
	if s.pipeline == nil {
		return 0, false
	}

	rtpTime, ok := s.pipeline.QueryRTPTime()
	if !ok {
		return 0, false
	}
	return RTPDeltaMs(s.startRTPTime, rtpTime, s.format.SampleRate), true
}

// attachLocked подключает конвейер и запускает обработчик его событий
func (s *Session) attachLocked(p Pipeline) {
	s.generation++
	s.pipeline = p
	s.detach = make(chan struct{})
	s.watcherDone = make(chan struct{})

	go s.watchEvents(p.Events(), s.generation, s.detach, s.watcherDone)
}

// watchEvents доставляет события конвейера до отключения
func (s *Session) watchEvents(events <-chan PipelineEvent, generation uint64, detach <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-detach:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(generation, ev)
		}
	}
}

func (s *Session) handleEvent(generation uint64, ev PipelineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Конвейер мог быть отключен, пока событие ждало блокировку
	if s.pipeline == nil || s.generation != generation {
		s.logger.Debug("Session event dropped: pipeline detached", slog.String("event", ev.Type.String()))
		return
	}

	s.metrics.pipelineEvent(ev.Type)

	switch ev.Type {
	case EventEndOfStream:
		if err := s.pipeline.SetState(PipelineNull); err != nil {
			s.logger.Debug("Session EOS pipeline stop failed", slog.String("error", err.Error()))
		}
		s.changeStateLocked(StateStopped)
		s.logger.Debug("Session end of stream")
	case EventError:
		s.fireLocked(StateError)
		s.status.SetError(ev.Message)
		s.logger.Error("Session pipeline error", slog.String("error", ev.Message))
	}
}

// changeStateLocked выполняет переход автомата и публикует новое состояние
func (s *Session) changeStateLocked(state PlayerState) {
	s.fireLocked(state)
	s.status.SetState(state)
}

func (s *Session) fireLocked(state PlayerState) {
	from, changed, err := fire(s.machine, state)
	if err != nil {
		s.logger.Warn("Session state transition failed",
			slog.String("from", from.String()),
			slog.String("to", state.String()),
			slog.String("error", err.Error()))
		return
	}
	if changed {
		s.metrics.transition(from, state)
	}
}
