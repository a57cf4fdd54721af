// Package statusapi предоставляет HTTP интерфейс наблюдения за сессией приемника:
// снимок статуса, обложку текущего трека, websocket ленту изменений и метрики.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/raop_receiver/pkg/airplay"
)

// Тип сообщения websocket ленты
const messageTypeStatus = "status"

const shutdownTimeout = 5 * time.Second

// StatusSource источник статуса (airplay.Session)
type StatusSource interface {
	GetStatus() *airplay.Status
}

// StatusView JSON представление статуса. Байты обложки не включаются.
type StatusView struct {
	*airplay.Status
	HasCover bool `json:"has_cover"`
}

// NewStatusView строит представление статуса
func NewStatusView(st *airplay.Status) StatusView {
	return StatusView{
		Status:   st,
		HasCover: st != nil && st.Tags != nil && len(st.Tags.Cover) > 0,
	}
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server HTTP сервер статуса
type Server struct {
	source  StatusSource
	config  Config
	logger  *slog.Logger
	hub     *wsHub
	handler http.Handler
}

// NewServer создает сервер и запускает websocket hub
func NewServer(source StatusSource, config Config) (*Server, error) {
	if source == nil {
		return nil, errors.New("источник статуса не задан")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		source: source,
		config: config,
		logger: config.Logger.With(slog.String("component", "statusapi")),
	}
	s.hub = newWSHub(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /status/cover", s.handleCover)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	handler = rateLimitMiddleware(config.RequestRate, config.RequestBurst, handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = recoveryMiddleware(s.logger, handler)
	s.handler = handler

	go s.hub.run()
	return s, nil
}

// Handler возвращает корневой обработчик сервера
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run слушает config.Addr и обслуживает запросы до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает запросы на ln до отмены ctx, затем корректно останавливает
// HTTP сервер и отключает websocket клиентов.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watch(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server.Serve", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// watch опрашивает источник и рассылает статус при смене ревизии
func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var last uint64
	sent := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := s.source.GetStatus()
		if st == nil || (sent && st.Revision == last) {
			continue
		}
		last, sent = st.Revision, true
		s.hub.Broadcast(messageTypeStatus, NewStatusView(st))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStatusView(s.source.GetStatus()))
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	st := s.source.GetStatus()
	if st == nil || st.Tags == nil || len(st.Tags.Cover) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "cover not set")
		return
	}

	contentType := st.Tags.CoverType
	if contentType == "" {
		contentType = http.DetectContentType(st.Tags.Cover)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(st.Tags.Cover)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}

	// Новый клиент сразу получает текущий статус
	if payload, err := encodeMessage(messageTypeStatus, NewStatusView(s.source.GetStatus())); err == nil {
		client.send <- payload
	}

	if !s.hub.join(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
