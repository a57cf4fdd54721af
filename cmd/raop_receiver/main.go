package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arzzra/raop_receiver/pkg/airplay"
	"github.com/arzzra/raop_receiver/pkg/discovery"
	"github.com/arzzra/raop_receiver/pkg/pipeline"
	"github.com/arzzra/raop_receiver/pkg/statusapi"
)

// options параметры командной строки
type options struct {
	name        string
	rtspPort    int
	basePort    int
	httpAddr    string
	sdpFile     string
	clientIP    string
	aesKey      string
	tcp         bool
	disableSync bool
	noMDNS      bool
	debug       bool
}

func main() {
	opts := parseOptions()

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("raop_receiver", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func parseOptions() options {
	var opts options
	flag.StringVar(&opts.name, "name", getEnv("RAOP_NAME", "AirPlay"), "Имя приемника в сети")
	flag.IntVar(&opts.rtspPort, "rtsp-port", getEnvInt("RAOP_PORT", 5000), "Порт управляющего канала для объявления в mDNS")
	flag.IntVar(&opts.basePort, "port", 6000, "Базовый порт приема аудио")
	flag.StringVar(&opts.httpAddr, "http", getEnv("RAOP_HTTP_ADDR", statusapi.DefaultAddr), "Адрес HTTP сервера статуса")
	flag.StringVar(&opts.sdpFile, "sdp", "", "Файл с SDP телом ANNOUNCE для немедленного SETUP")
	flag.StringVar(&opts.clientIP, "client", "", "IP отправителя (пусто = любой)")
	flag.StringVar(&opts.aesKey, "aes-key", "", "Расшифрованный AES ключ сессии в hex")
	flag.BoolVar(&opts.tcp, "tcp", false, "Принимать поток по TCP")
	flag.BoolVar(&opts.disableSync, "disable-sync", false, "Выводить кадры без синхронизации")
	flag.BoolVar(&opts.noMDNS, "no-mdns", false, "Не объявлять сервис через mDNS")
	flag.BoolVar(&opts.debug, "debug", false, "Подробный лог")
	flag.Parse()
	return opts
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipelineConfig := pipeline.DefaultConfig()
	pipelineConfig.Logger = logger
	pipelineConfig.Metrics = pipeline.NewMetrics(reg)
	factory, err := pipeline.NewFactory(pipelineConfig)
	if err != nil {
		return fmt.Errorf("конвейер: %w", err)
	}

	sessionConfig := airplay.DefaultSessionConfig()
	sessionConfig.Name = opts.name
	sessionConfig.DisableSync = opts.disableSync
	sessionConfig.Factory = factory
	sessionConfig.Logger = logger
	sessionConfig.Metrics = airplay.NewMetrics(reg)
	session, err := airplay.NewSession(sessionConfig)
	if err != nil {
		return fmt.Errorf("сессия: %w", err)
	}
	defer session.Close()

	if !opts.noMDNS {
		advertiser, err := discovery.NewMDNSAdvertiser(discoveryConfig(logger))
		if err != nil {
			return fmt.Errorf("mdns: %w", err)
		}
		defer advertiser.Close()

		svc, err := advertiser.Advertise(opts.name, opts.rtspPort, discovery.DefaultTXTRecords())
		if err != nil {
			return fmt.Errorf("mdns: %w", err)
		}
		logger.Info("Сервис объявлен", slog.String("instance", svc.Instance), slog.Int("port", svc.Port))
	}

	if opts.sdpFile != "" {
		if err := setupFromSDP(ctx, session, opts); err != nil {
			return err
		}
	}

	apiConfig := statusapi.DefaultConfig()
	apiConfig.Addr = opts.httpAddr
	apiConfig.Gatherer = reg
	apiConfig.Logger = logger
	api, err := statusapi.NewServer(session, apiConfig)
	if err != nil {
		return fmt.Errorf("statusapi: %w", err)
	}

	return api.Run(ctx)
}

func discoveryConfig(logger *slog.Logger) discovery.Config {
	config := discovery.DefaultConfig()
	config.HardwareAddr = discovery.HardwareAddr()
	config.Logger = logger
	return config
}

// setupFromSDP выполняет SETUP и RECORD по сохраненному телу ANNOUNCE
func setupFromSDP(ctx context.Context, session *airplay.Session, opts options) error {
	body, err := os.ReadFile(opts.sdpFile)
	if err != nil {
		return fmt.Errorf("чтение SDP: %w", err)
	}
	announce, err := airplay.ParseAnnounce(body)
	if err != nil {
		return err
	}

	transport := airplay.TransportUDP
	if opts.tcp {
		transport = airplay.TransportTCP
	}

	var decrypt airplay.KeyDecrypter
	if opts.aesKey != "" {
		key, err := hex.DecodeString(opts.aesKey)
		if err != nil {
			return fmt.Errorf("невалидный aes-key: %w", err)
		}
		decrypt = func([]byte) ([]byte, error) { return key, nil }
	}

	params, err := announce.SetupParams(transport, opts.clientIP, opts.basePort, decrypt)
	if err != nil {
		return err
	}

	port, err := session.Setup(ctx, params)
	if err != nil {
		return err
	}
	session.Play(announce.SessionName, nil)
	if err := session.Record(0); err != nil {
		return err
	}

	slog.Info("Прием аудио",
		slog.String("transport", transport.String()),
		slog.String("codec", params.Codec.String()),
		slog.Int("port", port))
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
