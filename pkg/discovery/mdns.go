package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/hashicorp/mdns"
)

// Config параметры mDNS публикации
type Config struct {
	HardwareAddr net.HardwareAddr // MAC для имени сервиса (nil = определить по интерфейсам)
	Domain       string           // Домен (по умолчанию local.)
	HostName     string           // FQDN хоста (пусто = имя системы)
	IPs          []net.IP         // Адреса в A/AAAA записях (пусто = по имени хоста)
	Interface    *net.Interface   // Интерфейс для multicast (nil = по умолчанию)
	Logger       *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Domain: DefaultDomain,
		Logger: slog.Default(),
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.HardwareAddr != nil && len(c.HardwareAddr) != 6 {
		return fmt.Errorf("ожидается MAC адрес из 6 байт, получено %d", len(c.HardwareAddr))
	}
	return nil
}

// server запущенный mDNS ответчик
type server interface {
	Shutdown() error
}

type serverFactory func(zone *mdns.MDNSService, config Config) (server, error)

// MDNSAdvertiser публикует сервисы через hashicorp/mdns.
// Для каждого сервиса запускается отдельный ответчик.
type MDNSAdvertiser struct {
	config    Config
	logger    *slog.Logger
	newServer serverFactory

	mu       sync.Mutex
	services map[*Service]struct{}
	closed   bool
}

// Проверка на соответствие интерфейсу во время компиляции
var _ Advertiser = (*MDNSAdvertiser)(nil)

// NewMDNSAdvertiser создает публикатор
func NewMDNSAdvertiser(config Config) (*MDNSAdvertiser, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HardwareAddr == nil {
		config.HardwareAddr = HardwareAddr()
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &MDNSAdvertiser{
		config:    config,
		logger:    config.Logger.With(slog.String("component", "discovery")),
		newServer: startServer,
		services:  make(map[*Service]struct{}),
	}, nil
}

func startServer(zone *mdns.MDNSService, config Config) (server, error) {
	return mdns.NewServer(&mdns.Config{
		Zone:   zone,
		Iface:  config.Interface,
		Logger: slog.NewLogLogger(config.Logger.Handler(), slog.LevelDebug),
	})
}

// Advertise публикует сервис с указанным именем и портом
func (a *MDNSAdvertiser) Advertise(name string, port int, txt []string) (*Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("публикатор закрыт")
	}

	svc := &Service{
		Name: name,
		Port: port,
		TXT:  append([]string(nil), txt...),
	}
	if err := a.startLocked(svc); err != nil {
		return nil, err
	}

	a.services[svc] = struct{}{}
	return svc, nil
}

// Update перепубликует сервис с новым именем и портом
func (a *MDNSAdvertiser) Update(svc *Service, name string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.services[svc]; !ok {
		return fmt.Errorf("сервис %q не опубликован", svc.Instance)
	}

	if err := svc.server.Shutdown(); err != nil {
		a.logger.Warn("MDNSAdvertiser.Update: ошибка остановки ответчика", slog.String("error", err.Error()))
	}
	svc.server = nil

	svc.Name = name
	svc.Port = port
	if err := a.startLocked(svc); err != nil {
		delete(a.services, svc)
		return err
	}
	return nil
}

// Close снимает все публикации
func (a *MDNSAdvertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	for svc := range a.services {
		if err := svc.server.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.services, svc)
	}
	return firstErr
}

func (a *MDNSAdvertiser) startLocked(svc *Service) error {
	svc.Instance = ServiceName(a.config.HardwareAddr, svc.Name)

	zone, err := mdns.NewMDNSService(svc.Instance, ServiceType, a.config.Domain,
		a.config.HostName, svc.Port, a.config.IPs, svc.TXT)
	if err != nil {
		return fmt.Errorf("ошибка описания сервиса %q: %w", svc.Instance, err)
	}

	srv, err := a.newServer(zone, a.config)
	if err != nil {
		return fmt.Errorf("ошибка запуска mDNS ответчика: %w", err)
	}
	svc.server = srv

	a.logger.Info("сервис опубликован",
		slog.String("instance", svc.Instance),
		slog.String("type", ServiceType),
		slog.Int("port", svc.Port))
	return nil
}
