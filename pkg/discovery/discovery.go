// Package discovery публикует приемник AirPlay в локальной сети через mDNS.
//
// Приемник объявляется как сервис _raop._tcp с именем вида
// "<MAC без разделителей>@<имя>" и TXT записями возможностей.
package discovery

import (
	"encoding/hex"
	"net"
)

const (
	// ServiceType тип сервиса RAOP
	ServiceType = "_raop._tcp"

	// DefaultDomain домен mDNS
	DefaultDomain = "local."
)

// DefaultHardwareAddr адрес, используемый когда сетевой интерфейс не найден
var DefaultHardwareAddr = net.HardwareAddr{0x00, 0x51, 0x52, 0x53, 0x54, 0x55}

// DefaultTXTRecords возвращает TXT записи возможностей приемника:
// транспорты TCP и UDP, RSA ключ, кодеки PCM/ALAC/AAC, 16 бит стерео 44.1kHz.
func DefaultTXTRecords() []string {
	return []string{
		"tp=TCP,UDP",
		"sm=false",
		"sv=false",
		"ek=1",
		"et=0,1",
		"cn=0,1",
		"ch=2",
		"ss=16",
		"sr=44100",
		"pw=false",
		"vn=3",
		"md=0,1,2",
		"txtvers=1",
	}
}

// ServiceName формирует имя экземпляра сервиса "<hwaddr hex>@<name>"
func ServiceName(hw net.HardwareAddr, name string) string {
	return hex.EncodeToString(hw) + "@" + name
}

// HardwareAddr возвращает MAC адрес первого интерфейса, отличного от loopback.
// Если такого нет, возвращается DefaultHardwareAddr.
func HardwareAddr() net.HardwareAddr {
	interfaces, err := net.Interfaces()
	if err != nil {
		return DefaultHardwareAddr
	}
	return pickHardwareAddr(interfaces)
}

func pickHardwareAddr(interfaces []net.Interface) net.HardwareAddr {
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return iface.HardwareAddr
	}
	return DefaultHardwareAddr
}

// Service опубликованный сервис
type Service struct {
	Name     string   // Имя, переданное при публикации
	Instance string   // Полное имя экземпляра с MAC адресом
	Port     int      // Порт управляющего канала
	TXT      []string // TXT записи

	server server
}

// Advertiser публикует сервис приемника.
// Update меняет имя и порт уже опубликованного сервиса.
type Advertiser interface {
	Advertise(name string, port int, txt []string) (*Service, error)
	Update(svc *Service, name string, port int) error
	Close() error
}
