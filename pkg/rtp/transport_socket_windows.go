//go:build windows

package rtp

import (
	"golang.org/x/sys/windows"
)

// setSockOptRecvBuffer устанавливает размер буфера приема
func setSockOptRecvBuffer(fd, size int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, size)
}

// setSockOptReusePort в Windows есть только SO_REUSEADDR
func setSockOptReusePort(fd int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

// setSockOptBindToDevice в Windows не поддерживается, привязка идет через адрес интерфейса
func setSockOptBindToDevice(fd int, device string) error {
	return nil
}

// setSockOptAudioPriority отключает Nagle для TCP режима
func setSockOptAudioPriority(fd int) {
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_NODELAY, 1)
}

// setSockOptDSCP устанавливает DSCP маркировку.
// Windows часто требует административных прав, ошибка не критична
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IP, windows.IP_TOS, tos); err != nil {
		return nil
	}
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_IPV6, windows.IPV6_TCLASS, tos)
	return nil
}
