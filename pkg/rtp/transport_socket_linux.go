//go:build linux

package rtp

import (
	"golang.org/x/sys/unix"
)

// setSockOptRecvBuffer устанавливает размер буфера приема
func setSockOptRecvBuffer(fd, size int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size)
}

// setSockOptReusePort включает SO_REUSEPORT
func setSockOptReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptBindToDevice привязывает сокет к сетевому интерфейсу (только Linux)
func setSockOptBindToDevice(fd int, device string) error {
	return unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
}

// setSockOptAudioPriority повышает приоритет сокета для аудио.
// Ошибки игнорируются: в контейнерах опции часто недоступны
func setSockOptAudioPriority(fd int) {
	// 6 соответствует интерактивному аудио
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)

	// Для TCP режима отключаем Nagle, для UDP опция игнорируется ядром
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// setSockOptDSCP устанавливает DSCP маркировку (старшие 6 бит TOS)
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		// В некоторых контейнерах TOS запрещен, это не критично
		return nil
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
