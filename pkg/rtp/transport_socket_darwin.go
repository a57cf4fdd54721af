//go:build darwin

package rtp

import (
	"golang.org/x/sys/unix"
)

// setSockOptRecvBuffer устанавливает размер буфера приема
func setSockOptRecvBuffer(fd, size int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size)
}

// setSockOptReusePort включает переиспользование адреса для macOS.
// SO_REUSEADDR обязателен, SO_REUSEPORT доступен с macOS 10.10
func setSockOptReusePort(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

// setSockOptBindToDevice на macOS не поддерживается, привязка идет через адрес интерфейса
func setSockOptBindToDevice(fd int, device string) error {
	return nil
}

// setSockOptAudioPriority применяет macOS-специфичные настройки
func setSockOptAudioPriority(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}

// setSockOptDSCP устанавливает DSCP маркировку (macOS реализация)
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		// macOS может требовать root для некоторых значений TOS
		return nil
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// Traffic Class через SO_TRAFFIC_CLASS
	const soTrafficClass = 0x1086
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, soTrafficClass, convertDSCPToTrafficClass(dscp))
	return nil
}

// convertDSCPToTrafficClass конвертирует DSCP в macOS Traffic Class
func convertDSCPToTrafficClass(dscp int) int {
	const (
		tcBestEffort = 0
		tcVideo      = 700
		tcVoice      = 800
		tcAudioVideo = 500
	)

	switch {
	case dscp == DSCPExpeditedForwarding:
		return tcVoice
	case dscp == DSCPAudioVideo:
		return tcAudioVideo
	case dscp >= 24 && dscp <= 30:
		return tcVideo
	default:
		return tcBestEffort
	}
}
