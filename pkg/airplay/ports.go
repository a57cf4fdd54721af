package airplay

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Политика поиска порта приема.
// Шаг 2 сохраняет четность порта: соседний нечетный порт резервируется
// под парный управляющий трафик.
const (
	PortStride = 2
	PortWindow = 100

	// MaxPortAttempts максимальное число попыток привязки (base..base+PortWindow)
	MaxPortAttempts = PortWindow/PortStride + 1

	// MaxPort верхняя граница номера порта
	MaxPort = 65535
)

// PortBinding результат выделения порта
type PortBinding struct {
	Requested int
	Port      int
	Attempts  int
}

// BindFunc пытается занять порт, ошибка означает что порт недоступен
type BindFunc func(port int) error

// ValidatePort проверяет базовый порт. Порт 0 недопустим: ядро выбрало бы
// произвольный порт, и управляющий канал сообщил бы клиенту неверный номер.
func ValidatePort(base int) error {
	if base <= 0 || base > MaxPort {
		return &Error{
			Code:    ErrorCodeInvalidPort,
			Message: fmt.Sprintf("базовый порт %d вне диапазона 1..%d", base, MaxPort),
			Context: map[string]interface{}{"base_port": base},
		}
	}
	return nil
}

// AllocatePort занимает первый свободный порт из base, base+2, ... base+100.
// Окно обрезается сверху номером MaxPort.
// Сама привязка выполняется вызывающей стороной через bind.
// Если ни один порт не удалось занять, возвращается ErrPortExhausted
// с последней ошибкой привязки внутри.
func AllocatePort(ctx context.Context, base int, bind BindFunc) (PortBinding, error) {
	binding := PortBinding{Requested: base}
	if err := ValidatePort(base); err != nil {
		return binding, err
	}

	last := base + PortWindow
	if last > MaxPort {
		last = MaxPort
	}

	var lastErr error
	for port := base; port <= last; port += PortStride {
		if err := ctx.Err(); err != nil {
			return binding, errors.Wrap(err, "поиск порта прерван")
		}

		binding.Attempts++
		if err := bind(port); err != nil {
			lastErr = err
			continue
		}

		binding.Port = port
		return binding, nil
	}

	return binding, &Error{
		Code:    ErrorCodePortExhausted,
		Message: "нет свободного порта в окне поиска",
		Wrapped: lastErr,
		Context: map[string]interface{}{
			"base_port": base,
			"max_port":  last,
			"attempts":  binding.Attempts,
		},
	}
}
