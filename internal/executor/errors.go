package executor

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError: устройство или коннектор просит подождать.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// ConnectivityError — устройство недоступно. Отличается от ошибок политики и валидации.
type ConnectivityError struct {
	Device string
	Cause  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("device %s unreachable: %v", e.Device, e.Cause)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// DeviceBusyError: превышен лимит параллельных операций на устройство и истекло ожидание в очереди.
type DeviceBusyError struct {
	Device string
	Waited time.Duration
}

func (e *DeviceBusyError) Error() string {
	return fmt.Sprintf("device %s busy: no slot after %v", e.Device, e.Waited)
}

var ErrUnsupportedTool = errors.New("tool is not supported by executor")

// retryable: повторяем только сетевые сбои и троттлинг.
func retryable(err error) bool {
	var conn *ConnectivityError
	var thr *ThrottleError
	return errors.As(err, &conn) || errors.As(err, &thr)
}
