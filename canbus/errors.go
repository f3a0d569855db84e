package canbus

import (
	"context"
	"errors"
	"syscall"
)

// Controller errors.
var (
	ErrStopped    = errors.New("canbus: controller not started")
	ErrStarted    = errors.New("canbus: controller already started")
	ErrTimeout    = errors.New("canbus: send timed out")
	ErrListenOnly = errors.New("canbus: controller is listen-only")
	ErrNotReady   = errors.New("canbus: bus not ready")
	// ErrRejected reports a frame the transport refused to put on the wire.
	ErrRejected = errors.New("canbus: frame rejected by transport")
)

// ErrorCode maps an error to the negative errno value a CAN driver would
// return for it, e.g. -EAGAIN for a send that timed out. nil maps to 0.
func ErrorCode(err error) int {
	var errno syscall.Errno
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return -int(syscall.EAGAIN)
	case errors.Is(err, ErrStopped), errors.Is(err, ErrNotReady):
		return -int(syscall.ENETDOWN)
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrInvalidLen):
		return -int(syscall.EINVAL)
	case errors.Is(err, ErrListenOnly):
		return -int(syscall.ENOTSUP)
	case errors.Is(err, ErrStarted):
		return -int(syscall.EALREADY)
	case errors.Is(err, ErrRejected):
		return -int(syscall.EIO)
	case errors.As(err, &errno):
		return -int(errno)
	default:
		return -int(syscall.EIO)
	}
}
