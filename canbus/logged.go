package canbus

import (
	"context"
	"log/slog"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations at the given
// level. If filter is nil, all frames are logged.
func NewLoggedBus(inner Bus, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Bus {
	return &loggedBus{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		filter: filter,
	}
}

// loggedBus is a Bus decorator that logs Send/Receive operations using a
// slog.Logger.
type loggedBus struct {
	inner  Bus
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedBus) frameAttrs(frame Frame) []any {
	return []any{
		"id", frame.ID,
		"extended", frame.Extended,
		"rtr", frame.RTR,
		"len", int(frame.Len),
		"data", frame.Payload(),
		"string", frame.String(),
	}
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(ctx context.Context, frame Frame) error {
	if l.opts&LogWrite != 0 && (l.filter == nil || l.filter(frame)) {
		l.logger.Log(ctx, l.level, "canbus send", l.frameAttrs(frame)...)
	}
	err := l.inner.Send(ctx, frame)
	if l.opts&LogWrite != 0 && err != nil {
		l.logger.Log(ctx, slog.LevelError, "canbus send error",
			"id", frame.ID,
			"error", err,
		)
	}
	return err
}

// Receive logs the received frame or error when read logging is enabled.
func (l *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := l.inner.Receive(ctx)
	if l.opts&LogRead == 0 {
		return f, err
	}
	switch {
	case err != nil:
		if ctx.Err() == nil {
			l.logger.Log(ctx, slog.LevelError, "canbus receive error", "error", err)
		}
	case l.filter == nil || l.filter(f):
		l.logger.Log(ctx, l.level, "canbus receive", l.frameAttrs(f)...)
	}
	return f, err
}

// Ready forwards to the inner Bus when it reports readiness.
func (l *loggedBus) Ready() bool {
	if r, ok := l.inner.(Readier); ok {
		return r.Ready()
	}
	return true
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}
