package node

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/config"
	"github.com/notnil/simwheel/gear"
)

// Sender is the transmit side of a bus handle. *canbus.Controller
// implements it.
type Sender interface {
	Send(ctx context.Context, frame canbus.Frame, timeout time.Duration) error
	Ready() bool
}

// Result is the outcome of one tick.
type Result struct {
	Gear gear.State
	Err  error
}

// Stats counts tick outcomes.
type Stats struct {
	Sent   uint64
	Failed uint64
}

// Transmitter advances the gear on a fixed period and reports every new gear
// in one bounded-wait send. Sends are best effort: a failure is logged and the
// next tick advances from the already updated gear.
type Transmitter struct {
	bus      Sender
	codec    gear.Codec
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex // serializes ticks
	state   gear.State
	current atomic.Uint32
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// TransmitterOption configures a Transmitter.
type TransmitterOption func(*Transmitter)

// WithInterval sets the shift period.
func WithInterval(d time.Duration) TransmitterOption {
	return func(t *Transmitter) { t.interval = d }
}

// WithSendTimeout sets the bound on each send.
func WithSendTimeout(d time.Duration) TransmitterOption {
	return func(t *Transmitter) { t.timeout = d }
}

// WithTxCodec selects the identifier frames are encoded with.
func WithTxCodec(c gear.Codec) TransmitterOption {
	return func(t *Transmitter) { t.codec = c }
}

// WithTxLogger sets the logger. Defaults to slog.Default().
func WithTxLogger(l *slog.Logger) TransmitterOption {
	return func(t *Transmitter) { t.logger = l }
}

// NewTransmitter creates a transmitter in Neutral. The bus is expected to be
// ready and started already; if it is not the fault is logged and the
// transmitter is returned anyway, its sends failing until the bus recovers.
func NewTransmitter(bus Sender, opts ...TransmitterOption) *Transmitter {
	t := &Transmitter{
		bus:      bus,
		codec:    gear.DefaultCodec,
		interval: config.DefaultInterval,
		timeout:  config.DefaultTxTimeout,
		logger:   slog.Default(),
		state:    gear.Neutral,
	}
	for _, opt := range opts {
		opt(t)
	}
	if !bus.Ready() {
		t.logger.Error("CAN device not ready")
	} else if s, ok := bus.(interface{ Started() bool }); ok && !s.Started() {
		t.logger.Error("CAN controller not started")
	}
	return t
}

// Gear returns the most recently selected gear.
func (t *Transmitter) Gear() gear.State {
	return gear.State(t.current.Load())
}

// Stats returns the send counters.
func (t *Transmitter) Stats() Stats {
	return Stats{Sent: t.sent.Load(), Failed: t.failed.Load()}
}

// Tick performs one shift: advance, encode, send with the configured bound
// and log the outcome. A send cut short by ctx is not counted as a failure.
func (t *Transmitter) Tick(ctx context.Context) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = gear.Advance(t.state)
	t.current.Store(uint32(t.state))
	frame := t.codec.Encode(t.state)

	err := t.bus.Send(ctx, frame, t.timeout)
	if err != nil {
		if ctx.Err() != nil {
			t.logger.Debug("send canceled", "gear", uint8(t.state), "error", err)
			return Result{Gear: t.state, Err: err}
		}
		t.failed.Add(1)
		t.logger.Error("send failed", "gear", uint8(t.state), "error", err, "code", canbus.ErrorCode(err))
		return Result{Gear: t.state, Err: err}
	}
	t.sent.Add(1)
	t.logger.Info("gear shifted", "gear", uint8(t.state))
	return Result{Gear: t.state}
}

// Run ticks once immediately and then once per interval until ctx is done.
func (t *Transmitter) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Tick(ctx)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}
