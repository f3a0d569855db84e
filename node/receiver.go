package node

import (
	"log/slog"
	"sync/atomic"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/gear"
)

// RxRegistrar is the receive side of a bus handle. *canbus.Controller
// implements it.
type RxRegistrar interface {
	AddRxFilter(f canbus.Filter, cb canbus.RxCallback) (int, error)
}

// Receiver confirms gear frames seen on the bus. It is independent of the
// Transmitter and keeps no state beyond a match counter.
type Receiver struct {
	codec   gear.Codec
	logger  *slog.Logger
	matched atomic.Uint64
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithRxCodec selects the identifier frames are accepted on.
func WithRxCodec(c gear.Codec) ReceiverOption {
	return func(r *Receiver) { r.codec = c }
}

// WithRxLogger sets the logger. Defaults to slog.Default().
func WithRxLogger(l *slog.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = l }
}

// NewReceiver creates a receiver for the default gear identifier.
func NewReceiver(opts ...ReceiverOption) *Receiver {
	r := &Receiver{codec: gear.DefaultCodec, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the receiver's filter and Handle on reg.
func (r *Receiver) Register(reg RxRegistrar) (int, error) {
	return reg.AddRxFilter(r.codec.RxFilter(), r.Handle)
}

// Handle is the rx callback. Filters can be advisory, so the identifier is
// checked again; anything else is dropped without a trace.
func (r *Receiver) Handle(f canbus.Frame) {
	g, ok := r.codec.Decode(f)
	if !ok {
		return
	}
	r.matched.Add(1)
	r.logger.Info("received gear", "gear", g)
}

// Matched returns how many gear frames have been handled.
func (r *Receiver) Matched() uint64 {
	return r.matched.Load()
}
