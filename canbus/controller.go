package canbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Mode selects how a Controller treats its own transmissions.
type Mode uint8

const (
	// ModeNormal sends on the bus and receives frames from other nodes.
	ModeNormal Mode = iota
	// ModeLoopback additionally delivers every successfully sent frame to the
	// local rx filters, so a lone node hears itself.
	ModeLoopback
	// ModeListenOnly receives but rejects every Send.
	ModeListenOnly
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeLoopback:
		return "loopback"
	case ModeListenOnly:
		return "listen-only"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m > ModeListenOnly {
		return nil, fmt.Errorf("canbus: unsupported mode %v", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode parses the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "":
		return ModeNormal, nil
	case "loopback":
		return ModeLoopback, nil
	case "listen-only", "listenonly", "silent":
		return ModeListenOnly, nil
	}
	return 0, fmt.Errorf("canbus: unknown mode %q", s)
}

// RxCallback is invoked for every received frame accepted by a filter. It runs
// on the controller's dispatch goroutine and must not block.
type RxCallback func(Frame)

// Controller drives a Bus the way a CAN controller driver does: it has an
// operating mode that can only change while stopped, bounded-wait sends and
// identifier/mask rx filters with callbacks.
//
// Filters may be added before Start; frames are only dispatched while the
// controller is started.
type Controller struct {
	bus    Bus
	logger *slog.Logger
	mux    *Mux

	mu       sync.Mutex
	mode     Mode
	started  bool
	closed   bool
	cancel   context.CancelFunc
	pumpDone chan struct{}
	filters  map[int]func()
	nextID   int

	echoDropped atomic.Uint64
}

// ControllerOption configures a Controller.
type ControllerOption func(*controllerOptions)

type controllerOptions struct {
	logger *slog.Logger
	queue  int
}

// WithControllerLogger sets the logger used for pump errors and lifecycle
// events. Defaults to slog.Default().
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(o *controllerOptions) { o.logger = l }
}

// WithRxQueueLen sets the depth of the rx dispatch queue.
func WithRxQueueLen(n int) ControllerOption {
	return func(o *controllerOptions) { o.queue = n }
}

// NewController wraps bus in a stopped controller in ModeNormal.
func NewController(bus Bus, opts ...ControllerOption) *Controller {
	o := controllerOptions{queue: DefaultQueueLen}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Controller{
		bus:     bus,
		logger:  o.logger,
		mux:     NewMux(o.queue),
		filters: make(map[int]func()),
	}
}

// Ready reports whether the underlying bus is usable. Buses implementing
// Readier are asked directly.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.bus == nil {
		return false
	}
	if r, ok := c.bus.(Readier); ok {
		return r.Ready()
	}
	return true
}

// Mode returns the configured operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Started reports whether Start has been called without a matching Stop.
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// SetMode changes the operating mode. The controller must be stopped.
func (c *Controller) SetMode(m Mode) error {
	if m > ModeListenOnly {
		return fmt.Errorf("canbus: unsupported mode %v", m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.started:
		return ErrStarted
	}
	c.mode = m
	return nil
}

// Start begins receiving from the bus and dispatching to rx filters.
func (c *Controller) Start() error {
	if !c.Ready() {
		return ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.started:
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pumpDone = make(chan struct{})
	c.started = true
	go c.pump(ctx, c.pumpDone)
	c.logger.Debug("canbus controller started", "mode", c.mode.String())
	return nil
}

// Stop halts reception. Sends fail with ErrStopped until the next Start.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrStopped
	}
	c.started = false
	cancel, done := c.cancel, c.pumpDone
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Debug("canbus controller stopped")
	return nil
}

// Close stops the controller, drops all filters and closes the bus.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	started := c.started
	c.mu.Unlock()
	if started {
		_ = c.Stop()
	}
	c.mu.Lock()
	c.closed = true
	c.filters = map[int]func(){}
	c.mu.Unlock()
	_ = c.mux.Close()
	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

// Send transmits frame, waiting at most timeout for the bus to accept it. A
// non-positive timeout waits until ctx is done. An expired timeout is reported
// as ErrTimeout; cancellation of ctx itself returns ctx.Err().
//
// In ModeLoopback the frame is queued for local dispatch before Send returns,
// so self reception preserves send order. The local copy never fails a send
// the bus accepted: when the rx queue is full it is dropped and counted in
// EchoDropped.
func (c *Controller) Send(ctx context.Context, frame Frame, timeout time.Duration) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	started, closed, mode := c.started, c.closed, c.mode
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !started:
		return ErrStopped
	case mode == ModeListenOnly:
		return ErrListenOnly
	}

	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.bus.Send(sctx, frame); err != nil {
		return c.sendError(ctx, err)
	}
	if mode == ModeLoopback && !c.mux.TryDeliver(frame) {
		c.echoDropped.Add(1)
		c.logger.Warn("canbus loopback frame dropped", "frame", frame.String())
	}
	return nil
}

// EchoDropped returns how many loopback copies were dropped because the rx
// queue was full.
func (c *Controller) EchoDropped() uint64 {
	return c.echoDropped.Load()
}

func (c *Controller) sendError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if perr := parent.Err(); perr != nil {
			return perr
		}
		return ErrTimeout
	}
	return err
}

// AddRxFilter registers cb for frames accepted by f and returns a filter id
// for RemoveRxFilter.
func (c *Controller) AddRxFilter(f Filter, cb RxCallback) (int, error) {
	if cb == nil {
		return 0, errors.New("canbus: nil rx callback")
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	id := c.nextID
	c.nextID++
	c.filters[id] = c.mux.Handle(f.FrameFilter(), cb)
	return id, nil
}

// RemoveRxFilter unregisters a filter added by AddRxFilter. Unknown ids are
// ignored.
func (c *Controller) RemoveRxFilter(id int) {
	c.mu.Lock()
	cancel, ok := c.filters[id]
	delete(c.filters, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Subscribe delivers frames matching filter on a buffered channel. Frames are
// dropped while the buffer is full.
func (c *Controller) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	return c.mux.Subscribe(filter, buffer)
}

const pumpBackoff = 10 * time.Millisecond

func (c *Controller) pump(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		f, err := c.bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrClosed) {
				c.logger.Warn("canbus receive stopped", "error", err)
				return
			}
			c.logger.Error("canbus receive error", "error", err, "code", ErrorCode(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pumpBackoff):
			}
			continue
		}
		if err := c.mux.Deliver(ctx, f); err != nil {
			return
		}
	}
}
