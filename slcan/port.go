package slcan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/notnil/simwheel/canbus"
)

// Options configure the CAN channel of an adapter.
type Options struct {
	// Bitrate is programmed with "S<n>". Zero keeps the adapter's setting.
	Bitrate uint32
	// ListenOnly opens the channel with "L" instead of "O".
	ListenOnly bool
	// Logger receives adapter errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// closeTimeout bounds the best-effort "C" written on Close.
const closeTimeout = 100 * time.Millisecond

// Port is a canbus.Bus over an SLCAN adapter.
type Port struct {
	rw     io.ReadWriteCloser
	logger *slog.Logger

	frames chan canbus.Frame
	writes chan writeReq
	acks   chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	rerr    error
	faults  int
	pending bool
}

type writeReq struct {
	ctx  context.Context
	line string
	ack  bool
	done chan error
}

// Open opens the serial device at baud and initializes the adapter.
func Open(device string, baud int, opts Options) (*Port, error) {
	sp, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", device, err)
	}
	p, err := New(sp, opts)
	if err != nil {
		sp.Close()
		return nil, err
	}
	return p, nil
}

// New initializes an adapter reachable through rw: the channel is closed,
// the bitrate set and the channel reopened. The returned Port owns rw.
func New(rw io.ReadWriteCloser, opts Options) (*Port, error) {
	init := []string{cmdClose}
	if opts.Bitrate != 0 {
		cmd, err := BitrateCommand(opts.Bitrate)
		if err != nil {
			return nil, err
		}
		init = append(init, cmd)
	}
	if opts.ListenOnly {
		init = append(init, cmdListenOnly)
	} else {
		init = append(init, cmdOpen)
	}
	for _, cmd := range init {
		if _, err := io.WriteString(rw, cmd+string(eol)); err != nil {
			return nil, fmt.Errorf("slcan: init %q: %w", cmd, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Port{
		rw:     rw,
		logger: logger,
		frames: make(chan canbus.Frame, canbus.DefaultQueueLen),
		writes: make(chan writeReq),
		acks:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

// Send writes one frame and waits for the adapter to acknowledge it, at most
// until ctx is done. A BEL reply fails the send with ErrAdapter.
func (p *Port) Send(ctx context.Context, frame canbus.Frame) error {
	line, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	return p.write(ctx, line, true)
}

func (p *Port) write(ctx context.Context, line string, ack bool) error {
	req := writeReq{ctx: ctx, line: line, ack: ack, done: make(chan error, 1)}
	select {
	case p.writes <- req:
	case <-p.closed:
		return canbus.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-p.closed:
		return canbus.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next frame reported by the adapter.
func (p *Port) Receive(ctx context.Context) (canbus.Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-p.closed:
		return canbus.Frame{}, canbus.ErrClosed
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

// Ready reports whether the port is open and its reader is healthy.
func (p *Port) Ready() bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rerr == nil
}

// Faults returns how many BEL error replies the adapter has sent.
func (p *Port) Faults() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faults
}

// Close closes the CAN channel and the serial port.
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		_ = p.write(ctx, cmdClose+string(eol), false)
		cancel()
		close(p.closed)
		err = p.rw.Close()
	})
	return err
}

func (p *Port) writeLoop() {
	for {
		select {
		case <-p.closed:
			return
		case req := <-p.writes:
			req.done <- p.writeLine(req)
		}
	}
}

func (p *Port) writeLine(req writeReq) error {
	if !req.ack {
		_, err := io.WriteString(p.rw, req.line)
		return err
	}
	// Drop a reply that arrived after the previous send gave up.
	select {
	case <-p.acks:
	default:
	}
	p.setPending(true)
	defer p.setPending(false)
	if _, err := io.WriteString(p.rw, req.line); err != nil {
		return err
	}
	select {
	case err := <-p.acks:
		return err
	case <-p.closed:
		return canbus.ErrClosed
	case <-req.ctx.Done():
		return req.ctx.Err()
	}
}

func (p *Port) setPending(v bool) {
	p.mu.Lock()
	p.pending = v
	p.mu.Unlock()
}

// reply hands a transmit reply to the waiting send. Replies nobody waits for
// are dropped.
func (p *Port) reply(err error) bool {
	p.mu.Lock()
	pending := p.pending
	p.mu.Unlock()
	if !pending {
		return false
	}
	select {
	case p.acks <- err:
	default:
	}
	return true
}

func (p *Port) readLoop() {
	r := bufio.NewReader(p.rw)
	var line []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			p.mu.Lock()
			p.rerr = err
			p.mu.Unlock()
			select {
			case <-p.closed:
			default:
				if !errors.Is(err, io.EOF) {
					p.logger.Error("slcan read failed", "error", err)
				}
			}
			return
		}
		switch c {
		case bel:
			p.mu.Lock()
			p.faults++
			p.mu.Unlock()
			if !p.reply(ErrAdapter) {
				p.logger.Warn("slcan adapter reported an error")
			}
			line = line[:0]
		case eol, '\n':
			p.handleLine(string(line))
			line = line[:0]
		default:
			line = append(line, c)
		}
	}
}

func (p *Port) handleLine(line string) {
	switch {
	case line == "", line == "z", line == "Z":
		// Transmit acknowledgement. Some firmware answers with a bare CR.
		p.reply(nil)
		return
	case !strings.ContainsRune("tTrR", rune(line[0])):
		// Other command replies carry no frame.
		return
	}
	f, err := DecodeFrame(line)
	if err != nil {
		p.logger.Warn("slcan dropped line", "line", line, "error", err)
		return
	}
	select {
	case p.frames <- f:
	case <-p.closed:
	}
}
