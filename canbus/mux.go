package canbus

import (
	"context"
	"sync"
)

// Mux multiplexes frames to any number of subscribers via filters.
//
// Frames are fed with Deliver and fanned out by a single background
// goroutine, so every subscriber observes frames in delivery order. Channel
// subscribers never block the fan-out: a frame is dropped for a subscriber
// whose buffer is full. Callback subscribers run on the fan-out goroutine and
// must return quickly.
type Mux struct {
	in   chan Frame
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
	fn     func(Frame)
}

func (s *subscriber) match(f Frame) bool {
	return s.filter == nil || s.filter(f)
}

// NewMux creates and starts a multiplexer with an inbound queue of the given
// depth.
func NewMux(queue int) *Mux {
	if queue < 0 {
		queue = 0
	}
	m := &Mux{
		in:   make(chan Frame, queue),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		subs: make(map[uint64]*subscriber),
	}
	go m.run()
	return m
}

// Deliver queues a frame for fan-out. It blocks while the inbound queue is
// full, until ctx is done or the mux is closed.
func (m *Mux) Deliver(ctx context.Context, f Frame) error {
	select {
	case <-m.stop:
		return ErrClosed
	default:
	}
	select {
	case m.in <- f:
		return nil
	case <-m.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDeliver queues a frame without waiting. It reports false when the
// inbound queue is full or the mux is closed.
func (m *Mux) TryDeliver(f Frame) bool {
	select {
	case <-m.stop:
		return false
	default:
	}
	select {
	case m.in <- f:
		return true
	default:
		return false
	}
}

// Close stops the background goroutine and closes all subscriber channels.
func (m *Mux) Close() error {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
		m.mu.Lock()
		for id, s := range m.subs {
			if s.ch != nil {
				close(s.ch)
			}
			delete(m.subs, id)
		}
		m.mu.Unlock()
	})
	return nil
}

// Subscribe registers a new subscriber with the provided filter and channel buffer.
// The returned channel will receive frames that match the filter. The cancel
// function should be called when no longer needed; it will close the channel.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan Frame, buffer)}
	return s.ch, m.add(s)
}

// Handle registers fn for frames matching filter. The returned cancel
// removes it; a frame already being fanned out may still reach fn once.
func (m *Mux) Handle(filter FrameFilter, fn func(Frame)) func() {
	return m.add(&subscriber{filter: filter, fn: fn})
}

func (m *Mux) add(s *subscriber) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	select {
	case <-m.stop:
		// Closed mux: hand back an already-finished subscription.
		if s.ch != nil {
			close(s.ch)
		}
		m.mu.Unlock()
		return func() {}
	default:
	}
	m.subs[id] = s
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if cur, ok := m.subs[id]; ok && cur == s {
			if cur.ch != nil {
				close(cur.ch)
			}
			delete(m.subs, id)
		}
		m.mu.Unlock()
	}
}

func (m *Mux) run() {
	defer close(m.done)
	var fns []func(Frame)
	for {
		select {
		case <-m.stop:
			return
		case f := <-m.in:
			fns = fns[:0]
			m.mu.RLock()
			for _, s := range m.subs {
				if !s.match(f) {
					continue
				}
				if s.fn != nil {
					fns = append(fns, s.fn)
					continue
				}
				select {
				case s.ch <- f:
				default:
					// Drop if subscriber is slow and channel is full.
				}
			}
			m.mu.RUnlock()
			for _, fn := range fns {
				fn(f)
			}
		}
	}
}
