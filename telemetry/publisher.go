package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/gear"
)

// GearTopic is appended to the topic prefix for gear updates.
const GearTopic = "gear"

// Client is the part of paho.Client used for publishing.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// RxRegistrar accepts rx filters. canbus.Controller implements it.
type RxRegistrar interface {
	AddRxFilter(canbus.Filter, canbus.RxCallback) (int, error)
}

// Publisher forwards received gear values to <prefix>gear, retained, QoS 0.
// Frames are handed over through a queue so rx callbacks never wait on the
// broker; values arriving while the queue is full are dropped.
type Publisher struct {
	client  Client
	topic   string
	codec   gear.Codec
	logger  *slog.Logger
	timeout time.Duration
	events  chan uint8

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithCodec selects the gear frame identifier to mirror.
func WithCodec(c gear.Codec) Option { return func(p *Publisher) { p.codec = c } }

// WithLogger sets the publisher logger.
func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

// WithQueueLen sets how many gear values may wait for the broker.
func WithQueueLen(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.events = make(chan uint8, n)
		}
	}
}

// WithPublishTimeout bounds the wait for each publish token.
func WithPublishTimeout(d time.Duration) Option { return func(p *Publisher) { p.timeout = d } }

// NewPublisher returns a publisher writing to prefix+GearTopic on client.
func NewPublisher(client Client, prefix string, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		topic:   prefix + GearTopic,
		codec:   gear.DefaultCodec,
		timeout: time.Second,
		events:  make(chan uint8, 16),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Topic returns the full topic gear values are published on.
func (p *Publisher) Topic() string { return p.topic }

// Register attaches the publisher to the gear rx filter of reg.
func (p *Publisher) Register(reg RxRegistrar) (int, error) {
	return reg.AddRxFilter(p.codec.RxFilter(), p.Handle)
}

// Handle queues the gear value carried by f. Other frames are ignored.
func (p *Publisher) Handle(f canbus.Frame) {
	v, ok := p.codec.Decode(f)
	if !ok {
		return
	}
	select {
	case p.events <- v:
	default:
		p.dropped.Add(1)
	}
}

// Run publishes queued values until ctx is done and returns ctx.Err().
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-p.events:
			p.publish(v)
		}
	}
}

func (p *Publisher) publish(v uint8) {
	token := p.client.Publish(p.topic, 0, true, strconv.Itoa(int(v)))
	if !token.WaitTimeout(p.timeout) {
		p.failed.Add(1)
		p.logger.Warn("mqtt publish timed out", "topic", p.topic, "gear", v)
		return
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		p.logger.Error("mqtt publish failed", "topic", p.topic, "gear", v, "error", err)
		return
	}
	p.published.Add(1)
	p.logger.Debug("mqtt published", "topic", p.topic, "gear", v)
}

// Stats reports published, failed and dropped counts.
func (p *Publisher) Stats() (published, failed, dropped uint64) {
	return p.published.Load(), p.failed.Load(), p.dropped.Load()
}
