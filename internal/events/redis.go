package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrQueueFull = errors.New("event queue full")

// RedisPublisher relays events to a Redis pub/sub channel. Publish only
// enqueues; a background loop started by Run does the network writes.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
	logger  *slog.Logger
	queue   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

type RedisOption func(*RedisPublisher)

func WithChannel(channel string) RedisOption {
	return func(p *RedisPublisher) {
		if c := strings.TrimSpace(channel); c != "" {
			p.channel = c
		}
	}
}

func WithQueueSize(n int) RedisOption {
	return func(p *RedisPublisher) {
		if n > 0 {
			p.queue = make(chan []byte, n)
		}
	}
}

func WithPublishTimeout(d time.Duration) RedisOption {
	return func(p *RedisPublisher) { p.timeout = d }
}

func WithLogger(l *slog.Logger) RedisOption {
	return func(p *RedisPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewRedisPublisher(rdb *redis.Client, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		rdb:     rdb,
		channel: "gigline:events",
		timeout: 2 * time.Second,
		logger:  slog.Default().With("component", "events.redis"),
		queue:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisPublisher) Channel() string { return p.channel }

func (p *RedisPublisher) Publish(_ context.Context, evt Event) error {
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return errors.New("redis publisher closed")
	default:
	}
	select {
	case p.queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done or Close is called.
func (p *RedisPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case msg := <-p.queue:
			p.send(ctx, msg)
		}
	}
}

func (p *RedisPublisher) send(ctx context.Context, msg []byte) {
	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.rdb.Publish(sendCtx, p.channel, msg).Err(); err != nil {
		p.logger.Warn("redis publish failed", "channel", p.channel, "error", err)
	}
}

func (p *RedisPublisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
