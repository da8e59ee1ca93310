package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers an encoded message to every socket of a session audience.
type Publisher interface {
	Publish(ctx context.Context, pin string, a Audience, msg []byte) error
}

// LocalPublisher delivers to the sockets of this process only.
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(h *Hub) *LocalPublisher {
	return &LocalPublisher{hub: h}
}

func (p *LocalPublisher) Publish(_ context.Context, pin string, a Audience, msg []byte) error {
	p.hub.Deliver(pin, a, msg)
	return nil
}

// RedisPublisher publishes to a Redis channel per session audience. Every instance runs a
// Relay that delivers the channel to its own sockets.
type RedisPublisher struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisPublisher(r redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{redis: r, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, pin string, a Audience, msg []byte) error {
	if err := p.redis.Publish(ctx, Channel(p.prefix, pin, a), msg).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s/%s: %w", pin, a, err)
	}

	return nil
}

// Channel is the Redis channel of a session audience: <prefix>:live:<pin>:<audience>.
func Channel(prefix, pin string, a Audience) string {
	return fmt.Sprintf("%s:live:%s:%s", prefix, pin, a)
}

// Relay delivers the session channels of Redis to the local hub.
type Relay struct {
	redis  redis.UniversalClient
	prefix string
	hub    *Hub

	ps   *redis.PubSub
	done chan struct{}
}

func NewRelay(r redis.UniversalClient, prefix string, h *Hub) *Relay {
	return &Relay{redis: r, prefix: prefix, hub: h}
}

// Start subscribes to all session channels and returns once the subscription is active.
func (r *Relay) Start(ctx context.Context) error {
	ps := r.redis.PSubscribe(ctx, r.prefix+":live:*")
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe: %w", errors.Join(err, ps.Close()))
	}

	r.ps = ps
	r.done = make(chan struct{})

	go r.run(ps.Channel())

	return nil
}

// Close stops the relay and waits for in-flight deliveries.
func (r *Relay) Close() error {
	if r.ps == nil {
		return nil
	}

	err := r.ps.Close()
	<-r.done

	return err
}

func (r *Relay) run(ch <-chan *redis.Message) {
	defer close(r.done)

	for m := range ch {
		pin, a, ok := r.parse(m.Channel)
		if !ok {
			slog.Warn("realtime: unexpected channel", "channel", m.Channel)
			continue
		}

		r.hub.Deliver(pin, a, []byte(m.Payload))
	}
}

func (r *Relay) parse(channel string) (string, Audience, bool) {
	rest, ok := strings.CutPrefix(channel, r.prefix+":live:")
	if !ok {
		return "", "", false
	}

	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", "", false
	}

	a := Audience(rest[i+1:])
	return rest[:i], a, a.Valid()
}
