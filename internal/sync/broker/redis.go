package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// heartbeatInterval paces the liveness pings on open subscriptions.
const heartbeatInterval = 30 * time.Second

// RedisBroker publishes change signals over Redis pub/sub. The broker is
// optional infrastructure: availability is probed once and cached, and an
// unreachable Redis degrades the service to poll-only delivery.
type RedisBroker struct {
	client *redis.Client

	probeOnce sync.Once
	reachable bool
}

// NewRedisBroker returns a broker for the given Redis address. A blank
// address yields a broker that reports itself unavailable.
func NewRedisBroker(addr string) *RedisBroker {
	if addr == "" {
		return &RedisBroker{}
	}
	return &RedisBroker{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Available reports whether Redis answered the initial reachability probe.
func (b *RedisBroker) Available(ctx context.Context) bool {
	if b == nil || b.client == nil {
		return false
	}
	b.probeOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := b.client.Ping(probeCtx).Err(); err != nil {
			log.Printf("push channel unavailable, falling back to polling: %v", err)
			return
		}
		b.reachable = true
	})
	return b.reachable
}

// Publish sends one envelope on a channel and returns how many subscribers
// received it.
func (b *RedisBroker) Publish(ctx context.Context, channel string, env Envelope) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !b.Available(ctx) {
		return 0, fmt.Errorf("push channel is not available")
	}
	if channel == "" {
		return 0, fmt.Errorf("channel is required")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}

	receivers, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return receivers, nil
}

// Subscribe listens on channels and delivers decoded envelopes to handler
// until handler returns false or ctx is canceled. Undecodable messages are
// logged and skipped.
func (b *RedisBroker) Subscribe(ctx context.Context, channels []string, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.Available(ctx) {
		return fmt.Errorf("push channel is not available")
	}
	if len(channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	sub := b.client.Subscribe(ctx, channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	messages := sub.Channel()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			if err := sub.Ping(ctx); err != nil {
				return fmt.Errorf("subscription heartbeat: %w", err)
			}
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("skipping undecodable signal on %s: %v", msg.Channel, err)
				continue
			}
			if !handler(msg.Channel, env) {
				return nil
			}
		}
	}
}

// Close releases the underlying Redis connection.
func (b *RedisBroker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
