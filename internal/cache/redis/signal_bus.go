package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

const (
	// streamMaxLen bounds journal streams via XADD MAXLEN ~. At trading
	// event rates this holds several days of history.
	streamMaxLen int64 = 10000

	// subscribeBuffer absorbs bursts between the pub/sub reader and the
	// consumer. A full buffer applies backpressure to the reader goroutine,
	// never to Redis.
	subscribeBuffer = 128
)

// SignalBus carries the bot's event traffic: pub/sub for the live channels
// (prices, listings, positions) and streams for the bounded position-event
// journal that survives consumer restarts.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a payload to a pub/sub channel. Messages reach only the
// consumers subscribed at that moment.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and returns the payload channel.
// Cancelling the context tears the subscription down and closes the channel.
// Channel names are exact; the bot publishes no pattern channels.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)

	// Receive the subscription confirmation so a dead connection surfaces
	// here instead of as a silently empty channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		src := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamAppend records a payload in a journal stream, trimming it to
// approximately streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRecent returns up to count of the newest journal entries in
// chronological order. An empty stream yields an empty slice, not an error.
func (sb *SignalBus) StreamRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	if count <= 0 {
		return nil, nil
	}

	// XRevRange walks newest-first; flip the page so callers replay events
	// in the order they happened.
	entries, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream recent %s: %w", stream, err)
	}

	messages := make([]domain.StreamMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		payload, ok := entryPayload(entries[i])
		if !ok {
			continue
		}
		messages = append(messages, domain.StreamMessage{
			ID:      entries[i].ID,
			Payload: payload,
		})
	}
	return messages, nil
}

// entryPayload extracts the payload field written by StreamAppend. Entries
// written by other tooling without the field are skipped.
func entryPayload(entry redis.XMessage) ([]byte, bool) {
	raw, ok := entry.Values["payload"]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
