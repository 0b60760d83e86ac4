package emitter

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// ActivitySubscriber is the subset of *redis.PubSub the activity
// monitor reader needs: a channel of raw published payloads. Narrowed
// to an interface so tests can drive it without a live Redis instance.
type ActivitySubscriber interface {
	Channel() <-chan string
}

// redisActivitySubscriber adapts *redis.PubSub's Channel (which yields
// *redis.Message) down to ActivitySubscriber's plain payload strings.
type redisActivitySubscriber struct {
	pubsub *redis.PubSub
	out    chan string
}

// NewRedisActivitySubscriber subscribes client to the activity channel
// and starts copying published payloads onto the returned
// ActivitySubscriber. Call the returned closer when the caller's
// connection ends.
func NewRedisActivitySubscriber(ctx context.Context, client *redis.Client) (ActivitySubscriber, func() error, error) {
	pubsub := client.Subscribe(ctx, ActivityChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", ActivityChannel, err)
	}

	s := &redisActivitySubscriber{pubsub: pubsub, out: make(chan string)}
	go func() {
		defer close(s.out)
		for msg := range pubsub.Channel() {
			s.out <- msg.Payload
		}
	}()

	return s, pubsub.Close, nil
}

func (s *redisActivitySubscriber) Channel() <-chan string { return s.out }

// ActivityMonitorHandler republishes the Redis activity channel (spec
// §4.7 "Sinks", SUPPLEMENTED FEATURES: external dashboards watch the
// same event stream the RedisSink publishes) as one SSE connection per
// caller, the same "data: <json>\n\n" framing the client formatters
// use, so any existing SSE client library can consume it directly.
//
// Grounded on the teacher's internal/stream's Write loop: an
// http.Flusher assertion up front, one frame per message, flush after
// every write.
func ActivityMonitorHandler(subscribe func(ctx context.Context) (ActivitySubscriber, func() error, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub, closeSub, err := subscribe(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("subscribing to activity channel: %v", err), http.StatusBadGateway)
			return
		}
		defer closeSub()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := sub.Channel()
		for {
			select {
			case <-r.Context().Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				if _, err := io.WriteString(w, "data: "+payload+"\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
