package events

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultStream = "payments:events"

// RedisStore appends events to a capped Redis stream.
type RedisStore struct {
	R      redis.Cmdable
	Stream string
	MaxLen int64
}

// Append implements EventStore.
func (s RedisStore) Append(ctx context.Context, ev Event) error {
	stream := s.Stream
	if stream == "" {
		stream = defaultStream
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return s.R.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          ev.ID,
			"topic":       ev.Topic,
			"aggregateId": ev.AggregateID,
			"payload":     string(ev.Payload),
			"occurredAt":  ev.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
}

// Recent returns up to count of the latest events, newest first.
func (s RedisStore) Recent(ctx context.Context, count int64) ([]Event, error) {
	stream := s.Stream
	if stream == "" {
		stream = defaultStream
	}
	msgs, err := s.R.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev := Event{
			ID:          str(m.Values["id"]),
			Topic:       str(m.Values["topic"]),
			AggregateID: str(m.Values["aggregateId"]),
			Payload:     []byte(str(m.Values["payload"])),
		}
		if ts, err := time.Parse(time.RFC3339Nano, str(m.Values["occurredAt"])); err == nil {
			ev.OccurredAt = ts
		}
		out = append(out, ev)
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
