package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Severity ranks events for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome is the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one append-only lifecycle record.
type Event struct {
	ID              string            `json:"id"`
	OccurredAt      time.Time         `json:"occurred_at"`
	Action          string            `json:"action"`
	IdentityID      string            `json:"identity_id,omitempty"`
	TargetSessionID string            `json:"target_session_id,omitempty"`
	Outcome         Outcome           `json:"outcome"`
	Severity        Severity          `json:"severity"`
	Reason          string            `json:"reason,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
}

// Sink delivers events. A returned error is counted by the Dispatcher.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) error { return nil }

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(data)
	return err
}

// SlogSink logs events as structured records. Critical events are logged at
// error level.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("action", event.Action),
		slog.String("outcome", string(event.Outcome)),
		slog.String("severity", string(event.Severity)),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.IdentityID != "" {
		attrs = append(attrs, slog.String("identity_id", event.IdentityID))
	}
	if event.TargetSessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.TargetSessionID))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	s.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

// RedisStreamSink appends events to a capped Redis stream for an external
// collector to consume.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = "credlife:audit"
	}
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{
			"action":   event.Action,
			"severity": string(event.Severity),
			"event":    payload,
		},
	}).Err()
}
