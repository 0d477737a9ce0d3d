package feed

import (
	"context"
	"errors"
	"iter"

	"go.uber.org/zap"

	"bnstream.com/internal/feed/feedmetrics"
	"bnstream.com/pkg/logger"
)

// Stream turns a raw Subscription into a sequence of T. Every frame on the
// connection is offered to decode; frames it rejects are dropped silently,
// since one bus carries the frames of every topic on the connection.
type Stream[T any] struct {
	sub    *Subscription
	topic  string
	kind   string
	decode func([]byte) (T, error)
}

// NewStream wraps sub. kind labels metrics and logs, e.g. "depth".
func NewStream[T any](sub *Subscription, topic, kind string, decode func([]byte) (T, error)) *Stream[T] {
	return &Stream[T]{sub: sub, topic: topic, kind: kind, decode: decode}
}

func (s *Stream[T]) Topic() string { return s.topic }

// Next blocks until the next matching event. ok is false once the underlying
// subscription has ended (connection gone or stream closed) or ctx is done.
// Backlog overflow is logged and skipped over.
func (s *Stream[T]) Next(ctx context.Context) (ev T, ok bool) {
	for {
		frame, err := s.sub.Recv(ctx)
		if err != nil {
			var lag *LaggedError
			if errors.As(err, &lag) {
				logger.Warn(ctx, "stream lagged",
					zap.String("topic", s.topic),
					zap.Uint64("missed", lag.Missed),
				)
				continue
			}
			return ev, false
		}

		v, err := s.decode(frame)
		if err != nil {
			feedmetrics.SkippedTotal.WithLabelValues(s.kind).Inc()
			continue
		}
		feedmetrics.EventsTotal.WithLabelValues(s.kind).Inc()
		return v, true
	}
}

// All is Next as a range-over-func sequence. It is not restartable: events
// consumed by one loop are gone for the next.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			ev, ok := s.Next(ctx)
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Close stops delivery to this stream. Nothing is sent upstream; use
// Client.Unsubscribe for that.
func (s *Stream[T]) Close() { s.sub.Close() }
