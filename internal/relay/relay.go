package relay

import (
	"context"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"bnstream.com/pkg/logger"
	"bnstream.com/pkg/xerr"
)

// Source is anything that yields events until it ends, e.g. *feed.Stream.
type Source[T any] interface {
	Next(ctx context.Context) (T, bool)
}

// Pump publishes every event of src on topic as JSON until src ends or ctx is
// done. It returns the number of events published. A publish error stops the
// pump; encode errors skip the event.
func Pump[T any](ctx context.Context, b Broker, topic string, src Source[T]) (int, error) {
	n := 0
	for {
		ev, ok := src.Next(ctx)
		if !ok {
			return n, ctx.Err()
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Warn(ctx, "relay encode", zap.String("topic", topic), zap.Error(err))
			continue
		}
		if err := b.Publish(ctx, topic, payload); err != nil {
			return n, xerr.Wrap(err, xerr.SendError, "relay publish "+topic)
		}
		n++
	}
}
