package feed

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"bnstream.com/internal/feed/feedmetrics"
	"bnstream.com/pkg/logger"
)

// frameReader is the read half of the connection. *websocket.Conn satisfies it.
type frameReader interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

const (
	stopReadError     = "read_error"
	stopCanceled      = "canceled"
	stopNoSubscribers = "no_subscribers"
)

// dispatcher owns the read half for its whole life and republishes text
// frames onto the bus. It stops on the first read error or when the bus has
// nobody left to deliver to; either way the bus is closed on exit.
type dispatcher struct {
	r    frameReader
	bus  *Bus
	done chan struct{}

	stopReason string
}

func newDispatcher(r frameReader, bus *Bus) *dispatcher {
	return &dispatcher{r: r, bus: bus, done: make(chan struct{})}
}

func (d *dispatcher) run(ctx context.Context) {
	defer close(d.done)
	defer d.bus.Close()

	for {
		typ, data, err := d.r.Read(ctx)
		if err != nil {
			d.stop(ctx, err)
			return
		}
		if typ != websocket.MessageText {
			feedmetrics.FramesInTotal.WithLabelValues("binary").Inc()
			continue
		}
		feedmetrics.FramesInTotal.WithLabelValues("text").Inc()
		logger.Debug(ctx, "frame", zap.ByteString("raw", data))

		if _, err := d.bus.Publish(data); err != nil {
			// ErrNoSubscribers or ErrBusClosed: nobody will ever read again
			d.stopReason = stopNoSubscribers
			feedmetrics.DispatcherStopTotal.WithLabelValues(stopNoSubscribers).Inc()
			logger.Info(ctx, "dispatcher stopped", zap.String("reason", stopNoSubscribers), zap.Error(err))
			return
		}
		feedmetrics.FramesPublishedTotal.Inc()
	}
}

func (d *dispatcher) stop(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		d.stopReason = stopCanceled
		feedmetrics.DispatcherStopTotal.WithLabelValues(stopCanceled).Inc()
		logger.Info(ctx, "dispatcher stopped", zap.String("reason", stopCanceled))
		return
	}
	d.stopReason = stopReadError
	feedmetrics.DispatcherStopTotal.WithLabelValues(stopReadError).Inc()
	logger.Warn(ctx, "dispatcher stopped",
		zap.String("reason", stopReadError),
		zap.Int("close_status", int(websocket.CloseStatus(err))),
		zap.Error(err),
	)
}
