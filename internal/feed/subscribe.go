package feed

import (
	"context"

	"go.uber.org/zap"

	"bnstream.com/pkg/logger"
	"bnstream.com/pkg/xerr"
)

// SubscribeDepth subscribes to the 1000ms partial book depth stream of symbol.
// https://developers.binance.com/docs/binance-spot-api-docs/web-socket-streams#partial-book-depth-streams
func (c *Client) SubscribeDepth(ctx context.Context, symbol string, levels Levels) (*Stream[DepthEvent], error) {
	if symbol == "" {
		return nil, xerr.New(xerr.InvalidArgument, "empty symbol")
	}
	if !levels.Valid() {
		return nil, xerr.New(xerr.InvalidArgument, "levels must be 5, 10 or 20, got "+levels.String())
	}
	return subscribeTopic(ctx, c, DepthTopic(symbol, levels), "depth", DecodeDepth)
}

// SubscribeAggTrade subscribes to the aggregate trade stream of symbol.
func (c *Client) SubscribeAggTrade(ctx context.Context, symbol string) (*Stream[AggTradeEvent], error) {
	if symbol == "" {
		return nil, xerr.New(xerr.InvalidArgument, "empty symbol")
	}
	return subscribeTopic(ctx, c, AggTradeTopic(symbol), "aggTrade", DecodeAggTrade)
}

// DepthStream attaches another reader of the depth topic of symbol without
// sending SUBSCRIBE. Attach it before the topic is subscribed to see the
// first snapshot.
func (c *Client) DepthStream(symbol string, levels Levels) (*Stream[DepthEvent], error) {
	if !levels.Valid() {
		return nil, xerr.New(xerr.InvalidArgument, "levels must be 5, 10 or 20, got "+levels.String())
	}
	sub, err := c.Subscribe()
	if err != nil {
		return nil, err
	}
	return NewStream(sub, DepthTopic(symbol, levels), "depth", DecodeDepth), nil
}

// Unsubscribe asks the server to stop sending topics. Open streams for those
// topics simply go quiet.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return xerr.New(xerr.InvalidArgument, "no topics")
	}
	params := make([]any, len(topics))
	for i, t := range topics {
		params[i] = t
	}
	return c.Call(ctx, MethodUnsubscribe, params...)
}

// subscribeTopic attaches to the bus before sending SUBSCRIBE so the reply and
// the first events never land on an empty bus.
func subscribeTopic[T any](ctx context.Context, c *Client, topic, kind string, decode func([]byte) (T, error)) (*Stream[T], error) {
	sub, err := c.Subscribe()
	if err != nil {
		return nil, err
	}
	if err := c.Call(ctx, MethodSubscribe, topic); err != nil {
		sub.Close()
		return nil, err
	}
	logger.Info(c.ctx, "subscribed", zap.String("topic", topic))
	return NewStream(sub, topic, kind, decode), nil
}
