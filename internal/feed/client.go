// Package feed is a streaming client for Binance spot WebSocket market streams.
//
// One Client holds one connection. Its write half is used by Send/Call under a
// mutex; its read half belongs to a background dispatcher that republishes
// every text frame onto a Bus. Typed streams (SubscribeDepth,
// SubscribeAggTrade) each hold a Bus subscription and keep only the frames
// that decode into their event type.
//
//	c, err := feed.ConnectMarketData(ctx, feed.Options{})
//	if err != nil { ... }
//	defer c.Close()
//
//	depth, err := c.SubscribeDepth(ctx, "btcusdt", feed.L10)
//	for ev := range depth.All(ctx) {
//	    ...
//	}
//
// There is no reconnection: when the connection drops, every stream ends and
// the caller builds a new Client.
//
// Call Close when done. A Client that becomes unreachable together with all of
// its streams is torn down by the garbage collector, but only eventually.
package feed

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bnstream.com/internal/feed/feedmetrics"
	"bnstream.com/pkg/logger"
	"bnstream.com/pkg/safe"
	"bnstream.com/pkg/xerr"
)

const (
	DefaultWSBaseURL           = "wss://stream.binance.com:9443"
	DefaultMarketDataWSBaseURL = "wss://data-stream.binance.vision"

	// Binance drops connections that send more than 5 messages per second.
	DefaultCommandRate  = rate.Limit(5)
	DefaultCommandBurst = 5
	DefaultReadLimit    = 1 << 20
)

var ErrClientClosed = errors.New("feed: client closed")

var tracer = otel.Tracer("bnstream.com/internal/feed")

type Options struct {
	BusCapacity int   // per-subscription backlog, default DefaultBusCapacity
	ReadLimit   int64 // max inbound frame size, default DefaultReadLimit

	// CommandRate limits outgoing frames; rate.Inf disables limiting.
	CommandRate  rate.Limit
	CommandBurst int

	HTTPHeader http.Header
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.BusCapacity <= 0 {
		o.BusCapacity = DefaultBusCapacity
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.CommandRate == 0 {
		o.CommandRate = DefaultCommandRate
	}
	if o.CommandBurst <= 0 {
		o.CommandBurst = DefaultCommandBurst
	}
	return o
}

type Client struct {
	id   string
	url  string
	conn *websocket.Conn

	ctx    context.Context // carries the trace id; canceled by Close
	cancel context.CancelFunc

	writeMu sync.Mutex
	limiter *rate.Limiter

	bus  *Bus
	disp *dispatcher

	closed    atomic.Bool
	closeOnce sync.Once
	cleanup   runtime.Cleanup
}

// teardown is what the cleanup needs to stop a dropped Client. It must not
// reference the Client itself.
type teardown struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	url    string
}

func dropped(t teardown) {
	t.cancel()
	_ = t.conn.CloseNow()
	feedmetrics.OnClose()
	logger.Warn(t.ctx, "client dropped without Close", zap.String("url", t.url))
}

// Connect dials url and starts the dispatcher. ctx bounds the handshake only.
func Connect(ctx context.Context, url string, opt Options) (*Client, error) {
	opt = opt.withDefaults()
	id := uuid.NewString()
	lctx := logger.WithTraceID(ctx, id)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: opt.HTTPHeader,
		HTTPClient: opt.HTTPClient,
	})
	feedmetrics.OnConnect(err)
	if err != nil {
		logger.Error(lctx, "connect failed", zap.String("url", url), zap.Error(err))
		return nil, xerr.Wrap(err, xerr.ConnectError, "dial "+url)
	}
	conn.SetReadLimit(opt.ReadLimit)

	runCtx, cancel := context.WithCancel(logger.WithTraceID(context.Background(), id))
	bus := NewBus(opt.BusCapacity)
	c := &Client{
		id:      id,
		url:     url,
		conn:    conn,
		ctx:     runCtx,
		cancel:  cancel,
		limiter: rate.NewLimiter(opt.CommandRate, opt.CommandBurst),
		bus:     bus,
		disp:    newDispatcher(conn, bus),
	}
	safe.GoCtx(runCtx, c.disp.run)
	c.cleanup = runtime.AddCleanup(c, dropped, teardown{ctx: runCtx, cancel: cancel, conn: conn, url: url})

	logger.Info(lctx, "connected", zap.String("url", url), zap.Int("bus_capacity", opt.BusCapacity))
	return c, nil
}

// ConnectMarketData connects to the market-data-only endpoint.
func ConnectMarketData(ctx context.Context, opt Options) (*Client, error) {
	return Connect(ctx, DefaultMarketDataWSBaseURL+"/ws", opt)
}

// ConnectStream connects to the general streaming endpoint.
func ConnectStream(ctx context.Context, opt Options) (*Client, error) {
	return Connect(ctx, DefaultWSBaseURL+"/ws", opt)
}

func (c *Client) ID() string  { return c.id }
func (c *Client) URL() string { return c.url }

// Done is closed once the dispatcher has stopped and every subscription ended.
func (c *Client) Done() <-chan struct{} { return c.disp.done }

// Subscribe attaches a raw frame subscription to the connection's bus. The
// subscription keeps the Client reachable.
func (c *Client) Subscribe() (*Subscription, error) {
	sub, err := c.bus.Subscribe()
	if err != nil {
		return nil, xerr.Wrap(err, xerr.Closed, "subscribe")
	}
	sub.owner = c
	return sub, nil
}

// Send encodes v as JSON and writes it as one text frame.
func (c *Client) Send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return xerr.Wrap(err, xerr.InvalidArgument, "encode payload")
	}
	return c.writeText(ctx, b)
}

// Call sends a command envelope with a fresh random id. It returns once the
// frame is written; the server's reply, if any, shows up on the bus like any
// other frame.
func (c *Client) Call(ctx context.Context, method string, params ...any) error {
	req := Request{Method: method, Params: params, ID: nextID()}

	ctx, span := tracer.Start(ctx, "feed.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("rpc.id", strconv.FormatUint(req.ID, 10)),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.sendRequest(ctx, req)
	feedmetrics.ObserveCommand(method, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn(c.ctx, "call failed", zap.String("method", method), zap.Uint64("id", req.ID), zap.Error(err))
		return err
	}
	logger.Debug(c.ctx, "call", zap.String("method", method), zap.Any("params", params), zap.Uint64("id", req.ID))
	return nil
}

func (c *Client) sendRequest(ctx context.Context, req Request) error {
	b, err := EncodeRequest(req)
	if err != nil {
		return xerr.Wrap(err, xerr.InvalidArgument, "encode request")
	}
	return c.writeText(ctx, b)
}

func (c *Client) writeText(ctx context.Context, b []byte) error {
	if c.closed.Load() {
		return xerr.Wrap(ErrClientClosed, xerr.SendError, "write frame")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return xerr.Wrap(err, xerr.SendError, "rate limit wait")
	}

	c.writeMu.Lock()
	err := c.conn.Write(ctx, websocket.MessageText, b)
	c.writeMu.Unlock()
	if err != nil {
		return xerr.Wrap(err, xerr.SendError, "write frame")
	}
	return nil
}

// Close cancels the dispatcher and drops the transport without a close
// handshake, then waits for the dispatcher to exit. Safe to call repeatedly.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cleanup.Stop()
		c.closed.Store(true)
		c.cancel()
		if err := c.conn.CloseNow(); err != nil {
			logger.Debug(c.ctx, "close transport", zap.Error(err))
		}
		<-c.disp.done
		feedmetrics.OnClose()
		logger.Info(c.ctx, "connection closed", zap.String("url", c.url), zap.String("reason", c.disp.stopReason))
	})
	return nil
}

// ids are independent draws; the server never correlates them with anything
func nextID() uint64 { return rand.Uint64() }
