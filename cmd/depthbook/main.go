// Command depthbook prints top of book for a set of symbols and optionally
// forwards depth events to NATS and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bnstream.com/internal/feed"
	"bnstream.com/internal/relay"
	"bnstream.com/internal/storage/influxsink"
	"bnstream.com/pkg/config"
	"bnstream.com/pkg/logger"
	"bnstream.com/pkg/safe"
	"bnstream.com/pkg/trace"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// only log_level is applied on reload; everything else is read once below
	snap, err := config.LoadAndWatch("depthbook", (*Cfg).normalize, func(c *Cfg) {
		if err := logger.SetLevel(c.LogLevel); err != nil {
			logger.Warn(ctx, "ignoring log_level", zap.String("log_level", c.LogLevel), zap.Error(err))
		}
	})
	if err != nil {
		panic(fmt.Sprintf("load config: %+v", err))
	}
	cfg := snap.Get()

	logger.InitWithFile(cfg.Name, cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	if cfg.Trace.Endpoint != "" {
		shutdown, err := trace.InitTrace(cfg.Name, cfg.Trace.Endpoint)
		if err != nil {
			logger.Warn(ctx, "trace disabled", zap.Error(err))
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler()}
		safe.Go(func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server", zap.Error(err))
			}
		})
		defer func() { _ = srv.Close() }()
	}

	p := &pipeline{feed: cfg.Feed}
	if cfg.Nats.URL != "" {
		nb, err := relay.NewNatsBroker(cfg.Nats.URL)
		if err != nil {
			logger.Fatal(ctx, "nats", zap.Error(err))
		}
		defer nb.Close()
		p.broker = nb
	}
	if cfg.Influx.Enabled {
		p.sink = influxsink.New(cfg.Influx.Config)
		defer p.sink.Close()
	}

	if err := p.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "depthbook stopped", zap.Error(err))
		return
	}
	logger.Info(ctx, "bye")
}

// pipeline runs one connection per symbol. Depth payloads carry no symbol,
// so sharing a connection between symbols would mix their books.
type pipeline struct {
	feed   FeedCfg
	broker relay.Broker     // optional
	sink   *influxsink.Sink // optional
}

// run blocks until ctx is done or a connection is lost.
func (p *pipeline) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var clients []*feed.Client
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()

	for _, symbol := range p.feed.Symbols {
		c, err := p.start(ctx, gctx, g, symbol)
		if c != nil {
			clients = append(clients, c)
		}
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}
	return g.Wait()
}

// start connects for symbol and launches its consumers on g. Every consumer
// gets its own stream, attached before SUBSCRIBE so none misses the first
// snapshot.
func (p *pipeline) start(ctx, gctx context.Context, g *errgroup.Group, symbol string) (*feed.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := feed.Connect(dialCtx, p.feed.Endpoint, p.feed.options())
	if err != nil {
		return nil, err
	}
	levels := feed.Levels(p.feed.Levels)

	var relayed, stored *feed.Stream[feed.DepthEvent]
	if p.broker != nil {
		if relayed, err = c.DepthStream(symbol, levels); err != nil {
			return c, err
		}
	}
	if p.sink != nil {
		if stored, err = c.DepthStream(symbol, levels); err != nil {
			return c, err
		}
	}
	logged, err := c.SubscribeDepth(dialCtx, symbol, levels)
	if err != nil {
		return c, err
	}

	g.Go(func() error {
		logDepth(gctx, symbol, logged)
		return nil
	})
	if relayed != nil {
		g.Go(func() error {
			_, err := relay.Pump(gctx, p.broker, relay.DepthTopic(symbol), relayed)
			return err
		})
	}
	if stored != nil {
		g.Go(func() error {
			_, err := p.sink.Run(gctx, symbol, stored)
			return err
		})
	}

	if p.feed.AggTrade {
		trades, err := c.SubscribeAggTrade(dialCtx, symbol)
		if err != nil {
			return c, err
		}
		g.Go(func() error { return p.consumeTrades(gctx, symbol, trades) })
	}

	// no reconnection: losing one symbol's feed stops the whole pipeline
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-c.Done():
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: connection lost", symbol)
		}
	})
	return c, nil
}

func logDepth(ctx context.Context, symbol string, s *feed.Stream[feed.DepthEvent]) {
	for ev := range s.All(ctx) {
		logger.Info(ctx, "depth", topFields(symbol, ev)...)
	}
}

func (p *pipeline) consumeTrades(ctx context.Context, symbol string, s *feed.Stream[feed.AggTradeEvent]) error {
	if p.broker != nil {
		_, err := relay.Pump(ctx, p.broker, relay.AggTradeTopic(symbol), s)
		return err
	}
	for tr := range s.All(ctx) {
		logger.Debug(ctx, "aggTrade", zap.String("symbol", symbol), zap.String("price", tr.Price), zap.String("qty", tr.Qty))
	}
	return nil
}

func topFields(symbol string, ev feed.DepthEvent) []zap.Field {
	fields := []zap.Field{zap.String("symbol", symbol), zap.Uint64("update_id", ev.LastUpdateID)}
	if bid, ok := ev.BestBid(); ok {
		fields = append(fields, zap.String("bid", bid.Price()), zap.String("bid_qty", bid.Qty()))
	}
	if ask, ok := ev.BestAsk(); ok {
		fields = append(fields, zap.String("ask", ask.Price()), zap.String("ask_qty", ask.Qty()))
	}
	return fields
}
