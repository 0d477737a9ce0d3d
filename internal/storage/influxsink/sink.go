// Package influxsink stores top-of-book snapshots in InfluxDB.
package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"bnstream.com/internal/feed"
	"bnstream.com/pkg/logger"
)

const Measurement = "depth_top"

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip"`
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}

type pointWriter interface {
	WritePoint(p *write.Point)
}

// DepthSource yields depth events until it ends; *feed.Stream[feed.DepthEvent]
// satisfies it.
type DepthSource interface {
	Next(ctx context.Context) (feed.DepthEvent, bool)
}

type Sink struct {
	client influxdb2.Client
	w      pointWriter
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// async writes report failures here; the channel must be drained
	go func() {
		for err := range w.Errors() {
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	}()

	logger.Info(context.Background(), "influx sink ready", zap.Stringer("config", cfg))
	return &Sink{client: c, w: w}
}

// Close flushes buffered points.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// WriteDepth records best bid/ask of ev. It reports false when either side
// is empty or unparseable and nothing was written.
func (s *Sink) WriteDepth(symbol string, ev feed.DepthEvent, ts time.Time) bool {
	fields, ok := topOfBook(ev)
	if !ok {
		return false
	}
	tags := map[string]string{"symbol": symbol}
	s.w.WritePoint(write.NewPoint(Measurement, tags, fields, ts))
	return true
}

// Run writes every event of src, stamped with arrival time, until src ends
// or ctx is done. It returns the number of points written.
func (s *Sink) Run(ctx context.Context, symbol string, src DepthSource) (int, error) {
	n := 0
	for {
		ev, ok := src.Next(ctx)
		if !ok {
			return n, ctx.Err()
		}
		if s.WriteDepth(symbol, ev, time.Now()) {
			n++
		}
	}
}

func topOfBook(ev feed.DepthEvent) (map[string]any, bool) {
	bid, ok := ev.BestBid()
	if !ok {
		return nil, false
	}
	ask, ok := ev.BestAsk()
	if !ok {
		return nil, false
	}
	bp, bq, err := bid.Decimal()
	if err != nil {
		return nil, false
	}
	ap, aq, err := ask.Decimal()
	if err != nil {
		return nil, false
	}

	return map[string]any{
		"bid":       bp.InexactFloat64(),
		"bid_qty":   bq.InexactFloat64(),
		"ask":       ap.InexactFloat64(),
		"ask_qty":   aq.InexactFloat64(),
		"spread":    ap.Sub(bp).InexactFloat64(),
		"update_id": int64(ev.LastUpdateID),
	}, true
}
