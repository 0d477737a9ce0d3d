package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"bnstream.com/internal/feed"
	"bnstream.com/internal/relay"
	"bnstream.com/pkg/config"
	"bnstream.com/pkg/xerr"
)

func TestLoadShippedConfig(t *testing.T) {
	cfg := &Cfg{}
	_, err := config.Load("depthbook", cfg, filepath.Join("..", "..", "config"))
	require.NoError(t, err)
	require.NoError(t, cfg.normalize())

	assert.Equal(t, "depthbook", cfg.Name)
	assert.Equal(t, feed.DefaultMarketDataWSBaseURL+"/ws", cfg.Feed.Endpoint)
	assert.Equal(t, []string{"btcusdt", "ethusdt"}, cfg.Feed.Symbols)
	assert.Equal(t, 10, cfg.Feed.Levels)
	assert.False(t, cfg.Influx.Enabled)
	assert.Equal(t, "depth", cfg.Influx.Bucket)
	assert.Equal(t, uint(2000), cfg.Influx.BatchSize)
}

func TestNormalize(t *testing.T) {
	cfg := &Cfg{Feed: FeedCfg{Symbols: []string{" BTCUSDT ", ""}}}
	require.NoError(t, cfg.normalize())
	assert.Equal(t, []string{"btcusdt"}, cfg.Feed.Symbols)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int(feed.L10), cfg.Feed.Levels)

	assert.Error(t, (&Cfg{Feed: FeedCfg{Symbols: []string{"x"}, Levels: 7}}).normalize())
	assert.Error(t, (&Cfg{}).normalize())
}

func TestFeedOptions(t *testing.T) {
	assert.Equal(t, rate.Limit(0), FeedCfg{}.options().CommandRate)
	assert.Equal(t, rate.Limit(2), FeedCfg{CommandRate: 2}.options().CommandRate)
}

func TestTopFields(t *testing.T) {
	fields := topFields("btcusdt", feed.DepthEvent{
		LastUpdateID: 1,
		Bids:         []feed.PriceLevel{{"1", "2"}},
	})
	assert.Len(t, fields, 4)
}

const ethSnapshot = `{"lastUpdateId":42,"bids":[["2000.10","1.5"]],"asks":[["2000.20","0.7"]]}`

type exchange struct {
	url    string
	conns  atomic.Int32
	closed chan struct{} // one value per connection that went away
}

// newExchange answers each SUBSCRIBE for ethusdt depth with one snapshot on
// the connection it came from, the way the real server scopes /ws streams.
// Connections beyond maxConns are refused; 0 means no limit.
func newExchange(t *testing.T, maxConns int32) *exchange {
	t.Helper()
	ex := &exchange{closed: make(chan struct{}, 16)}
	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := ex.conns.Add(1); maxConns > 0 && n > maxConns {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = c.Close()
			ex.closed <- struct{}{}
		}()
		for {
			_, b, err := c.ReadMessage()
			if err != nil {
				return
			}
			req, err := feed.DecodeRequest(b)
			if err != nil || req.Method != feed.MethodSubscribe {
				continue
			}
			if slices.Contains(req.Params, any(feed.DepthTopic("ethusdt", feed.L10))) {
				_ = c.WriteMessage(gws.TextMessage, []byte(ethSnapshot))
			}
		}
	}))
	t.Cleanup(srv.Close)
	ex.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return ex
}

func TestPipeline_SymbolsDoNotMix(t *testing.T) {
	broker := relay.NewMemBroker()
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	btc, err := broker.Subscribe(ctx, []string{relay.DepthTopic("btcusdt")})
	require.NoError(t, err)
	eth, err := broker.Subscribe(ctx, []string{relay.DepthTopic("ethusdt")})
	require.NoError(t, err)

	ex := newExchange(t, 0)
	cfg := &Cfg{Feed: FeedCfg{Endpoint: ex.url, Symbols: []string{"btcusdt", "ethusdt"}}}
	require.NoError(t, cfg.normalize())
	p := &pipeline{feed: cfg.Feed, broker: broker}

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.run(runCtx) }()

	select {
	case m := <-eth:
		var ev feed.DepthEvent
		require.NoError(t, json.Unmarshal(m.Payload, &ev))
		assert.Equal(t, uint64(42), ev.LastUpdateID)
	case <-time.After(3 * time.Second):
		t.Fatal("ethusdt snapshot not relayed")
	}

	select {
	case m := <-btc:
		t.Fatalf("ethusdt book relayed as btcusdt: %s", m.Payload)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, int32(2), ex.conns.Load())

	stop()
	select {
	case err := <-errCh:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

func TestPipeline_LaterConnectFailureStopsEarlierSymbols(t *testing.T) {
	ex := newExchange(t, 1)
	cfg := &Cfg{Feed: FeedCfg{Endpoint: ex.url, Symbols: []string{"btcusdt", "ethusdt"}}}
	require.NoError(t, cfg.normalize())
	p := &pipeline{feed: cfg.Feed, broker: relay.NewMemBroker()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.run(ctx)
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.ConnectError), "got %v", err)

	// the btcusdt connection was torn down before run returned
	select {
	case <-ex.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection left open")
	}
}
