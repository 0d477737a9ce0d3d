package main

import (
	"errors"
	"strings"

	"golang.org/x/time/rate"

	"bnstream.com/internal/feed"
	"bnstream.com/internal/storage/influxsink"
)

type Cfg struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	Feed    FeedCfg  `mapstructure:"feed"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	Trace struct {
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"trace"`
	Nats struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"nats"`
	Influx struct {
		Enabled           bool `mapstructure:"enabled"`
		influxsink.Config `mapstructure:",squash"`
	} `mapstructure:"influx"`
}

type FeedCfg struct {
	// Endpoint overrides the market-data URL, e.g. wss://stream.binance.com:9443/ws
	Endpoint    string   `mapstructure:"endpoint"`
	Symbols     []string `mapstructure:"symbols"`
	Levels      int      `mapstructure:"levels"`
	AggTrade    bool     `mapstructure:"agg_trade"`
	BusCapacity int      `mapstructure:"bus_capacity"`
	CommandRate float64  `mapstructure:"command_rate"`
}

func (c *Cfg) normalize() error {
	if c.Name == "" {
		c.Name = "depthbook"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Feed.Endpoint == "" {
		c.Feed.Endpoint = feed.DefaultMarketDataWSBaseURL + "/ws"
	}
	if c.Feed.Levels == 0 {
		c.Feed.Levels = int(feed.L10)
	}
	if !feed.Levels(c.Feed.Levels).Valid() {
		return errors.New("feed.levels must be 5, 10 or 20")
	}

	symbols := c.Feed.Symbols[:0]
	for _, s := range c.Feed.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, strings.ToLower(s))
		}
	}
	if len(symbols) == 0 {
		return errors.New("feed.symbols is empty")
	}
	c.Feed.Symbols = symbols
	return nil
}

func (f FeedCfg) options() feed.Options {
	opt := feed.Options{BusCapacity: f.BusCapacity}
	if f.CommandRate > 0 {
		opt.CommandRate = rate.Limit(f.CommandRate)
	}
	return opt
}
