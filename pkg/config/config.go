package config

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"bnstream.com/pkg/logger"
)

// Snapshot holds the latest config that loaded and passed its check. Readers
// get an immutable value; reloads swap in a fresh one.
type Snapshot[T any] struct {
	cur atomic.Pointer[T]
}

func (s *Snapshot[T]) Get() *T { return s.cur.Load() }

// LoadAndWatch reads {service}.yaml into a new T and reloads it when the file
// changes. Search paths default to ./config and the working directory.
//
// Environment variables override file keys, e.g. DEPTHBOOK_FEED_ENDPOINT
// overrides feed.endpoint.
//
// check may normalize the value and rejects it by returning an error; a
// rejected reload keeps the previous snapshot. onChange runs on the watcher
// goroutine after each accepted reload. Both may be nil.
func LoadAndWatch[T any](service string, check func(*T) error, onChange func(*T), paths ...string) (*Snapshot[T], error) {
	first := new(T)
	v, err := Load(service, first, paths...)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(first); err != nil {
			return nil, err
		}
	}
	snap := &Snapshot[T]{}
	snap.cur.Store(first)

	ctx := context.Background()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("service", service), zap.String("file", e.Name))

		next := new(T)
		if err := v.Unmarshal(next); err != nil {
			logger.Warn(ctx, "reload config failed", zap.String("service", service), zap.Error(err))
			return
		}
		if check != nil {
			if err := check(next); err != nil {
				logger.Warn(ctx, "reloaded config rejected", zap.String("service", service), zap.Error(err))
				return
			}
		}
		snap.cur.Store(next)
		logger.Info(ctx, "config reloaded", zap.String("service", service))
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()

	return snap, nil
}

// Load reads {service}.yaml into out once.
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(strings.ToUpper(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "config loaded",
		zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}
