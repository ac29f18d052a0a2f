package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/apiotel"
	"github.com/guoyu07/SlimWebApi/cache"
	"github.com/guoyu07/SlimWebApi/cache/pgcache"
	"github.com/guoyu07/SlimWebApi/config"
	"github.com/guoyu07/SlimWebApi/endpoint"
	"github.com/guoyu07/SlimWebApi/logging"
	"github.com/guoyu07/SlimWebApi/middleware"
	"github.com/guoyu07/SlimWebApi/slim"
)

// openCache builds the configured cache provider. The returned close
// function releases its resources; provider is nil for the "none" backend.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (provider cache.Provider, closeFn func(), err error) {
	switch cfg.CacheBackend {
	case config.CacheMemory:
		return cache.NewMemory(cfg.CacheSize), func() {}, nil
	case config.CachePostgres:
		ser, err := cache.SerializerFor(strings.ToLower(cfg.CacheFormat))
		if err != nil {
			return nil, nil, err
		}
		pool, err := pgcache.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		p := pgcache.New(pool, pgcache.Options{Table: cfg.CacheTable, Serializer: ser, Logger: logger})
		if err := p.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return p, pool.Close, nil
	}
	return nil, func() {}, nil
}

// dispatcherOptions maps the configured log levels and telemetry to
// dispatcher options.
func dispatcherOptions(cfg *config.Config) ([]api.DispatcherOption, error) {
	success, err := logging.ParseLevel(cfg.SuccessLogLevel)
	if err != nil {
		return nil, err
	}
	clientErr, err := logging.ParseLevel(cfg.ClientErrLogLevel)
	if err != nil {
		return nil, err
	}
	opts := []api.DispatcherOption{api.WithLogLevels(success, clientErr)}

	if cfg.EnableTelemetry {
		otelCfg := apiotel.DefaultConfig()
		otelCfg.ServiceName = cfg.ServiceName
		hook, err := apiotel.NewHook(otelCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithHooks(hook))
	}
	return opts, nil
}

// newSlimHandler builds the slim handler over the demo service and forces
// its setup, so that every transport shares one dispatcher.
func newSlimHandler(cfg *config.Config, logger *zap.Logger, provider cache.Provider) (*slim.Handler, *api.Dispatcher, error) {
	dopts, err := dispatcherOptions(cfg)
	if err != nil {
		return nil, nil, err
	}

	headers := []middleware.APIHeadersOption{}
	if cfg.EnableCORS {
		headers = append(headers, middleware.WithCORS(middleware.DefaultCORS()))
	}

	svc := newDemoService(provider != nil)
	h := slim.New(slim.Options{
		Setup: func(reg *api.Registry) error {
			if provider != nil {
				reg.SetCacheBase(provider, cfg.CacheExpiration)
			}
			return registerDemo(reg, svc)
		},
		Dispatcher: dopts,
		Processors: []endpoint.Processor{middleware.NewAPIHeadersProcessor(headers...)},
		FormLimit:  cfg.FormLimit,
		Logger:     logger,
	})
	d, err := h.Init()
	if err != nil {
		return nil, nil, fmt.Errorf("slimapid: %w", err)
	}
	return h, d, nil
}
