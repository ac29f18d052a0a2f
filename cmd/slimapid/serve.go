package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/config"
	"github.com/guoyu07/SlimWebApi/endpoint"
	"github.com/guoyu07/SlimWebApi/jsonrpc"
	"github.com/guoyu07/SlimWebApi/natsrpc"
	"github.com/guoyu07/SlimWebApi/slim"
)

type ServeCommand struct {
	Addr            string        `help:"Override SLIMAPI_HTTP_ADDR."`
	NATSURL         string        `name:"nats-url" help:"Override SLIMAPI_NATS_URL."`
	ShutdownTimeout time.Duration `default:"10s" help:"Grace period for in-flight requests."`
}

func (c *ServeCommand) Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	if c.Addr != "" {
		cfg.HTTPAddr = c.Addr
	}
	if c.NATSURL != "" {
		cfg.NATSURL = c.NATSURL
	}

	if cfg.EnableTelemetry {
		shutdown, terr := setupTelemetry(cfg.ServiceName, os.Stderr)
		if terr != nil {
			return terr
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
			defer cancel()
			err = multierr.Append(err, shutdown(sctx))
		}()
	}

	provider, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	h, d, err := newSlimHandler(cfg, logger, provider)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h2c.NewHandler(newMux(cfg, h, d), &http2.Server{}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("prefix", cfg.HTTPPrefix),
			zap.String("rpc", cfg.RPCPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.NATSURL != "" {
		g.Go(func() error {
			return serveNATS(ctx, cfg, logger, d)
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// serveNATS answers NATS requests until ctx is done.
func serveNATS(ctx context.Context, cfg *config.Config, logger *zap.Logger, d *api.Dispatcher) error {
	nc, err := natsrpc.Connect(cfg.NATSURL, cfg.ServiceName, logger)
	if err != nil {
		return err
	}
	s := natsrpc.NewServer(nc, d, cfg.NATSSubject,
		natsrpc.WithQueue(cfg.NATSQueue),
		natsrpc.WithTimeout(cfg.CallTimeout),
		natsrpc.WithMaxInFlight(cfg.NATSMaxInFlight),
		natsrpc.WithLogger(logger),
	)
	if err := s.Start(ctx); err != nil {
		nc.Close()
		return err
	}
	<-ctx.Done()
	err = multierr.Append(s.Stop(), nc.Drain())
	return err
}

// newMux routes slim calls under the prefix, JSON-RPC on its path and the
// method listing on "<prefix>~methods".
func newMux(cfg *config.Config, h *slim.Handler, d *api.Dispatcher) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.HTTPPrefix+"{method}", h)
	mux.Handle(cfg.HTTPPrefix, h)
	mux.Handle("GET "+cfg.HTTPPrefix+"~methods", endpoint.HandleFunc(
		func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
			return &endpoint.JSONRenderer{Value: d.Registry().Describe()}, nil
		}))
	if cfg.RPCPath != "" {
		mux.Handle(cfg.RPCPath, endpoint.Handler(jsonrpc.NewEndpoint(d).Endpoint))
	}
	return mux
}
