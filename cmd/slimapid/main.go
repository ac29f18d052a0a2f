// Command slimapid serves the demo methods over HTTP (slim and JSON-RPC) and
// NATS, lists them, or calls one from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/config"
	"github.com/guoyu07/SlimWebApi/logging"
)

var CLI struct {
	Serve   ServeCommand      `cmd:"" help:"Serve the demo methods."`
	Methods MethodsCommand    `cmd:"" help:"List the registered methods."`
	Call    CallCommand       `cmd:"" help:"Call a method."`
	Man     mangokong.ManFlag `help:"Write man page." hidden:""`

	EnvFile []string `help:"Dotenv files read before the environment." default:".env" type:"path"`
	Verbose bool     `short:"v" help:"Log at debug level in console format."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`method dispatch server

slimapid exposes plain functions as web API methods. Arguments are read from
query strings, forms or JSON/CBOR documents; results are returned in a
{"Code","Message","Data"} envelope.
		`),
	)

	cfg, err := config.Load(CLI.EnvFile...)
	kongCtx.FatalIfErrorf(err)
	kongCtx.FatalIfErrorf(cfg.Validate())

	logger, err := newLogger(cfg)
	kongCtx.FatalIfErrorf(err)
	defer logger.Sync() //nolint:errcheck

	err = kongCtx.Run(cfg, logger)
	if err != nil {
		logger.Error("command failed", zap.String("command", kongCtx.Command()), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if CLI.Verbose {
		return logging.New("debug", logging.FormatConsole)
	}
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}
