package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/config"
	"github.com/guoyu07/SlimWebApi/natsrpc"
	"github.com/guoyu07/SlimWebApi/slim"
)

type CallCommand struct {
	Method string   `arg:"" help:"Method name."`
	Params []string `arg:"" optional:"" help:"Arguments as name=value pairs."`

	Format  string        `help:"Input format (get, post, json, cbor)."`
	Body    string        `help:"Document body file, - for stdin."`
	NATS    bool          `name:"nats" help:"Call a running server over NATS instead of in process."`
	Timeout time.Duration `default:"10s" help:"Call timeout."`
}

func (c *CallCommand) Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	values, err := parseParams(c.Params)
	if err != nil {
		return err
	}
	body, err := c.readBody(os.Stdin)
	if err != nil {
		return err
	}
	logger.Debug("calling method",
		zap.String("method", c.Method),
		zap.Bool("nats", c.NATS),
		zap.String("body", humanize.Bytes(uint64(len(body)))),
	)

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var env slim.Envelope
	var status int
	if c.NATS {
		env, status, err = c.callNATS(ctx, cfg, logger, values, body)
	} else {
		env, status, err = c.callLocal(ctx, cfg, logger, values, body)
	}
	if err != nil {
		return err
	}

	out, err := env.MarshalJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if status != http.StatusOK || env.Code != 0 {
		return fmt.Errorf("%s: status %d, code %d: %s", c.Method, status, env.Code, env.Message)
	}
	return nil
}

func (c *CallCommand) readBody(stdin io.Reader) ([]byte, error) {
	switch c.Body {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(stdin)
	}
	return os.ReadFile(c.Body)
}

func (c *CallCommand) format(body []byte) string {
	if c.Format == "" && len(body) > 0 {
		return "json"
	}
	return c.Format
}

func (c *CallCommand) callLocal(ctx context.Context, cfg *config.Config, logger *zap.Logger, values url.Values, body []byte) (slim.Envelope, int, error) {
	provider, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return slim.Envelope{}, 0, err
	}
	defer closeCache()

	_, d, err := newSlimHandler(cfg, logger, provider)
	if err != nil {
		return slim.Envelope{}, 0, err
	}
	resp := d.DispatchWith(ctx, api.DispatchInfo{
		Method:    c.Method,
		Format:    c.format(body),
		Transport: "cli",
	}, &api.ValuesRequest{Values: values, Payload: body, Source: "cli"})
	return slim.Envelope{Code: resp.Code, Message: resp.Message, Data: resp.Data}, resp.Status, nil
}

func (c *CallCommand) callNATS(ctx context.Context, cfg *config.Config, logger *zap.Logger, values url.Values, body []byte) (slim.Envelope, int, error) {
	if cfg.NATSURL == "" {
		return slim.Envelope{}, 0, fmt.Errorf("SLIMAPI_NATS_URL is not set")
	}
	nc, err := natsrpc.Connect(cfg.NATSURL, cfg.ServiceName+"-cli", logger)
	if err != nil {
		return slim.Envelope{}, 0, err
	}
	defer nc.Close()

	resp, err := natsrpc.Call(ctx, nc, cfg.NATSSubject, natsrpc.Request{
		Method:    c.Method,
		Format:    c.format(body),
		Params:    values,
		Body:      json.RawMessage(body),
		TimeoutMs: c.Timeout.Milliseconds(),
	}, nil)
	if err != nil {
		return slim.Envelope{}, 0, err
	}
	env := slim.Envelope{Code: resp.Code, Message: resp.Message}
	if len(resp.Data) > 0 {
		env.Data = resp.Data
	}
	return env, resp.Status, nil
}

// parseParams turns name=value pairs into values. A name may repeat.
func parseParams(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", p)
		}
		values.Add(name, value)
	}
	return values, nil
}
