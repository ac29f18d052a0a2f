package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
	"github.com/guoyu07/SlimWebApi/jsonrpc"
)

type MathMethods struct{}

func (m *MathMethods) Add(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func (m *MathMethods) Sub(args struct {
	A int `json:"a"`
	B int `json:"b"`
}) int {
	return args.A - args.B
}

// ParamNames names the positional parameters, so that
// {"method":"math.Add","params":[1,2]} and {"params":{"a":1,"b":2}} both work.
func (m *MathMethods) ParamNames(method string) []string {
	switch method {
	case "Add":
		return []string{"a", "b"}
	case "Sub":
		return []string{"args"}
	}
	return nil
}

func main() {
	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync() //nolint:errcheck

	reg := api.NewRegistry(api.Options{Logger: logger})
	if _, err := reg.RegisterMethods(&MathMethods{}, api.Setting{Name: "math"}); err != nil {
		logger.Fatal("register", zap.Error(err))
	}
	reg.Seal()

	e := jsonrpc.NewEndpoint(api.NewDispatcher(reg, api.WithLogger(logger)))
	http.Handle("/rpc", endpoint.Handler(e.Endpoint))

	logger.Info("listening", zap.String("addr", ":8080"))
	if err := http.ListenAndServe(":8080", nil); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
