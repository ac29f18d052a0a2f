package main

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/endpoint"
	"github.com/guoyu07/SlimWebApi/middleware"
	"github.com/guoyu07/SlimWebApi/slim"
)

// Greeting is returned by Hello.
type Greeting struct {
	Text  string `json:"text"`
	Shout bool   `json:"shout"`
}

// Hello greets name. Try:
//
//	curl 'localhost:8080/api/Hello?name=gopher&shout=true'
//	curl 'localhost:8080/api/Hello?name=gopher&~callback=show'
func Hello(name string, shout bool) Greeting {
	text := "Hello, " + name + "!"
	if shout {
		text = strings.ToUpper(text)
	}
	return Greeting{Text: text, Shout: shout}
}

func main() {
	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync() //nolint:errcheck

	// slim.New wraps the registry and dispatcher; Setup runs on first use.
	h := slim.New(slim.Options{
		Setup: func(reg *api.Registry) error {
			_, err := reg.Register(Hello, api.Setting{Params: []string{"name", "shout"}})
			return err
		},
		Processors: []endpoint.Processor{
			middleware.NewAPIHeadersProcessor(middleware.WithCORS(middleware.DefaultCORS())),
		},
		Logger: logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/{method}", h)
	mux.Handle("/api/", h)

	logger.Info("listening", zap.String("addr", ":8080"))
	if err := http.ListenAndServe(":8080", mux); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
