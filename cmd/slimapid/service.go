package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guoyu07/SlimWebApi/api"
	"github.com/guoyu07/SlimWebApi/compression"
)

// ItemType is a small enum carried by SimpleObject.
type ItemType string

const (
	ItemA ItemType = "ItemA"
	ItemB ItemType = "ItemB"
	ItemC ItemType = "ItemC"
)

// SimpleObject is the document echoed by GetSelf.
type SimpleObject struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Number   float64   `json:"number"`
	DateTime time.Time `json:"dateTime"`
	GUID     string    `json:"guid"`
	Abc      ItemType  `json:"abc"`
}

// demoService holds the sample methods served by slimapid.
type demoService struct {
	guid string
	// cached enables AutoCache methods; it requires a cache provider.
	cached bool

	mu     sync.Mutex
	manual int
}

func newDemoService(cached bool) *demoService {
	return &demoService{guid: uuid.NewString(), cached: cached}
}

// Sum adds the values.
func (s *demoService) Sum(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}

// GetGUID returns the instance identifier, stable for the process lifetime.
func (s *demoService) GetGUID() string {
	return s.guid
}

// DoNothingWith accepts a timestamp and returns nothing.
func (s *demoService) DoNothingWith(date time.Time) {}

// PlusRandom adds x, y and a random number below 1000.
func (s *demoService) PlusRandom(x, y int) int {
	return x + y + rand.IntN(1000)
}

// Error always fails.
func (s *demoService) Error(i int) error {
	return errors.New("an error occurred")
}

// Refuse fails with an application error carrying code.
func (s *demoService) Refuse(code int) error {
	return api.NewError(code, fmt.Sprintf("refused with %d", code))
}

// GetSelf echoes its argument.
func (s *demoService) GetSelf(obj SimpleObject) SimpleObject {
	return obj
}

// InputStream returns head, the request body and tail concatenated.
func (s *demoService) InputStream(head string, input io.Reader, tail string) (string, error) {
	body, err := io.ReadAll(input)
	if err != nil {
		return "", err
	}
	return head + string(body) + tail, nil
}

// Hello greets the world.
func (s *demoService) Hello() string {
	return "World!!"
}

// Zero returns 0.
func (s *demoService) Zero() int {
	return 0
}

// Now returns the current time; results are cached automatically.
func (s *demoService) Now() time.Time {
	return time.Now()
}

// ManualCache increments a counter whenever its cached value has expired.
func (s *demoService) ManualCache(ctx context.Context) (int, error) {
	if v, ok, err := api.CachedResult[int](ctx); err != nil {
		return 0, err
	} else if ok {
		return v, nil
	}

	s.mu.Lock()
	s.manual++
	v := s.manual
	s.mu.Unlock()

	if err := api.SetCachedResult(ctx, v); err != nil {
		return 0, err
	}
	return v, nil
}

// ForceGzipString returns a fresh identifier, always gzip-compressed.
func (s *demoService) ForceGzipString() string {
	return uuid.NewString()
}

// ForceDeflateString returns a fresh identifier, always deflate-compressed.
func (s *demoService) ForceDeflateString() string {
	return uuid.NewString()
}

// AutoCompressionString returns a fresh identifier, compressed as the
// client accepts.
func (s *demoService) AutoCompressionString() string {
	return uuid.NewString()
}

var demoParams = map[string][]string{
	"Sum":           {"values"},
	"DoNothingWith": {"date"},
	"PlusRandom":    {"x", "y"},
	"Error":         {"i"},
	"Refuse":        {"code"},
	"GetSelf":       {"obj"},
	"InputStream":   {"head", "input", "tail"},
}

// ParamNames implements api.ParamNamer.
func (s *demoService) ParamNames(method string) []string {
	return demoParams[method]
}

// MethodSetting implements api.SettingProvider.
func (s *demoService) MethodSetting(method string, base api.Setting) api.Setting {
	switch method {
	case "Now":
		base.AutoCache = s.cached
		base.CacheExpiration = 3 * time.Second
	case "ManualCache":
		base.CacheExpiration = 5 * time.Second
	case "ForceGzipString":
		base.Compression = compression.GZip
	case "ForceDeflateString":
		base.Compression = compression.Deflate
	case "AutoCompressionString":
		base.Compression = compression.Auto
	}
	return base
}

// registerDemo registers the demo service at the top level and again under
// the "demo" namespace.
func registerDemo(reg *api.Registry, svc *demoService) error {
	if _, err := reg.RegisterMethods(svc, api.Setting{}); err != nil {
		return err
	}
	if _, err := reg.RegisterMethods(svc, api.Setting{Name: "demo"}); err != nil {
		return err
	}
	return nil
}
