// Package middleware provides endpoint processors for the API transports.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/guoyu07/SlimWebApi/endpoint"
)

// APIHeadersProcessor sets the response headers every API call carries.
//
// Defaults from NewAPIHeadersProcessor:
//   - Cache-Control: no-cache, Pragma: no-cache, Expires: 0
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Referrer-Policy: no-referrer
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//
// Cross-Origin-Resource-Policy is left unset so that JSONP responses can be
// loaded from other origins. CORS preflight requests are answered directly
// with 204 when CORS is configured.
type APIHeadersProcessor struct {
	// NoCache marks responses as not cacheable by browsers and proxies.
	NoCache bool

	// HSTS configures Strict-Transport-Security. nil disables it.
	HSTS *HSTSConfig

	ReferrerPolicy        string
	FrameOptions          string
	ContentTypeOptions    bool
	ContentSecurityPolicy string
	// CrossOriginResourcePolicy is empty by default; "same-origin" breaks
	// cross-site JSONP.
	CrossOriginResourcePolicy string

	// CORS configures Cross-Origin Resource Sharing. nil disables it.
	CORS *CORSConfig
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	// MaxAge in seconds.
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// CORSConfig configures Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	// AllowedOrigins lists allowed origins. "*" allows any origin unless
	// AllowCredentials is set, in which case it is ignored.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	// AllowCredentials lets cookies and auth headers through.
	AllowCredentials bool
	// MaxAge is how long, in seconds, a preflight result may be cached.
	MaxAge int
}

// DefaultCORS allows any origin to call the API with GET and POST.
func DefaultCORS() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Accept-Encoding", "Content-Type"},
		MaxAge:         3600,
	}
}

// APIHeadersOption configures an APIHeadersProcessor.
type APIHeadersOption func(*APIHeadersProcessor)

// NewAPIHeadersProcessor creates an APIHeadersProcessor with API defaults.
func NewAPIHeadersProcessor(opts ...APIHeadersOption) *APIHeadersProcessor {
	p := &APIHeadersProcessor{
		NoCache:               true,
		ReferrerPolicy:        "no-referrer",
		FrameOptions:          "DENY",
		ContentTypeOptions:    true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCaching lets clients cache responses.
func WithCaching() APIHeadersOption {
	return func(p *APIHeadersProcessor) {
		p.NoCache = false
	}
}

// WithHSTS enables Strict-Transport-Security.
func WithHSTS(maxAge int, includeSubDomains, preload bool) APIHeadersOption {
	return func(p *APIHeadersProcessor) {
		p.HSTS = &HSTSConfig{MaxAge: maxAge, IncludeSubDomains: includeSubDomains, Preload: preload}
	}
}

// WithReferrerPolicy sets the Referrer-Policy header.
func WithReferrerPolicy(policy string) APIHeadersOption {
	return func(p *APIHeadersProcessor) {
		p.ReferrerPolicy = policy
	}
}

// WithCSP sets the Content-Security-Policy header. Empty disables it.
func WithCSP(policy string) APIHeadersOption {
	return func(p *APIHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithResourcePolicy sets Cross-Origin-Resource-Policy.
func WithResourcePolicy(policy string) APIHeadersOption {
	return func(p *APIHeadersProcessor) {
		p.CrossOriginResourcePolicy = policy
	}
}

// WithCORS configures CORS headers for cross-origin access.
func WithCORS(config *CORSConfig) APIHeadersOption {
	return func(p *APIHeadersProcessor) {
		p.CORS = config
	}
}

// Process implements endpoint.Processor.
func (p *APIHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.NoCache {
		h.Set("Cache-Control", "no-cache")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
	}
	if hsts := formatHSTS(p.HSTS); hsts != "" {
		h.Set("Strict-Transport-Security", hsts)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	if p.CrossOriginResourcePolicy != "" {
		h.Set("Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)
	}

	if p.CORS != nil {
		setCORSHeaders(w, r, p.CORS)
		if IsPreflight(r) {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}
	return next(w, r)
}

// IsPreflight reports whether r is a CORS preflight request.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

// setCORSHeaders sets CORS headers for cross-origin requests, i.e. those
// carrying an Origin header.
func setCORSHeaders(w http.ResponseWriter, r *http.Request, config *CORSConfig) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h := w.Header()
	h.Add("Vary", "Origin")

	for _, allowed := range config.AllowedOrigins {
		if allowed == "*" {
			// The CORS model forbids a wildcard origin with credentials.
			if config.AllowCredentials {
				continue
			}
			h.Set("Access-Control-Allow-Origin", "*")
			break
		}
		if allowed == origin {
			h.Set("Access-Control-Allow-Origin", origin)
			break
		}
	}
	if config.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}

	if r.Method == http.MethodOptions {
		if len(config.AllowedMethods) > 0 {
			h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
		}
		if len(config.AllowedHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
		}
		if config.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}
	}
}

var _ endpoint.Processor = (*APIHeadersProcessor)(nil)
