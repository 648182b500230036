package forward

import (
	"net"
	"net/http"
	"time"

	"github.com/bgruszka/beatgate/internal/middleware"
	"github.com/rs/zerolog/log"
)

// RequestIDTransport wraps an http.RoundTripper to inject the request ID
// from the request context into outbound HTTP requests.
type RequestIDTransport struct {
	header        string
	baseTransport http.RoundTripper
}

// NewRequestIDTransport creates a new RequestIDTransport.
func NewRequestIDTransport(header string, base http.RoundTripper) *RequestIDTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RequestIDTransport{
		header:        http.CanonicalHeaderKey(header),
		baseTransport: base,
	}
}

// RoundTrip implements the http.RoundTripper interface.
// A request ID already present on the outbound request is left untouched.
func (t *RequestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := middleware.RequestIDFromContext(req.Context()); id != "" && req.Header.Get(t.header) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(t.header, id)
		if log.Debug().Enabled() {
			log.Debug().
				Str("request_id", id).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Msg("Injecting request ID into outbound request")
		}
	}

	return t.baseTransport.RoundTrip(req)
}

// NewClient returns the HTTP client used for backend and notification calls.
// Redirects are returned to the caller instead of being followed and bodies are
// never transparently decompressed, so responses reach the client unchanged.
func NewClient(requestIDHeader string, dialTimeout time.Duration) *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
	}

	return &http.Client{
		Transport: NewRequestIDTransport(requestIDHeader, base),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
