// Package handler provides the request pipeline of the BeatGate gateway.
//
// Every inbound request moves through the same stages: admission by the rate
// limiter, route resolution, an optional upload check, one forward to the
// backend, an optional notification, and finally the response. The response is
// built from the forward outcome alone; the notification only observes it.
package handler

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bgruszka/beatgate/internal/forward"
	"github.com/bgruszka/beatgate/internal/metrics"
	"github.com/bgruszka/beatgate/internal/middleware"
	"github.com/bgruszka/beatgate/internal/notify"
	"github.com/bgruszka/beatgate/internal/ratelimit"
	"github.com/bgruszka/beatgate/internal/route"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBodyBytes is used when Options.MaxBodyBytes is not set.
const DefaultMaxBodyBytes = 32 << 20

// routeUnmatched labels metrics of requests answered before route resolution.
const routeUnmatched = "unmatched"

// Options tunes request handling.
type Options struct {
	// TrustForwardedFor derives the client key from X-Forwarded-For / X-Real-IP.
	TrustForwardedFor bool

	// MaxBodyBytes bounds the request body buffered for forwarding.
	MaxBodyBytes int64
}

// Gateway is the http.Handler that orchestrates one request end to end.
type Gateway struct {
	routes    *route.Table
	limiter   *ratelimit.Limiter
	forwarder *forward.Forwarder
	notifier  *notify.Dispatcher
	opts      Options
}

// NewGateway wires the pipeline stages together.
func NewGateway(routes *route.Table, limiter *ratelimit.Limiter, forwarder *forward.Forwarder, notifier *notify.Dispatcher, opts Options) *Gateway {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Gateway{
		routes:    routes,
		limiter:   limiter,
		forwarder: forwarder,
		notifier:  notifier,
		opts:      opts,
	}
}

// ServeHTTP implements the http.Handler interface.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	rw := metrics.NewResponseWriter(w)
	routeName := routeUnmatched
	clientKey := ratelimit.ClientKey(r, g.opts.TrustForwardedFor)

	defer func() {
		duration := time.Since(start)
		metrics.RecordRequest(routeName, r.Method, rw.StatusCode, duration)
		if log.Debug().Enabled() {
			log.Debug().
				Str("request_id", middleware.RequestIDFromContext(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routeName).
				Str("client", clientKey).
				Int("status", rw.StatusCode).
				Dur("duration", duration).
				Msg("Request completed")
		}
	}()

	if !g.admit(rw, r, clientKey) {
		return
	}

	match, err := g.routes.Resolve(r.Method, r.URL.EscapedPath())
	if err != nil {
		writeResolveError(rw, err)
		return
	}
	routeName = match.Route.Name

	body, ok := g.readBody(rw, r)
	if !ok {
		return
	}

	if part := match.Route.RequiredPart; part != "" && !hasFilePart(r.Header.Get("Content-Type"), body, part) {
		log.Debug().
			Err(ErrMissingUploadPart).
			Str("route", routeName).
			Str("part", part).
			Msg("Rejecting upload before forwarding")
		writeError(rw, http.StatusBadRequest, msgMissingUploadPart)
		return
	}

	outcome := g.forwarder.Forward(r.Context(), forward.Request{
		Method:   r.Method,
		Path:     match.ForwardPath,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
		Body:     body,
	}, match.Route.TargetURL())

	if outcome.Failed() {
		g.writeForwardFailure(rw, r, routeName, &outcome)
		return
	}

	// Dispatched before the response is written; never awaited here.
	g.notifier.Dispatch(r.Context(), routeName, &outcome, match.Route.Notify)

	writeOutcome(rw, r.Method, &outcome)
}

// admit runs the rate limit check and answers the request when it is not admitted.
func (g *Gateway) admit(w http.ResponseWriter, r *http.Request, clientKey string) bool {
	decision, err := g.limiter.Admit(r.Context(), clientKey)
	if err == nil {
		return true
	}

	if errors.Is(err, ratelimit.ErrLimitExceeded) {
		metrics.RecordRateLimited()
		log.Debug().
			Str("client", clientKey).
			Int64("count", decision.Count).
			Int("limit", decision.Limit).
			Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.ResetAfter)))
		writeError(w, http.StatusTooManyRequests, msgRateLimited)
		return false
	}

	log.Error().Err(err).Str("client", clientKey).Msg("Rate limiter failed")
	writeError(w, http.StatusInternalServerError, msgLimiterDown)
	return false
}

// readBody buffers the request body up to the configured limit.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, msgBodyTooLarge)
			return nil, false
		}
		log.Debug().Err(err).Msg("Failed to read request body")
		writeError(w, http.StatusBadRequest, msgBodyUnreadable)
		return nil, false
	}
	return body, true
}

// writeForwardFailure answers a request whose backend call produced no response.
func (g *Gateway) writeForwardFailure(w http.ResponseWriter, r *http.Request, routeName string, outcome *forward.Outcome) {
	metrics.RecordForwardFailure(routeName, string(outcome.Kind))
	log.Error().
		Err(outcome.Err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("route", routeName).
		Str("kind", string(outcome.Kind)).
		Dur("duration", outcome.Duration).
		Msg("Forwarding request failed")

	status := http.StatusInternalServerError
	if outcome.Kind == forward.KindTimeout {
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, outcome.Cause)
}

// writeResolveError maps route resolution errors to 404 and 405.
func writeResolveError(w http.ResponseWriter, err error) {
	var mna *route.MethodNotAllowedError
	if errors.As(err, &mna) {
		w.Header().Set("Allow", strings.Join(mna.Allowed, ", "))
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}
	writeError(w, http.StatusNotFound, msgNotFound)
}

// writeOutcome writes the backend response without altering status or body.
func writeOutcome(w http.ResponseWriter, method string, outcome *forward.Outcome) {
	header := w.Header()
	for k, v := range outcome.Header {
		header[k] = v
	}
	writeBody := method != http.MethodHead && bodyAllowed(outcome.StatusCode)
	if writeBody {
		header.Set("Content-Length", strconv.Itoa(len(outcome.Body)))
	}

	w.WriteHeader(outcome.StatusCode)
	if writeBody && len(outcome.Body) > 0 {
		if _, err := w.Write(outcome.Body); err != nil {
			log.Debug().Err(err).Msg("Client went away before the response was written")
		}
	}
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
