// Package forward relays inbound requests to backend services.
package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Request is the part of an inbound request that is relayed to the backend.
type Request struct {
	Method string

	// Path is the escaped path to request on the backend, as sent by the client.
	Path string

	RawQuery string
	Header   http.Header
	Body     []byte
}

// hopHeaders are connection-scoped and never copied from a backend response.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder performs exactly one outbound call per inbound request.
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
	headers []string
}

// New creates a Forwarder. headers lists the inbound headers copied verbatim to the backend.
func New(client *http.Client, timeout time.Duration, headers []string) *Forwarder {
	canonical := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			canonical = append(canonical, http.CanonicalHeaderKey(h))
		}
	}
	return &Forwarder{
		client:  client,
		timeout: timeout,
		headers: canonical,
	}
}

// Forward sends req to target and returns its outcome. It never retries.
// The call is detached from cancellation of ctx so that a client disconnect
// does not abort a backend operation that may already have taken effect; it is
// bounded only by the forwarder timeout.
func (f *Forwarder) Forward(ctx context.Context, req Request, target *url.URL) Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	outcome := f.do(ctx, req, target)
	outcome.Duration = time.Since(start)
	return outcome
}

func (f *Forwarder) do(ctx context.Context, req Request, target *url.URL) Outcome {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	outURL, err := targetURL(target, req.Path, req.RawQuery)
	if err != nil {
		return Outcome{Kind: KindTransport, Cause: "invalid backend request", Err: err}
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, outURL, body)
	if err != nil {
		return Outcome{Kind: KindTransport, Cause: "invalid backend request", Err: err}
	}

	for _, name := range f.headers {
		for _, v := range req.Header.Values(name) {
			outReq.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(outReq)
	if err != nil {
		if isTimeout(err) {
			return Outcome{Kind: KindTimeout, Cause: "Request timed out", Err: err}
		}
		return Outcome{Kind: KindTransport, Cause: transportCause(err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Debug().Err(err).Int("status", resp.StatusCode).Msg("Backend response interrupted")
		return Outcome{Kind: KindTransport, Cause: "backend response was interrupted", Err: err}
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	if c := resp.Header.Get("Connection"); c != "" {
		for _, field := range strings.Split(c, ",") {
			if field = strings.TrimSpace(field); field != "" {
				header.Del(field)
			}
		}
	}

	return Outcome{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       respBody,
	}
}

// targetURL joins the backend base URL with the escaped forwarded path and query.
// Escapes such as %2F reach the backend unchanged.
func targetURL(base *url.URL, escapedPath, rawQuery string) (string, error) {
	raw := strings.TrimSuffix(base.EscapedPath(), "/") + "/" + strings.TrimPrefix(escapedPath, "/")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}

	u := *base
	u.Path = decoded
	u.RawPath = raw
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// transportCause describes err without the backend URL or address.
func transportCause(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "backend service host could not be resolved"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "backend service refused the connection"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "backend service reset the connection"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "backend service closed the connection"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "backend service is unreachable"
	}
	return "backend request failed"
}
