// Package notify issues best-effort notification calls after successful forwards.
//
// A notification runs in its own goroutine and its own failure domain: the
// client response is decided from the forward outcome alone, and nothing the
// notification service does can change it or delay it.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bgruszka/beatgate/internal/forward"
	"github.com/bgruszka/beatgate/internal/metrics"
	"github.com/bgruszka/beatgate/internal/middleware"
	"github.com/bgruszka/beatgate/internal/route"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Outcome is the informational result of one notification attempt.
type Outcome struct {
	Route      string
	Succeeded  bool
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Dispatcher sends at most one notification per forward outcome.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher. rps and burst bound the rate of notification calls
// across all routes; rps <= 0 disables the bound.
func New(client *http.Client, timeout time.Duration, rps float64, burst int) *Dispatcher {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		client:  client,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Eligible reports whether outcome triggers rule.
func Eligible(outcome *forward.Outcome, rule *route.NotificationRule) bool {
	if rule == nil || outcome == nil || outcome.Failed() {
		return false
	}
	return rule.Triggers(outcome.StatusCode)
}

// Dispatch starts the notification for an eligible outcome and returns a channel
// that receives its single Outcome. It returns nil when the notification is skipped,
// which includes every call made after Wait.
// Dispatch never blocks on the notification call itself.
func (d *Dispatcher) Dispatch(ctx context.Context, routeName string, outcome *forward.Outcome, rule *route.NotificationRule) <-chan Outcome {
	if !Eligible(outcome, rule) {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Warn().
			Str("request_id", middleware.RequestIDFromContext(ctx)).
			Str("route", routeName).
			Msg("Notification skipped, dispatcher is draining")
		return nil
	}
	d.wg.Add(1)
	d.mu.Unlock()

	result := make(chan Outcome, 1)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		defer close(result)

		res := d.send(ctx, routeName, rule.URL)
		metrics.RecordNotification(routeName, res.Succeeded)

		event := log.Info()
		if !res.Succeeded {
			event = log.Warn().Err(res.Err)
		}
		event.
			Str("request_id", middleware.RequestIDFromContext(ctx)).
			Str("route", routeName).
			Int("status", res.StatusCode).
			Dur("duration", res.Duration).
			Bool("succeeded", res.Succeeded).
			Msg("Notification attempted")

		result <- res
	}()

	return result
}

// send performs the single POST to url.
func (d *Dispatcher) send(ctx context.Context, routeName, url string) (res Outcome) {
	start := time.Now()
	res.Route = routeName

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		res.Duration = time.Since(start)
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("notification throttled: %w", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		res.Err = fmt.Errorf("build notification request: %w", err)
		return res
	}

	resp, err := d.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("notification call failed: %w", err)
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	res.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Err = fmt.Errorf("notification service returned status %d", resp.StatusCode)
		return res
	}
	res.Succeeded = true
	return res
}

// Wait stops the dispatcher from accepting new notifications and blocks until
// all dispatched ones have finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
