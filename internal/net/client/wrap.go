package client

import (
	"errors"
	"net/http"
	"time"

	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/net/budget"
	"github.com/sawpanic/fundsync/internal/net/circuit"
	"github.com/sawpanic/fundsync/internal/net/ratelimit"
)

const userAgent = "fundsync/1.0"

// errServerStatus marks 5xx and 429 responses as breaker failures while the
// response itself is still handed back to the caller for status mapping.
var errServerStatus = errors.New("server error status")

// Wrapper decorates an HTTP transport with per-venue budget accounting, rate
// limiting and circuit breaking. Client errors (4xx except 429) pass through
// untouched so one delisted symbol cannot trip a venue's breaker.
type Wrapper struct {
	venue     models.VenueCode
	transport http.RoundTripper
	budgets   *budget.Manager
	limiter   *ratelimit.Manager
	breaker   *circuit.Manager
}

// NewWrapper creates a guarded transport for one venue. A nil transport
// falls back to http.DefaultTransport; nil guards are skipped.
func NewWrapper(venue models.VenueCode, budgets *budget.Manager, limiter *ratelimit.Manager, breaker *circuit.Manager, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Wrapper{
		venue:     venue,
		transport: transport,
		budgets:   budgets,
		limiter:   limiter,
		breaker:   breaker,
	}
}

// RoundTrip implements http.RoundTripper with the full guard stack
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	if w.budgets != nil {
		if err := w.budgets.Spend(w.venue); err != nil {
			return nil, err
		}
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(req.Context(), w.venue); err != nil {
			return nil, err
		}
	}

	if w.breaker == nil {
		return w.transport.RoundTrip(req)
	}

	result, err := w.breaker.Execute(w.venue, func() (interface{}, error) {
		resp, rtErr := w.transport.RoundTrip(req)
		if rtErr != nil {
			return nil, rtErr
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if err != nil {
		if resp, ok := result.(*http.Response); ok && errors.Is(err, errServerStatus) {
			return resp, nil
		}
		return nil, err
	}

	return result.(*http.Response), nil
}

// New returns an *http.Client guarded by the venue's budget, rate limiter
// and circuit breaker.
func New(venue models.VenueCode, budgets *budget.Manager, limiter *ratelimit.Manager, breaker *circuit.Manager, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewWrapper(venue, budgets, limiter, breaker, nil),
		Timeout:   timeout,
	}
}
