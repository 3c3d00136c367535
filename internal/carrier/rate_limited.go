package carrier

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ringpath/dialcore/internal/observability"
)

// RateLimitedCarrier wraps a Carrier with a token-bucket (default 20 ops/s,
// burst 10) and a circuit breaker (5 failures -> open 60s), per §5's rate
// limit policy. Every Initiate/Hangup call passes through both guards.
type RateLimitedCarrier struct {
	inner   Carrier
	limiter *rate.Limiter
	breaker *CircuitBreaker
	timeout time.Duration
}

func NewRateLimitedCarrier(inner Carrier) *RateLimitedCarrier {
	return &RateLimitedCarrier{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(20), 10),
		breaker: NewCircuitBreaker(),
		timeout: 10 * time.Second,
	}
}

func (c *RateLimitedCarrier) Initiate(ctx context.Context, params InitiateParams) (CallDetails, error) {
	return c.guarded(ctx, "initiate", func(ctx context.Context) (CallDetails, error) {
		return c.inner.Initiate(ctx, params)
	})
}

func (c *RateLimitedCarrier) Hangup(ctx context.Context, sid string) error {
	_, err := c.guarded(ctx, "hangup", func(ctx context.Context) (CallDetails, error) {
		return CallDetails{}, c.inner.Hangup(ctx, sid)
	})
	return err
}

func (c *RateLimitedCarrier) GetDetails(ctx context.Context, sid string) (CallDetails, error) {
	return c.guarded(ctx, "get_details", func(ctx context.Context) (CallDetails, error) {
		return c.inner.GetDetails(ctx, sid)
	})
}

func (c *RateLimitedCarrier) guarded(ctx context.Context, op string, fn func(context.Context) (CallDetails, error)) (CallDetails, error) {
	if !c.breaker.Allow() {
		observability.WorkerCarrierRequests.WithLabelValues(op, "circuit_open").Inc()
		return CallDetails{}, ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		observability.WorkerCarrierRequests.WithLabelValues(op, "rate_limited").Inc()
		return CallDetails{}, ErrRateLimited
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	details, err := fn(reqCtx)
	if err != nil {
		if isFatalCredentialError(err) {
			observability.WorkerCarrierRequests.WithLabelValues(op, "fatal").Inc()
			return details, err
		}
		c.breaker.RecordFailure()
		observability.WorkerCarrierRequests.WithLabelValues(op, "error").Inc()
		return details, err
	}
	c.breaker.RecordSuccess()
	observability.WorkerCarrierRequests.WithLabelValues(op, "ok").Inc()
	return details, nil
}

// httpStatusError lets fakes/test carriers signal the HTTP status that
// drove a failure so guarded() can classify it.
type httpStatusError struct {
	status int
	err    error
}

func (e *httpStatusError) Error() string { return e.err.Error() }
func (e *httpStatusError) Unwrap() error { return e.err }

func NewHTTPStatusError(status int, err error) error {
	return &httpStatusError{status: status, err: err}
}

func isFatalCredentialError(err error) bool {
	var hse *httpStatusError
	if e, ok := err.(*httpStatusError); ok {
		hse = e
	} else {
		return false
	}
	return hse.status == http.StatusUnauthorized || hse.status == http.StatusForbidden
}

var _ Carrier = (*RateLimitedCarrier)(nil)
