package azdo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors for Azure DevOps client failures.
var (
	ErrUnavailable       = errors.New("azure devops unavailable")
	ErrRetriesExhausted  = errors.New("azure devops retries exhausted")
	ErrUnexpectedPayload = errors.New("azure devops unexpected payload")
)

// maxBodyBytes caps how much of one log segment is read into memory.
const maxBodyBytes = 8 << 20

// RetryableError marks a failed attempt that may succeed if repeated: a
// transport failure, a timeout, a 429 or a 5xx.
type RetryableError struct {
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retryable: %v", e.Err)
	}
	return fmt.Sprintf("retryable: status %d", e.StatusCode)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryPolicy bounds the retrying transport.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
}

// maxRetryDelay caps a single backoff wait.
const maxRetryDelay = time.Minute

// Retrier issues GET requests, retrying retryable failures with exponential
// backoff. A non-retryable status is returned after one attempt. When attempts
// run out the last response is returned, or the last transport error wrapped
// in ErrRetriesExhausted.
type Retrier struct {
	client   *http.Client
	policy   RetryPolicy
	newTimer func() backoff.Timer
	logger   *slog.Logger
}

// NewRetrier creates a Retrier. MaxAttempts below 1 is treated as 1.
func NewRetrier(client *http.Client, policy RetryPolicy) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Retrier{
		client: client,
		policy: policy,
		logger: slog.Default().With("component", "azdo_retrier"),
	}
}

// Get fetches url, sending headers on every attempt.
func (r *Retrier) Get(ctx context.Context, url string, headers http.Header) (*Response, error) {
	var (
		lastResp *Response
		attempts int
	)
	operation := func() error {
		attempts++
		resp, err := r.attempt(ctx, url, headers)
		var retryable *RetryableError
		if err != nil && !errors.As(err, &retryable) {
			return backoff.Permanent(err)
		}
		lastResp = resp
		return err
	}
	notify := func(err error, next time.Duration) {
		r.logger.Debug("retrying request", "attempt", attempts, "delay", next, "error", err)
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, r.backOff(ctx), notify, timer)
	if err == nil {
		return lastResp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var retryable *RetryableError
	if !errors.As(err, &retryable) {
		return nil, err
	}
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
}

// backOff doubles from BaseDelay without jitter and stops after MaxAttempts
// attempts or when ctx ends.
func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxRetryDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.policy.MaxAttempts-1)), ctx)
}

// attempt performs one request. Retryable statuses come back as both a
// response and a *RetryableError so Get can surface the final one.
func (r *Retrier) attempt(ctx context.Context, url string, headers http.Header) (*Response, error) {
	reqCtx := ctx
	if r.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.policy.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	httpResp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; retrying cannot help.
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		return nil, &RetryableError{Err: classifyError(err)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &RetryableError{Err: classifyError(err)}
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Body: body}
	if isRetryableStatus(resp.StatusCode) {
		return resp, &RetryableError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
