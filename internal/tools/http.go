package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jorge-barreto/synthflow/internal/circuitbreaker"
)

const maxBodyBytes = 16 << 20

// HTTPOptions configures a remote retrieval client.
type HTTPOptions struct {
	BaseURL string
	// Rate is the sustained request rate per second; zero disables limiting.
	Rate     float64
	Attempts int
	Backoff  time.Duration
	Client   *http.Client
	Breaker  circuitbreaker.Settings
	Logger   *zap.Logger
}

// StatusError is returned for non-2xx responses that exhausted retries.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// fetcher issues GETs with rate limiting, a circuit breaker, and retries on
// transport errors and 5xx responses.
type fetcher struct {
	baseURL  string
	http     *circuitbreaker.HTTPWrapper
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
}

func newFetcher(name string, opts HTTPOptions) *fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	settings := opts.Breaker
	if settings == (circuitbreaker.Settings{}) {
		settings = circuitbreaker.DefaultSettings()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	backoff := opts.Backoff
	if backoff < 0 {
		backoff = 0
	}
	f := &fetcher{
		baseURL:  opts.BaseURL,
		http:     circuitbreaker.NewHTTPWrapper(client, name, settings, logger),
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
	}
	if opts.Rate > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return f
}

// get fetches baseURL+path with query q and returns the body of a 2xx response.
func (f *fetcher) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := f.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, f.backoff); err != nil {
				return nil, err
			}
		}
		body, retry, err := f.once(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}
		f.logger.Debug("Retrying request", zap.String("url", redact(u)), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}

func (f *fetcher) once(ctx context.Context, u string) (body []byte, retry bool, err error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, false, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", "synthflow")

	resp, err := f.http.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redact(ue.URL)
		}
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) || ctx.Err() != nil {
			return nil, false, err
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode >= 500, &StatusError{Code: resp.StatusCode, URL: redact(u)}
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}
	return body, false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redact strips API keys from URLs before they reach logs or failure reasons.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}
