package circuitbreaker

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// HTTPClient is the subset of *http.Client the wrapper needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPWrapper sends requests through a breaker. Transport errors and 5xx
// responses count as failures; 4xx responses do not.
type HTTPWrapper struct {
	client  HTTPClient
	breaker *Breaker
}

// NewHTTPWrapper wraps client (http.DefaultClient when nil) with a breaker named name.
func NewHTTPWrapper(client HTTPClient, name string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPWrapper{client: client, breaker: New(name, settings, logger)}
}

// Breaker exposes the underlying breaker for inspection.
func (w *HTTPWrapper) Breaker() *Breaker { return w.breaker }

// Do executes req through the breaker. A 5xx response is returned to the
// caller with a nil error after being counted against the breaker.
func (w *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.breaker.Execute(func() error {
		var err error
		resp, err = w.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})

	var se *statusError
	if errors.As(err, &se) {
		return resp, nil
	}
	return resp, err
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
