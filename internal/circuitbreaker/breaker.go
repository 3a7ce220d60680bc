package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings tunes when a breaker trips and recovers.
type Settings struct {
	MaxRequests      uint32        // requests allowed through while half-open
	Interval         time.Duration // closed-state window after which counts reset; 0 never resets
	Timeout          time.Duration // open duration before probing in half-open
	FailureThreshold uint32        // consecutive failures that open the breaker
	SuccessThreshold uint32        // consecutive half-open successes that close it
}

// DefaultSettings suits public research APIs that fail in bursts.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 4,
		SuccessThreshold: 1,
	}
}

// Breaker guards calls to one upstream service.
type Breaker struct {
	name     string
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu                   sync.Mutex
	state                State
	generation           uint64
	requests             uint32
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
	expiry               time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 1
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = 1
	}
	b := &Breaker{name: name, settings: settings, logger: logger, now: time.Now}
	b.newGeneration(b.now())
	return b
}

// Execute runs fn unless the breaker is open. An error from fn counts as a failure.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.after(gen, false)
			panic(r)
		}
	}()

	err = fn()
	b.after(gen, err == nil)
	return err
}

// State returns the current position, advancing open to half-open when due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, _ := b.current(b.now())
	return st
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, gen := b.current(b.now())
	switch {
	case st == StateOpen:
		return gen, ErrOpen
	case st == StateHalfOpen && b.requests >= b.settings.MaxRequests:
		return gen, ErrTooManyRequests
	}
	b.requests++
	return gen, nil
}

func (b *Breaker) after(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st, gen := b.current(now)
	if gen != before {
		return
	}

	if success {
		b.consecutiveFailures = 0
		if st == StateHalfOpen {
			b.consecutiveSuccesses++
			if b.consecutiveSuccesses >= b.settings.SuccessThreshold {
				b.setState(StateClosed, now)
			}
		}
		return
	}

	switch st {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(st State, now time.Time) {
	if b.state == st {
		return
	}
	prev := b.state
	b.state = st
	b.newGeneration(now)

	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", st.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.requests = 0
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0

	switch b.state {
	case StateClosed:
		if b.settings.Interval == 0 {
			b.expiry = time.Time{}
		} else {
			b.expiry = now.Add(b.settings.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.settings.Timeout)
	default:
		b.expiry = time.Time{}
	}
}
