package recall

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker is a per-service circuit breaker. After FailureThreshold
// consecutive failures the circuit opens and calls fail fast with
// ErrCircuitOpen; after RecoveryTimeout one probe call is let through
// (half-open) and a success closes the circuit again.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker for the named service.
func NewBreaker(name string, failureThreshold uint32, recoveryTimeout time.Duration, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single probe in half-open
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state change",
				"service", name,
				"from", from.String(),
				"to", to.String())
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn under the breaker. When the circuit is open the call fails
// fast with ErrCircuitOpen and fn is not invoked.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	return err
}

// BreakerDo runs fn under the breaker, preserving its result type.
func BreakerDo[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Do(func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}

// Breakers is a process-wide registry of circuit breakers keyed by
// service name, sharing one threshold and recovery timeout.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	threshold uint32
	recovery  time.Duration
	logger    *slog.Logger
}

// NewBreakers creates a breaker registry.
func NewBreakers(failureThreshold uint32, recoveryTimeout time.Duration, logger *slog.Logger) *Breakers {
	return &Breakers{
		breakers:  make(map[string]*Breaker),
		threshold: failureThreshold,
		recovery:  recoveryTimeout,
		logger:    logger,
	}
}

// Get returns the breaker for service, creating it on first use.
func (s *Breakers) Get(service string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[service]
	if !ok {
		b = NewBreaker(service, s.threshold, s.recovery, s.logger)
		s.breakers[service] = b
	}
	return b
}
