// Package circuitbreaker wraps sony/gobreaker for calls to the ledger
// gateway, with logging and OpenTelemetry counters.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies the circuit breaker.
	Name string
	// MaxRequests is max requests allowed in half-open state.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state.
	Interval time.Duration
	// Timeout is how long to wait before transitioning from open to half-open.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count before opening.
	FailureThreshold uint32
	// FailureRatio opens the circuit once MinRequests have been seen.
	FailureRatio float64
	// MinRequests is the minimum request count before the ratio applies.
	MinRequests uint32
}

// DefaultConfig returns defaults tuned for a single anchoring gateway:
// one external dependency, long provider outages, a 10s submit budget
// worth protecting.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          45 * time.Second,
		FailureThreshold: 3,
		FailureRatio:     0.5,
		MinRequests:      6,
	}
}

// CircuitBreaker guards a single external dependency.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger

	meter          metric.Meter
	requestCounter metric.Int64Counter
	rejectCounter  metric.Int64Counter

	mu           sync.RWMutex
	currentState State
}

// New creates a circuit breaker.
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:         cfg.Name,
		logger:       logger,
		meter:        otel.Meter("circuit-breaker"),
		currentState: StateClosed,
	}

	var err error
	cb.requestCounter, err = cb.meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Total requests through circuit breaker"))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	cb.rejectCounter, err = cb.meter.Int64Counter("circuit_breaker_rejections_total",
		metric.WithDescription("Requests rejected while the circuit was open"))
	if err != nil {
		return nil, fmt.Errorf("create rejection counter: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.onStateChange(from, to)
		},
	}
	cb.cb = gobreaker.NewCircuitBreaker(settings)

	return cb, nil
}

// Execute runs fn through the circuit breaker.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	c.requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))

	result, err := c.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.rejectCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))
		}
		return nil, err
	}
	return result, nil
}

// GetState returns the current circuit breaker state.
func (c *CircuitBreaker) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentState
}

// IsOpen returns true if the circuit is open.
func (c *CircuitBreaker) IsOpen() bool {
	return c.GetState() == StateOpen
}

// Counts returns the current counts from the circuit breaker.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

func (c *CircuitBreaker) onStateChange(from, to gobreaker.State) {
	toState := mapState(to)

	c.mu.Lock()
	c.currentState = toState
	c.mu.Unlock()

	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(mapState(from))),
		zap.String("to", string(toState)))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
