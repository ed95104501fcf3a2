// Package circuitbreaker wraps sony/gobreaker with logging and OpenTelemetry
// counters for calls to downstream delivery services.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker configuration.
type Config struct {
	Name string
	// MaxRequests is the number of probe requests allowed half-open.
	MaxRequests uint32
	// Interval is the closed-state window for clearing counts.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureThreshold opens the breaker on consecutive failures while the
	// sample is still below MinRequests.
	FailureThreshold uint32
	// FailureRatio opens the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns defaults tuned for notification gateways.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// CircuitBreaker guards one downstream service.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	meter           metric.Meter
	requestCounter  metric.Int64Counter
	failureCounter  metric.Int64Counter
	successCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter

	currentState State
	stateMu      sync.RWMutex
}

// New creates a breaker.
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:         cfg.Name,
		logger:       logger,
		tracer:       otel.Tracer("circuit-breaker"),
		meter:        otel.Meter("circuit-breaker"),
		currentState: StateClosed,
	}

	var err error
	if cb.requestCounter, err = cb.meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Total requests through circuit breaker")); err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	if cb.failureCounter, err = cb.meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Total failed requests")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	if cb.successCounter, err = cb.meter.Int64Counter("circuit_breaker_successes_total",
		metric.WithDescription("Total successful requests")); err != nil {
		return nil, fmt.Errorf("create success counter: %w", err)
	}
	if cb.rejectedCounter, err = cb.meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Total requests rejected while open")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	cb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
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
	})

	return cb, nil
}

// Execute runs fn through the breaker.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.State())),
		))
	defer span.End()

	c.requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))

	result, err := c.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))
			span.SetAttributes(attribute.Bool("circuit_open", true))
		} else {
			c.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))
		}
		span.RecordError(err)
		return nil, err
	}

	c.successCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", c.name)))
	return result, nil
}

// ExecuteWithFallback runs fn, calling fallback when the breaker is open.
func (c *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func() (any, error), fallback func(error) (any, error)) (any, error) {
	result, err := c.Execute(ctx, fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("circuit open, using fallback",
				zap.String("breaker", c.name),
				zap.Error(err))
			return fallback(err)
		}
		return nil, err
	}
	return result, nil
}

// State returns the current breaker state.
func (c *CircuitBreaker) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.currentState
}

func (c *CircuitBreaker) onStateChange(from, to gobreaker.State) {
	toState := mapState(to)

	c.stateMu.Lock()
	c.currentState = toState
	c.stateMu.Unlock()

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

// IsOpen reports whether the circuit is open.
func (c *CircuitBreaker) IsOpen() bool {
	return c.State() == StateOpen
}

// IsClosed reports whether the circuit is closed.
func (c *CircuitBreaker) IsClosed() bool {
	return c.State() == StateClosed
}

// Counts returns the underlying gobreaker counts.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// Manager holds one breaker per downstream service.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates a breaker manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the named breaker, creating it on first use.
func (m *Manager) GetOrCreate(name string, cfg Config) (*CircuitBreaker, error) {
	m.mu.RLock()
	if cb, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return cb, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb, nil
	}

	cfg.Name = name
	cb, err := New(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.breakers[name] = cb
	return cb, nil
}

// Get returns a breaker by name.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// HealthStatus summarizes one breaker.
type HealthStatus struct {
	Name     string
	State    State
	Requests uint32
	Failures uint32
	Healthy  bool
}

// GetHealthStatus returns the status of every breaker.
func (m *Manager) GetHealthStatus() []HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var statuses []HealthStatus
	for name, cb := range m.breakers {
		counts := cb.Counts()
		statuses = append(statuses, HealthStatus{
			Name:     name,
			State:    cb.State(),
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  cb.IsClosed(),
		})
	}
	return statuses
}
