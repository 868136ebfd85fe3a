// Package circuitbreaker guards calls to flaky upstreams with breaker state
// kept in Redis, so every instance sees the same open circuit.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/postplane/internal/reliability"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type State int

const (
	StateClosed State = 0
	StateOpen   State = 1
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Redis Keys:
// cb:{service}:open -> present while the circuit is open, expires after timeout
// cb:{service}:failures -> consecutive failures, expires after the failure window

type CircuitBreaker struct {
	client           *redis.Client
	failureThreshold int64
	failureWindow    time.Duration
	timeout          time.Duration
	strategy         reliability.FailureStrategy
}

// New returns a breaker that opens after failureThreshold consecutive
// failures within failureWindow and stays open for timeout. When Redis itself
// errors the breaker falls back to strategy.
func New(client *redis.Client, failureThreshold int64, failureWindow, timeout time.Duration, strategy reliability.FailureStrategy) *CircuitBreaker {
	return &CircuitBreaker{
		client:           client,
		failureThreshold: failureThreshold,
		failureWindow:    failureWindow,
		timeout:          timeout,
		strategy:         strategy,
	}
}

func openKey(service string) string    { return "cb:" + service + ":open" }
func failureKey(service string) string { return "cb:" + service + ":failures" }

// Execute runs action unless the circuit for service is open. An action
// error counts as a failure; callers should return nil for outcomes that say
// nothing about upstream health.
func (cb *CircuitBreaker) Execute(ctx context.Context, service string, action func(ctx context.Context) error) error {
	open, err := cb.client.Exists(ctx, openKey(service)).Result()
	if err != nil && !reliability.ShouldAllow(cb.strategy, err) {
		return err
	}
	if open > 0 {
		return ErrCircuitOpen
	}

	if opErr := action(ctx); opErr != nil {
		cb.recordFailure(ctx, service)
		return opErr
	}
	cb.client.Del(ctx, failureKey(service))
	return nil
}

func (cb *CircuitBreaker) recordFailure(ctx context.Context, service string) {
	pipe := cb.client.TxPipeline()
	incr := pipe.Incr(ctx, failureKey(service))
	pipe.Expire(ctx, failureKey(service), cb.failureWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return
	}
	if incr.Val() >= cb.failureThreshold {
		cb.client.Set(ctx, openKey(service), "1", cb.timeout)
		cb.client.Del(ctx, failureKey(service))
	}
}

// State reports whether the circuit for service is currently open.
func (cb *CircuitBreaker) State(ctx context.Context, service string) (State, error) {
	open, err := cb.client.Exists(ctx, openKey(service)).Result()
	if err != nil {
		return StateClosed, err
	}
	if open > 0 {
		return StateOpen, nil
	}
	return StateClosed, nil
}
