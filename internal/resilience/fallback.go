package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// was skipped.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks, each behind its own
// [CircuitBreaker]. Members are added before use; Do is safe for concurrent
// use afterwards.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
}

// NewFallbackGroup creates a group whose first member is primary. cfg is
// copied for every member's breaker with Name replaced.
func NewFallbackGroup[T any](primary T, name string, cfg CircuitBreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback tried after all earlier members.
func (g *FallbackGroup[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Len returns the number of members.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// Each calls fn for every member in order.
func (g *FallbackGroup[T]) Each(fn func(name string, v T)) {
	for _, m := range g.members {
		fn(m.name, m.value)
	}
}

// Do runs fn against each member in order until one succeeds and returns
// its result with the member name.
func Do[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(m.value)
			return err
		})
		if err == nil {
			return res, m.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", m.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", m.name, "err", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
