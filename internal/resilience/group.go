package resilience

import (
	"errors"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [Group] either failed or
// had an open breaker. It is joined with the last backend error so callers
// can still match the underlying cause with [errors.Is].
var ErrAllFailed = errors.New("resilience: all backends failed")

type entry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Group chains a primary backend and zero or more fallbacks of the same
// provider type. Each backend gets its own [Breaker]; calls try backends in
// registration order, skipping open breakers. Register all fallbacks before
// the first call — AddFallback is not safe concurrently with Do.
type Group[T any] struct {
	entries []entry[T]
	breaker BreakerConfig
	logger  *slog.Logger
}

// NewGroup creates a [Group] with primary as the first backend. The breaker
// config is applied per backend, with the backend name as the breaker name.
func NewGroup[T any](primary T, name string, breaker BreakerConfig) *Group[T] {
	g := &Group[T]{breaker: breaker, logger: slog.Default()}
	g.add(name, primary)
	return g
}

// AddFallback appends a backend tried after all previously registered ones.
func (g *Group[T]) AddFallback(name string, backend T) {
	g.add(name, backend)
}

func (g *Group[T]) add(name string, backend T) {
	cfg := g.breaker
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg),
	})
}

// Names returns the backend names in call order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Do calls fn for each backend in order until one succeeds. Go has no
// method-level type parameters, so this is a package function rather than a
// method on [Group].
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			g.logger.Debug("skipping backend with open circuit", "backend", e.name)
		} else {
			g.logger.Warn("backend failed, trying next", "backend", e.name, "err", err)
		}
	}
	return zero, errors.Join(ErrAllFailed, lastErr)
}
