package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all members failed")

// member pairs a value with its breaker.
type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds a primary value and its fallbacks, each behind its own
// [Breaker]. Members are tried in the order they were added.
//
// Add must not be called concurrently with [Do].
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns a Group whose first member is primary. cfg is the
// template for every member's breaker; its Name is replaced by the member
// name.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback member.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Each calls fn for every member in order.
func (g *Group[T]) Each(fn func(name string, value T)) {
	for _, m := range g.members {
		fn(m.name, m.value)
	}
}

// States reports the breaker state of every member by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Do runs fn against members in order until one succeeds and returns its
// result. fn receives the member name for labelling. When every member fails
// the error wraps [ErrAllFailed] and the last member error.
func Do[T, R any](g *Group[T], fn func(name string, value T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		m := &g.members[i]
		var result R
		err := m.breaker.Execute(func() error {
			var err error
			result, err = fn(m.name, m.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping member with open circuit", "member", m.name)
			continue
		}
		if i < len(g.members)-1 {
			slog.Warn("member failed, trying next", "member", m.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
