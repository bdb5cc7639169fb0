package statemachine

import (
	"context"
	"fmt"
)

// Guard vetoes a transition by returning a non-nil reason.
type Guard[S, E comparable, D any] func(ctx context.Context, from S, event E, data D) error

// Transition is one table entry.
type Transition[S, E comparable, D any] struct {
	From   S
	Event  E
	To     S
	Guards []Guard[S, E, D]
}

type edge[S, E comparable] struct {
	from  S
	event E
}

// Table is an immutable transition table. It is safe for concurrent use.
type Table[S, E comparable, D any] struct {
	edges map[edge[S, E]][]Transition[S, E, D]
}

// Option adds entries to a table under construction.
type Option[S, E comparable, D any] func(*Table[S, E, D]) error

// TransitionOption configures a single transition.
type TransitionOption[S, E comparable, D any] func(*Transition[S, E, D])

// WithGuard attaches a guard; nil guards are ignored.
func WithGuard[S, E comparable, D any](g Guard[S, E, D]) TransitionOption[S, E, D] {
	return func(t *Transition[S, E, D]) {
		if g != nil {
			t.Guards = append(t.Guards, g)
		}
	}
}

// WithTransition adds from --event--> to.
func WithTransition[S, E comparable, D any](from S, event E, to S, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return func(t *Table[S, E, D]) error {
		tr := Transition[S, E, D]{From: from, Event: event, To: to}
		for _, opt := range opts {
			opt(&tr)
		}
		return t.add(tr)
	}
}

// WithTransitions adds the same event edge from several source states.
func WithTransitions[S, E comparable, D any](froms []S, event E, to S, opts ...TransitionOption[S, E, D]) Option[S, E, D] {
	return func(t *Table[S, E, D]) error {
		for _, from := range froms {
			if err := WithTransition(from, event, to, opts...)(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// New builds a table. An unguarded transition followed by another candidate on
// the same edge is a configuration error: the later entry could never fire.
func New[S, E comparable, D any](opts ...Option[S, E, D]) (*Table[S, E, D], error) {
	t := &Table[S, E, D]{edges: make(map[edge[S, E]][]Transition[S, E, D])}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is New that panics on a configuration error.
func MustNew[S, E comparable, D any](opts ...Option[S, E, D]) *Table[S, E, D] {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return t
}

func (t *Table[S, E, D]) add(tr Transition[S, E, D]) error {
	k := edge[S, E]{from: tr.From, event: tr.Event}
	for _, existing := range t.edges[k] {
		if len(existing.Guards) == 0 {
			return fmt.Errorf("%w: %v --%v-->", ErrDuplicateTransition, tr.From, tr.Event)
		}
	}
	t.edges[k] = append(t.edges[k], tr)
	return nil
}

// Resolve returns the target state for event fired from state from.
func (t *Table[S, E, D]) Resolve(ctx context.Context, from S, event E, data D) (S, error) {
	var zero S
	candidates, ok := t.edges[edge[S, E]{from: from, event: event}]
	if !ok {
		return zero, &ErrNoTransitionAvailable{State: fmt.Sprint(from), Event: fmt.Sprint(event)}
	}

	var reason error
	for _, tr := range candidates {
		if err := tr.check(ctx, from, event, data); err != nil {
			if reason == nil {
				reason = err
			}
			continue
		}
		return tr.To, nil
	}
	return zero, &ErrTransitionRejected{State: fmt.Sprint(from), Event: fmt.Sprint(event), Reason: reason}
}

// CanFire reports whether Resolve would succeed.
func (t *Table[S, E, D]) CanFire(ctx context.Context, from S, event E, data D) bool {
	_, err := t.Resolve(ctx, from, event, data)
	return err == nil
}

// Events lists the events that have at least one entry from state from.
func (t *Table[S, E, D]) Events(from S) []E {
	var out []E
	for k := range t.edges {
		if k.from == from {
			out = append(out, k.event)
		}
	}
	return out
}

func (tr Transition[S, E, D]) check(ctx context.Context, from S, event E, data D) error {
	for _, g := range tr.Guards {
		if err := g(ctx, from, event, data); err != nil {
			return err
		}
	}
	return nil
}
