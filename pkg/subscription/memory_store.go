package subscription

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store and GrantStore in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	subs   map[string]Subscription
	events map[string]Event
	grants map[uuid.UUID]Grant
	// bySource indexes grants by source + "\x00" + source id.
	bySource map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[string]Subscription),
		events:   make(map[string]Event),
		grants:   make(map[uuid.UUID]Grant),
		bySource: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[userID]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (s *MemoryStore) HasEvent(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[eventID]
	return ok, nil
}

func (s *MemoryStore) Save(_ context.Context, next Subscription, prevEventID string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.events[ev.ID]; seen {
		return ErrDuplicateEvent
	}
	cur, exists := s.subs[next.UserID]
	switch {
	case prevEventID == "" && exists:
		return ErrConflict
	case prevEventID != "" && (!exists || cur.LastEventID != prevEventID):
		return ErrConflict
	}

	s.subs[next.UserID] = cloneSubscription(next)
	s.events[ev.ID] = ev
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByStatus: make(map[Status]int), EntitledByPlan: make(map[string]int)}
	for _, sub := range s.subs {
		st.Total++
		st.ByStatus[sub.Status]++
		if sub.Status.Entitled() {
			st.EntitledByPlan[sub.PlanID]++
		}
	}
	return st, nil
}

func (s *MemoryStore) CreateGrant(_ context.Context, g Grant) (Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := g.Source + "\x00" + g.SourceID
	if id, ok := s.bySource[key]; ok {
		return cloneGrant(s.grants[id]), false, nil
	}
	s.grants[g.ID] = cloneGrant(g)
	s.bySource[key] = g.ID
	return cloneGrant(g), true, nil
}

func (s *MemoryStore) GetGrant(_ context.Context, id uuid.UUID) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[id]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return cloneGrant(g), nil
}

func (s *MemoryStore) ActiveGrants(_ context.Context, userID string, now time.Time) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Grant
	for _, g := range s.grants {
		if g.UserID == userID && g.ActiveAt(now) {
			out = append(out, cloneGrant(g))
		}
	}
	slices.SortFunc(out, func(a, b Grant) int { return a.ExpiresAt.Compare(b.ExpiresAt) })
	return out, nil
}

func (s *MemoryStore) RevokeGrant(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return false, ErrGrantNotFound
	}
	if g.RevokedAt != nil {
		return false, nil
	}
	t := now
	g.RevokedAt = &t
	s.grants[id] = g
	return true, nil
}

func cloneSubscription(s Subscription) Subscription {
	if s.GraceEndsAt != nil {
		v := *s.GraceEndsAt
		s.GraceEndsAt = &v
	}
	if s.CanceledAt != nil {
		v := *s.CanceledAt
		s.CanceledAt = &v
	}
	return s
}

func cloneGrant(g Grant) Grant {
	if g.RevokedAt != nil {
		v := *g.RevokedAt
		g.RevokedAt = &v
	}
	return g
}
