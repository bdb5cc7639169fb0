package referral

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	codes  map[string]Code
	active map[string]string // user id -> code
	grants map[uuid.UUID]Grant
	pairs  map[[2]string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:  make(map[string]Code),
		active: make(map[string]string),
		grants: make(map[uuid.UUID]Grant),
		pairs:  make(map[[2]string]uuid.UUID),
	}
}

func (s *MemoryStore) ReplaceCode(_ context.Context, code Code, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[code.Code]; taken {
		return ErrCodeTaken
	}
	if prev, ok := s.active[code.UserID]; ok {
		c := s.codes[prev]
		c.Active = false
		t := now
		c.DeactivatedAt = &t
		s.codes[prev] = c
	}
	code.Active = true
	s.codes[code.Code] = code
	s.active[code.UserID] = code.Code
	return nil
}

func (s *MemoryStore) GetCode(_ context.Context, code string) (Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	return c, nil
}

func (s *MemoryStore) ActiveCode(_ context.Context, userID string) (Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.active[userID]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	return s.codes[code], nil
}

func (s *MemoryStore) CreateGrant(_ context.Context, g Grant) (Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := [2]string{g.ReferrerID, g.RefereeID}
	if id, ok := s.pairs[pair]; ok {
		return s.grants[id], false, nil
	}
	s.grants[g.ID] = g
	s.pairs[pair] = g.ID
	return g, true, nil
}

func (s *MemoryStore) CompleteGrant(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return false, ErrGrantNotFound
	}
	if g.Status != GrantPending {
		return false, nil
	}
	g.Status = GrantCompleted
	t := now
	g.CompletedAt = &t
	s.grants[id] = g
	return true, nil
}

func (s *MemoryStore) ReferrerCounts(_ context.Context, referrerID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, completed int
	for _, g := range s.grants {
		if g.ReferrerID != referrerID {
			continue
		}
		total++
		if g.Status == GrantCompleted {
			completed++
		}
	}
	return total, completed, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byReferrer := make(map[string]*LeaderboardEntry)
	for _, g := range s.grants {
		if g.Status != GrantCompleted {
			continue
		}
		e, ok := byReferrer[g.ReferrerID]
		if !ok {
			e = &LeaderboardEntry{ReferrerID: g.ReferrerID, FirstReferralAt: g.CreatedAt}
			byReferrer[g.ReferrerID] = e
		}
		e.Referrals++
		if g.CreatedAt.Before(e.FirstReferralAt) {
			e.FirstReferralAt = g.CreatedAt
		}
	}

	out := make([]LeaderboardEntry, 0, len(byReferrer))
	for _, e := range byReferrer {
		out = append(out, *e)
	}
	slices.SortFunc(out, compareEntries)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compareEntries orders by referrals descending, then earliest first referral.
func compareEntries(a, b LeaderboardEntry) int {
	if c := cmp.Compare(b.Referrals, a.Referrals); c != 0 {
		return c
	}
	if c := a.FirstReferralAt.Compare(b.FirstReferralAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ReferrerID, b.ReferrerID)
}

// MemoryRewardLedger is an in-process RewardLedger.
type MemoryRewardLedger struct {
	mu       sync.Mutex
	credited map[string]struct{}
	balances map[string]Balance
}

func NewMemoryRewardLedger() *MemoryRewardLedger {
	return &MemoryRewardLedger{
		credited: make(map[string]struct{}),
		balances: make(map[string]Balance),
	}
}

func (l *MemoryRewardLedger) Credit(_ context.Context, userID string, r Reward, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.credited[key]; ok {
		return false, nil
	}
	l.credited[key] = struct{}{}
	b := l.balances[userID]
	b.Points += r.Points
	b.CreditCents += r.CreditCents
	l.balances[userID] = b
	return true, nil
}

func (l *MemoryRewardLedger) Balance(_ context.Context, userID string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}
