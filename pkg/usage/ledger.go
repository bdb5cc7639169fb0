package usage

import (
	"context"
	"time"

	"github.com/dietbot/entitlement/pkg/plan"
)

// Reservation is the outcome of Ledger.Reserve.
type Reservation struct {
	Allowed   bool
	Used      int64 // counter value after the attempt
	Limit     int64
	Remaining int64 // plan.Unlimited when the action is uncapped
	Day       string
}

// Ledger applies the reference time zone and cap semantics on top of a Store.
type Ledger struct {
	store Store
	loc   *time.Location
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLocation sets the reference time zone for day boundaries (UTC by default).
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("usage: store is required")
	}
	l := &Ledger{store: store, loc: time.UTC}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the reference time zone.
func (l *Ledger) Location() *time.Location { return l.loc }

// Day returns the counter day for instant now.
func (l *Ledger) Day(now time.Time) string { return DayOf(now, l.loc) }

// Reserve consumes one unit of action for userID on the day of now if the cap
// allows it. Unlimited caps never touch the store; a zero cap denies without
// writing.
func (l *Ledger) Reserve(ctx context.Context, userID string, action plan.Action, limit int64, now time.Time) (Reservation, error) {
	key := Key{UserID: userID, Action: action, Day: l.Day(now)}
	res := Reservation{Limit: limit, Day: key.Day}

	switch {
	case limit == plan.Unlimited:
		res.Allowed = true
		res.Remaining = plan.Unlimited
		return res, nil
	case limit <= 0:
		return res, key.validate()
	}

	count, ok, err := l.store.Reserve(ctx, key, limit)
	if err != nil {
		return Reservation{Limit: limit, Day: key.Day}, err
	}
	res.Allowed = ok
	res.Used = count
	res.Remaining = max(limit-count, 0)
	return res, nil
}

// Used returns how many units of action userID consumed on the day of now.
func (l *Ledger) Used(ctx context.Context, userID string, action plan.Action, now time.Time) (int64, error) {
	key := Key{UserID: userID, Action: action, Day: l.Day(now)}
	if err := key.validate(); err != nil {
		return 0, err
	}
	return l.store.Count(ctx, key)
}
