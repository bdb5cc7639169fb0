package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/dietbot/entitlement/pkg/plan"
)

// DayLayout is the canonical day format used in keys and storage.
const DayLayout = "2006-01-02"

// Key identifies one daily counter.
type Key struct {
	UserID string      `json:"user_id"`
	Action plan.Action `json:"action"`
	Day    string      `json:"day"`
}

func (k Key) validate() error {
	if k.UserID == "" || k.Action == "" || k.Day == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidKey, k)
	}
	return nil
}

// Counter is a stored counter value.
type Counter struct {
	Key
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// Store persists daily counters. Implementations must make Reserve a single
// atomic conditional write.
type Store interface {
	// Reserve increments the counter only if it is below limit (limit > 0) and
	// reports the count after the attempt and whether the increment happened.
	Reserve(ctx context.Context, key Key, limit int64) (count int64, ok bool, err error)

	// Count returns the current value, zero for an absent counter.
	Count(ctx context.Context, key Key) (int64, error)

	// ListBefore returns every counter whose day is strictly before beforeDay.
	ListBefore(ctx context.Context, beforeDay string) ([]Counter, error)

	// DeleteBefore removes counters whose day is strictly before beforeDay.
	DeleteBefore(ctx context.Context, beforeDay string) (int64, error)
}
