package plan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Plan describes a subscription tier and its daily action caps.
// For paid plans ID should match the billing provider's price or product reference
// so webhook events can be mapped without a lookup table.
type Plan struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description,omitempty"`
	Price       Money            `yaml:"price" json:"price"`
	AnnualPrice Money            `yaml:"annual_price" json:"annual_price"`
	Rank        int              `yaml:"rank" json:"rank"` // higher rank wins when two plans compete
	Limits      map[Action]int64 `yaml:"limits" json:"limits"`
	Features    []string         `yaml:"features" json:"features,omitempty"`
	Default     bool             `yaml:"default" json:"default"`
}

// Limit returns the daily cap for action, zero when the plan does not include it.
func (p Plan) Limit(action Action) int64 {
	limit, ok := p.Limits[action]
	if !ok {
		return 0
	}
	return limit
}

// IsUnlimited reports whether action is uncapped on this plan.
func (p Plan) IsUnlimited(action Action) bool {
	return p.Limit(action) == Unlimited
}

func (p Plan) clone() Plan {
	p.Limits = maps.Clone(p.Limits)
	p.Features = slices.Clone(p.Features)
	return p
}

// Source defines how plans are loaded into the catalog.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Catalog is the immutable, validated set of plans.
type Catalog struct {
	plans   map[string]Plan
	ordered []Plan
	free    Plan
}

// NewCatalog loads and validates plans from src.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("plan: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(plans) == 0 {
		return nil, ErrEmptyCatalog
	}

	if err := validatePlans(plans); err != nil {
		return nil, err
	}

	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for id, p := range plans {
		c.plans[id] = p.clone()
		c.ordered = append(c.ordered, p.clone())
		if p.Default {
			c.free = p.clone()
		}
	}
	slices.SortFunc(c.ordered, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.ID, b.ID))
	})

	return c, nil
}

// GetPlan returns the plan with the given id.
func (c *Catalog) GetPlan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p.clone(), nil
}

// LimitFor returns the daily cap for action on plan planID.
func (c *Catalog) LimitFor(planID string, action Action) (int64, error) {
	p, ok := c.plans[planID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return p.Limit(action), nil
}

// List returns all plans ordered by rank.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.ordered))
	for _, p := range c.ordered {
		out = append(out, p.clone())
	}
	return out
}

// FreePlan returns the default (lowest) tier.
func (c *Catalog) FreePlan() Plan {
	return c.free.clone()
}

// Has reports whether planID is in the catalog.
func (c *Catalog) Has(planID string) bool {
	_, ok := c.plans[planID]
	return ok
}

// Compare orders two plan ids by rank. Unknown ids rank below every known plan.
func (c *Catalog) Compare(a, b string) int {
	return cmp.Compare(c.rank(a), c.rank(b))
}

// Higher returns whichever of a and b ranks higher; a wins ties.
func (c *Catalog) Higher(a, b string) string {
	if c.Compare(b, a) > 0 {
		return b
	}
	return a
}

func (c *Catalog) rank(id string) int {
	p, ok := c.plans[id]
	if !ok {
		return -1 << 31
	}
	return p.Rank
}

// validatePlans catches configuration errors at startup rather than at request time.
func validatePlans(plans map[string]Plan) error {
	defaults := 0
	for id, p := range plans {
		if p.ID != id {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", id, p.ID))
		}
		for action, limit := range p.Limits {
			if limit < 0 && limit != Unlimited {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has negative limit %d for %s", id, limit, action))
			}
		}
		if p.Default {
			defaults++
		}
	}

	switch {
	case defaults == 0:
		return ErrNoDefaultPlan
	case defaults > 1:
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("more than one default plan"))
	}
	return nil
}
