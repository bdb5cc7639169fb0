package plan

import "errors"

var (
	ErrPlanNotFound             = errors.New("plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")
	ErrNoDefaultPlan            = errors.New("catalog has no default plan")
	ErrFailedToLoadPlans        = errors.New("failed to load plans")
	ErrEmptyCatalog             = errors.New("catalog has no plans")
)
