package httpapi

import (
	"errors"
	"net/http"

	"github.com/dietbot/entitlement/pkg/entitlement"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
	"github.com/dietbot/entitlement/pkg/referral"
	"github.com/dietbot/entitlement/pkg/subscription"
)

// HTTPError is a status code paired with a stable error key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string { return e.Key }

var (
	ErrBadRequest         = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized       = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrNotFound           = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrConflict           = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrTooManyRequests    = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternal           = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
	ErrServiceUnavailable = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}
)

// mapping is checked in order; the first match wins.
var mapping = []struct {
	target error
	status int
	key    string
}{
	{subscription.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{subscription.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{subscription.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
	{subscription.ErrMissingUserID, http.StatusBadRequest, "missing_user_id"},
	{subscription.ErrUnknownProvider, http.StatusNotFound, "unknown_provider"},
	{subscription.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{subscription.ErrTransitionRejected, http.StatusConflict, "transition_rejected"},
	{subscription.ErrTooManyConflicts, http.StatusServiceUnavailable, "conflict_retry_exhausted"},
	{subscription.ErrStoreFailure, http.StatusServiceUnavailable, "service_unavailable"},

	{plan.ErrPlanNotFound, http.StatusUnprocessableEntity, "invalid_plan"},
	{entitlement.ErrUnknownAction, http.StatusNotFound, "unknown_action"},
	{entitlement.ErrQuotaDenied, http.StatusTooManyRequests, "quota_denied"},
	{entitlement.ErrUnavailable, http.StatusServiceUnavailable, "service_unavailable"},

	{referral.ErrInvalidReferralCode, http.StatusUnprocessableEntity, "invalid_referral_code"},
	{referral.ErrSelfReferral, http.StatusUnprocessableEntity, "self_referral"},
	{referral.ErrDuplicateReferralPair, http.StatusConflict, "duplicate_referral_pair"},
	{referral.ErrCodeNotFound, http.StatusNotFound, "referral_code_not_found"},
	{referral.ErrMissingUserID, http.StatusBadRequest, "missing_user_id"},
	{referral.ErrStoreFailure, http.StatusServiceUnavailable, "service_unavailable"},

	{queue.ErrTaskNotFound, http.StatusNotFound, "task_not_found"},
}

// classify maps err to the response status and key.
func classify(err error) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	for _, m := range mapping {
		if errors.Is(err, m.target) {
			return HTTPError{Code: m.status, Key: m.key}
		}
	}
	return ErrInternal
}
