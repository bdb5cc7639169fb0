package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dietbot/entitlement/pkg/command"
	"github.com/dietbot/entitlement/pkg/entitlement"
	"github.com/dietbot/entitlement/pkg/plan"
	"github.com/dietbot/entitlement/pkg/queue"
	"github.com/dietbot/entitlement/pkg/subscription"
)

type planView struct {
	plan.Plan
	PriceText       string `json:"price_text"`
	AnnualPriceText string `json:"annual_price_text"`
}

func (a *API) listPlans(w http.ResponseWriter, _ *http.Request) {
	plans := a.deps.Catalog.List()
	out := make([]planView, 0, len(plans))
	for _, p := range plans {
		out = append(out, planView{
			Plan:            p,
			PriceText:       plan.FormatPrice(p.Price, a.locale),
			AnnualPriceText: plan.FormatPrice(p.AnnualPrice, a.locale),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type subscriptionView struct {
	subscription.Subscription
	ActivePlan string               `json:"active_plan"`
	Grants     []subscription.Grant `json:"grants"`
}

// getSubscription answers with a "none" status view for users who never
// subscribed.
func (a *API) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	sub, err := a.deps.Subscriptions.Get(ctx, userID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		sub = subscription.Subscription{UserID: userID, Status: subscription.StatusNone}
	} else if err != nil {
		a.writeError(w, r, err)
		return
	}
	grants, err := a.deps.Subscriptions.Grants(ctx, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	active, err := a.deps.Subscriptions.ActivePlan(ctx, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if grants == nil {
		grants = []subscription.Grant{}
	}
	writeJSON(w, http.StatusOK, subscriptionView{Subscription: sub, ActivePlan: active, Grants: grants})
}

func (a *API) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := a.deps.Subscriptions.Cancel(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) subscriptionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deps.Subscriptions.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) getUsage(w http.ResponseWriter, r *http.Request) {
	snap, err := a.deps.Entitlements.Usage(r.Context(), chi.URLParam(r, "userID"), a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// reserveAction answers 200 when admitted, 429 with the decision when the
// daily cap is exhausted and 503 when the decision could not be made.
func (a *API) reserveAction(w http.ResponseWriter, r *http.Request) {
	action := plan.Action(chi.URLParam(r, "action"))
	dec, err := a.deps.Entitlements.CheckAndReserve(r.Context(), chi.URLParam(r, "userID"), action, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeDecision(w, dec)
}

func writeDecision(w http.ResponseWriter, dec entitlement.Decision) {
	status := http.StatusOK
	if !dec.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, dec)
}

type commandRequest struct {
	Text string `json:"text"`
}

type commandResponse struct {
	Command  command.Command       `json:"command"`
	Metered  bool                  `json:"metered"`
	Decision *entitlement.Decision `json:"decision,omitempty"`
}

// handleCommand parses a chat message and, for metered commands, reserves one
// unit of the matching action. Unmetered commands are always admitted.
func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == "" {
		a.writeError(w, r, ErrBadRequest)
		return
	}

	cmd := command.Parse(req.Text)
	action, metered := cmd.Kind.MeteredAction()
	if !metered {
		writeJSON(w, http.StatusOK, commandResponse{Command: cmd})
		return
	}

	dec, err := a.deps.Entitlements.CheckAndReserve(r.Context(), chi.URLParam(r, "userID"), action, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !dec.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, commandResponse{Command: cmd, Metered: true, Decision: &dec})
}

func (a *API) failedTasks(w http.ResponseWriter, r *http.Request) {
	if a.deps.Tasks == nil {
		a.writeError(w, r, ErrNotFound)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	tasks, err := a.deps.Tasks.ListFailed(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []queue.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}
