package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/referral"
)

type codeView struct {
	referral.Code
	ShareLink string `json:"share_link,omitempty"`
}

func (a *API) generateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	code, err := a.deps.Referrals.GenerateCode(ctx, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, codeView{Code: code, ShareLink: a.shareLink(r, userID)})
}
func (a *API) activeCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	code, err := a.deps.Referrals.ActiveCode(ctx, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codeView{Code: code, ShareLink: a.shareLink(r, userID)})
}

// shareLink is optional in responses; failures are logged and omitted.
func (a *API) shareLink(r *http.Request, userID string) string {
	link, err := a.deps.Referrals.ShareLink(r.Context(), userID)
	if err != nil {
		a.log.WarnContext(r.Context(), "referral share link unavailable",
			logger.UserID(userID), logger.Error(err))
		return ""
	}
	return link
}

func (a *API) codeQR(w http.ResponseWriter, r *http.Request) {
	size, err := queryInt(r, "size", 0)
	if err != nil || size > 1024 {
		a.writeError(w, r, ErrBadRequest)
		return
	}
	png, err := a.deps.Referrals.ShareQR(r.Context(), chi.URLParam(r, "userID"), size)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *API) referralStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deps.Referrals.Stats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) validateCode(w http.ResponseWriter, r *http.Request) {
	v, err := a.deps.Referrals.Validate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type redeemRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

func (a *API) redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" || req.UserID == "" {
		a.writeError(w, r, ErrBadRequest)
		return
	}
	res, err := a.deps.Referrals.RedeemCode(r.Context(), req.Code, req.UserID, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entries, err := a.deps.Referrals.Leaderboard(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []referral.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
