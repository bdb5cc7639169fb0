package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dietbot/entitlement/pkg/logger"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs err at a level derived from its status and renders the key.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := classify(err)
	level := slog.LevelInfo
	if info.Code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	a.log.LogAttrs(r.Context(), level, "request error",
		logger.Error(err),
		slog.Int("status_code", info.Code),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	writeJSON(w, info.Code, errorBody{Error: info.Key})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ErrBadRequest
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrBadRequest
	}
	return n, nil
}
