// Package api exposes the decision engine over a local HTTP surface and an
// MCP server. All routes except /health require the bearer token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/feedback"
	"github.com/okranz/nudged/internal/interrupt"
	"github.com/okranz/nudged/internal/signals"
	"github.com/okranz/nudged/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the wiring for the HTTP API.
type Deps struct {
	Manager  *interrupt.Manager
	Sessions *feedback.Sessions
	Store    *storage.Store
	Policy   *bandit.Policy
	Keys     *signals.KeystrokeTracker
	Pointer  *signals.PointerTracker
	Apps     *signals.AppTracker
	Token    string
}

// NewHandler builds the full route tree.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/events/keystroke", handleKeystroke(deps))
		r.Post("/events/pointer", handlePointer(deps))
		r.Post("/events/app", handleAppSwitch(deps))

		r.Post("/decide", handleDecide(deps))
		r.Get("/status", handleStatus(deps))
		r.Get("/policy", handlePolicy(deps))

		r.Get("/sessions", handleListSessions(deps))
		r.Post("/sessions/{id}/hover", handleHover(deps))
		r.Post("/sessions/{id}/expand", handleExpand(deps))

		r.Post("/outcomes", handleReportOutcome(deps))
		r.Get("/outcomes", handleListOutcomes(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type keystrokeEvent struct {
	Chars     int  `json:"chars"`
	Backspace bool `json:"backspace"`
}

func handleKeystroke(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var ev keystrokeEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if ev.Chars < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chars must be non-negative")
			return
		}
		if ev.Chars == 0 && !ev.Backspace {
			ev.Chars = 1
		}
		deps.Keys.Record(ev.Chars, ev.Backspace)
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

func handlePointer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Pointer.Record()
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

type appEvent struct {
	BundleID   string `json:"bundle_id"`
	Name       string `json:"name"`
	Fullscreen bool   `json:"fullscreen"`
}

func handleAppSwitch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var ev appEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if ev.BundleID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "bundle_id is required")
			return
		}
		deps.Apps.Record(signals.App{BundleID: ev.BundleID, Name: ev.Name, Fullscreen: ev.Fullscreen})
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

type decideRequest struct {
	Context string `json:"context"`
}

type decideResponse struct {
	interrupt.Decision
	SuggestionID string `json:"suggestion_id,omitempty"`
}

func handleDecide(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req decideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		d := deps.Manager.Decide(req.Context)
		resp := decideResponse{Decision: d}

		// Would-have-shown decisions during cold start get a session too,
		// so their outcomes can be reported and the warm-up budget counts
		// down.
		if d.ShouldInterrupt || d.WouldHaveShown {
			id, err := deps.Sessions.Open(feedback.Shown{
				AppID:       d.AppID,
				Context:     req.Context,
				Signal:      d.Signal,
				Score:       d.ConfusionScore,
				Probability: d.Probability,
			})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to open session: %v", err)
				return
			}
			resp.SuggestionID = id
		}

		writeJSON(w, resp)
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Manager.Status())
	}
}

func handlePolicy(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Policy.Snapshot())
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		sessions, err := deps.Sessions.Recent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, sessions)
	}
}

type hoverRequest struct {
	Millis int `json:"millis"`
}

func handleHover(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req hoverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Millis < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "millis must be non-negative")
			return
		}

		err := deps.Sessions.Hover(id, time.Duration(req.Millis)*time.Millisecond)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found or already resolved")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record hover: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

func handleExpand(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Sessions.Expand(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found or already resolved")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record expand: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

type outcomeRequest struct {
	SuggestionID string `json:"suggestion_id"`
	Action       string `json:"action"`
}

func handleReportOutcome(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req outcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SuggestionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "suggestion_id is required")
			return
		}
		if _, ok := bandit.RewardFor(bandit.Action(req.Action)); !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown action %q", req.Action)
			return
		}

		o, err := deps.Sessions.Resolve(req.SuggestionID, bandit.Action(req.Action))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found or already resolved")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve session: %v", err)
			return
		}

		deps.Manager.RecordOutcome(r.Context(), o)

		writeJSON(w, map[string]string{
			"status": "queued",
			"action": string(o.Action),
		})
	}
}

func handleListOutcomes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		outcomes, err := deps.Store.ListRecentOutcomes(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list outcomes: %v", err)
			return
		}
		if outcomes == nil {
			outcomes = []storage.OutcomeRecord{}
		}
		writeJSON(w, outcomes)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
