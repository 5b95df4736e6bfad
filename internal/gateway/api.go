// ABOUTME: HTTP API handlers for coordination, session lifecycle, and agent statistics
// ABOUTME: Maps coordinator errors onto status codes with JSON error bodies

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/tutor-gateway/internal/auth"
	"github.com/2389/tutor-gateway/internal/coordinator"
	"github.com/2389/tutor-gateway/internal/domain"
)

// maxRequestBody caps the size of a coordination request.
const maxRequestBody = 1 << 20

// defaultStatsWindow is used when /api/agents/stats gets no since parameter.
const defaultStatsWindow = 24 * time.Hour

// CoordinateRequest is the body of POST /api/coordinate. An empty SessionID
// starts a new session.
type CoordinateRequest struct {
	SessionID string `json:"session_id,omitempty"`
	domain.ActivityRequest
}

// SessionList is the response of GET /api/sessions.
type SessionList struct {
	Sessions []*domain.Session `json:"sessions"`
}

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(g.logRequests)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(g.limiter.Middleware)
		r.Use(auth.RequireBearer)

		r.Post("/coordinate", g.handleCoordinate)
		r.Get("/sessions", g.handleListSessions)
		r.Get("/sessions/{id}", g.handleGetSession)
		r.Post("/sessions/{id}/complete", g.handleCompleteSession)
		r.Get("/agents/stats", g.handleAgentStats)
	})
	return r
}

// logRequests logs one line per request at debug level, or warn for 5xx.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		g.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

func (g *Gateway) handleCoordinate(w http.ResponseWriter, r *http.Request) {
	var req CoordinateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Kind == "" {
		g.sendJSONError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if req.RequestID == "" {
		req.RequestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := g.coordinator.Coordinate(r.Context(), auth.CredentialFromContext(r.Context()), req.SessionID, req.ActivityRequest)
	if err != nil {
		g.sendCoordinatorError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := g.coordinator.Sessions(r.Context(), auth.CredentialFromContext(r.Context()), limit)
	if err != nil {
		g.sendCoordinatorError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	g.sendJSON(w, http.StatusOK, SessionList{Sessions: sessions})
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.coordinator.Session(r.Context(), auth.CredentialFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		g.sendCoordinatorError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

func (g *Gateway) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.coordinator.Complete(r.Context(), auth.CredentialFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		g.sendCoordinatorError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

// handleAgentStats accepts since as an RFC 3339 time or a lookback duration like "1h".
func (g *Gateway) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultStatsWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseSince(raw, time.Now())
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		since = parsed
	}

	stats, err := g.coordinator.AgentStats(r.Context(), auth.CredentialFromContext(r.Context()), since)
	if err != nil {
		g.sendCoordinatorError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"since":  since.UTC(),
		"agents": stats,
	})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, errors.New("since must be an RFC 3339 time or a positive duration")
	}
	return now.Add(-d), nil
}

// statusForError maps coordinator errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, coordinator.ErrSessionInvalid):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrConflict), errors.Is(err, coordinator.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrNoCapableAgents):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) sendCoordinatorError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		msg = "internal error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	g.sendJSONError(w, status, msg)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("encoding response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
