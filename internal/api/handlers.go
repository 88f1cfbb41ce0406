// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package api exposes the moderation HTTP surface: event submission,
// assessment lookups, alert queries, trust score reads, and the live
// WebSocket feed.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campusverify/sentinel/internal/detection"
	"github.com/campusverify/sentinel/internal/ingest"
	"github.com/campusverify/sentinel/internal/logging"
	"github.com/campusverify/sentinel/internal/trust"
	ws "github.com/campusverify/sentinel/internal/websocket"
)

// EventPublisher accepts events from the HTTP surface onto the
// transport. Satisfied by *ingest.Pipeline when running the in-process
// channel transport. Deployments consuming from a broker construct the
// router without a publisher and submission endpoints return 503.
type EventPublisher interface {
	PublishVote(vote *ingest.VoteMessage) error
	PublishRumor(r *ingest.RumorMessage) error
}

// Handler carries the dependencies for all API endpoints.
type Handler struct {
	engine         *detection.Engine
	publisher      EventPublisher
	ledger         *trust.Ledger
	wsHub          *ws.Hub
	allowedOrigins []string
	startTime      time.Time
}

// NewHandler creates an API handler. publisher and wsHub may be nil;
// the corresponding endpoints return 503.
func NewHandler(engine *detection.Engine, publisher EventPublisher, ledger *trust.Ledger, wsHub *ws.Hub, allowedOrigins []string) *Handler {
	return &Handler{
		engine:         engine,
		publisher:      publisher,
		ledger:         ledger,
		wsHub:          wsHub,
		allowedOrigins: allowedOrigins,
		startTime:      time.Now(),
	}
}

// apiResponse is the envelope for every JSON response.
type apiResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     *apiError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := apiResponse{Status: "ok", Data: data, Timestamp: time.Now().UTC()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := apiResponse{
		Status:    "error",
		Error:     &apiError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON error response")
	}
}

// CreateRumor handles POST /api/v1/rumors. The rumor is published onto
// the transport and registered asynchronously; 202 means accepted, not
// yet visible to queries.
func (h *Handler) CreateRumor(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "NO_PUBLISHER", "event submission is disabled, events arrive via the broker", nil)
		return
	}

	var req ingest.RumorMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON", err)
		return
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	if err := h.publisher.PublishRumor(&req); err != nil {
		if errors.Is(err, detection.ErrInvalidEvent) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "PUBLISH_FAILED", "failed to publish rumor", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"rumor_id": req.RumorID})
}

// CreateVerification handles POST /api/v1/verifications. A missing
// event ID is generated and a zero timestamp defaults to now, so simple
// clients can omit both.
func (h *Handler) CreateVerification(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		respondError(w, http.StatusServiceUnavailable, "NO_PUBLISHER", "event submission is disabled, events arrive via the broker", nil)
		return
	}

	var req ingest.VoteMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON", err)
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	if err := h.publisher.PublishVote(&req); err != nil {
		if errors.Is(err, detection.ErrInvalidEvent) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "PUBLISH_FAILED", "failed to publish verification", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"event_id": req.EventID})
}

// Assessment handles GET /api/v1/assessments/{userID}/{rumorID}.
func (h *Handler) Assessment(w http.ResponseWriter, r *http.Request) {
	subject := detection.SubjectKey{
		UserID:  chi.URLParam(r, "userID"),
		RumorID: chi.URLParam(r, "rumorID"),
	}

	assessment := h.engine.GetAssessment(subject)
	if assessment == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no assessment for user %q on rumor %q", subject.UserID, subject.RumorID), nil)
		return
	}
	respondJSON(w, http.StatusOK, assessment)
}

// userScoreResponse combines the decayed anomaly history with the
// current trust account.
type userScoreResponse struct {
	UserID          string        `json:"user_id"`
	HistoricalScore float64       `json:"historical_score"`
	Trust           trust.Account `json:"trust"`
}

// UserScore handles GET /api/v1/users/{userID}/score.
func (h *Handler) UserScore(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	respondJSON(w, http.StatusOK, userScoreResponse{
		UserID:          userID,
		HistoricalScore: h.engine.UserHistoricalScore(userID, time.Now().UTC()),
		Trust:           h.ledger.Account(userID),
	})
}

// alertsResponse wraps the alert list with its count.
type alertsResponse struct {
	Alerts []detection.Assessment `json:"alerts"`
	Count  int                    `json:"count"`
}

// Alerts handles GET /api/v1/alerts. Query parameters: user_id,
// rumor_id, min_tier, since, until (RFC 3339), limit.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	filter := detection.AuditFilter{
		UserID:  r.URL.Query().Get("user_id"),
		RumorID: r.URL.Query().Get("rumor_id"),
		Limit:   100,
	}

	if tier := r.URL.Query().Get("min_tier"); tier != "" {
		parsed, ok := parseTier(tier)
		if !ok {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				fmt.Sprintf("unknown tier %q, want minor, moderate, severe or critical", tier), nil)
			return
		}
		filter.MinTier = parsed
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"since", &filter.Since},
		{"until", &filter.Until},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				fmt.Sprintf("%s must be RFC 3339, got %q", p.name, raw), nil)
			return
		}
		*p.dst = &ts
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				fmt.Sprintf("limit must be a positive integer, got %q", raw), nil)
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		filter.Limit = limit
	}

	alerts, err := h.engine.ListAssessments(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to list assessments", err)
		return
	}
	respondJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

func parseTier(s string) (detection.Severity, bool) {
	tier := detection.Severity(strings.ToLower(s))
	switch tier {
	case detection.SeverityMinor, detection.SeverityModerate, detection.SeveritySevere, detection.SeverityCritical:
		return tier, true
	}
	return "", false
}

// healthResponse reports liveness plus engine throughput counters.
type healthResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    float64                 `json:"uptime_seconds"`
	WebSocketClients int                     `json:"websocket_clients"`
	Engine           detection.EngineMetrics `json:"engine"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if h.wsHub != nil {
		clients = h.wsHub.ClientCount()
	}
	respondJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		UptimeSeconds:    time.Since(h.startTime).Seconds(),
		WebSocketClients: clients,
		Engine:           h.engine.Metrics(),
	})
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates connection origins. Browser clients
// always send Origin; an empty header is rejected because allowing it
// would bypass the origin check entirely.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	// No configured origins means development mode, allow anything.
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket handles GET /ws, upgrading the connection and attaching it
// to the broadcast hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "WebSocket service unavailable", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	h.wsHub.Register <- client
	client.Start()
}
