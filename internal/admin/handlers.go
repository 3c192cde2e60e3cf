package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"logx-detector/internal/dispatcher"
	"logx-detector/internal/engine"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
)

// defaultRecentWindow is how far back /alerts/recent looks without a since parameter.
const defaultRecentWindow = 24 * time.Hour

// Handlers wraps the detector for HTTP handlers.
type Handlers struct {
	detector Detector
	now      func() time.Time
}

// NewHandlers creates a new handlers instance.
func NewHandlers(d Detector) *Handlers {
	return &Handlers{detector: d, now: time.Now}
}

// RefreshRules reloads every enabled rule.
// POST /api/v1/rules/refresh
func (h *Handlers) RefreshRules(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.detector.RefreshRules(r.Context()); err != nil {
		slog.Error("Rule refresh failed", "error", err)
		http.Error(w, "Failed to refresh rules: "+err.Error(), http.StatusInternalServerError)
		return
	}
	stats := h.detector.Statistics()
	writeJSON(w, http.StatusOK, map[string]int{
		"systems": stats.CachedSystems,
		"rules":   stats.CachedRules,
	})
}

// ClearCache drops the cached rules of one system, or all of them when neither
// tenant_id nor system_id is given.
// POST /api/v1/cache/clear
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	systemID := r.URL.Query().Get("system_id")
	if (tenantID == "") != (systemID == "") {
		http.Error(w, "tenant_id and system_id must be given together", http.StatusBadRequest)
		return
	}
	h.detector.ClearCache(tenantID, systemID)
	slog.Info("Rule cache cleared", "tenant_id", tenantID, "system_id", systemID)
	w.WriteHeader(http.StatusNoContent)
}

// ClearRuleState removes the detection state of one rule.
// POST /api/v1/rules/state/clear?rule_id=
func (h *Handlers) ClearRuleState(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	raw, ok := requireQueryParam(w, r, "rule_id")
	if !ok {
		return
	}
	ruleID, ok := parseRuleID(w, raw)
	if !ok {
		return
	}
	if err := h.detector.ClearRuleState(r.Context(), ruleID); err != nil {
		if errors.Is(err, engine.ErrRuleNotFound) {
			http.Error(w, "Rule not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to clear rule state", "rule_id", ruleID, "error", err)
		http.Error(w, "Failed to clear rule state: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvaluateRequest is a dry-run evaluation of a rule against one event.
type EvaluateRequest struct {
	Rule  rules.Rule      `json:"rule"`
	Event json.RawMessage `json:"event"`
}

// Evaluate tests a rule against an event without touching live state.
// POST /api/v1/evaluate
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Event) == 0 {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}
	if _, err := req.Rule.Condition(); err != nil {
		http.Error(w, "Invalid rule: "+err.Error(), http.StatusBadRequest)
		return
	}
	ev, err := events.DecodeJSON(req.Event)
	if err != nil {
		http.Error(w, "Invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.detector.Evaluate(r.Context(), req.Rule, ev))
}

// GetSilence reports the silence and pending aggregation of a key.
// GET /api/v1/silences?rule_id=&tenant_id=&system_id=&scope=&target=&silence_seconds=
func (h *Handlers) GetSilence(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	raw, ok := requireQueryParam(w, r, "rule_id")
	if !ok {
		return
	}
	ruleID, ok := parseRuleID(w, raw)
	if !ok {
		return
	}
	key := silenceKey{
		RuleID:   ruleID,
		TenantID: q.Get("tenant_id"),
		SystemID: q.Get("system_id"),
		Scope:    q.Get("scope"),
		Target:   q.Get("target"),
	}
	if !key.validate(w) {
		return
	}
	seconds := 0
	if s := q.Get("silence_seconds"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "silence_seconds must be an integer", http.StatusBadRequest)
			return
		}
		seconds = n
	}
	writeJSON(w, http.StatusOK, h.detector.SilenceStatus(key.RuleID, key.TenantID, key.SystemID, key.scope(), seconds, key.Target))
}

// ResetSilence removes the silence of a key.
// POST /api/v1/silences/reset
func (h *Handlers) ResetSilence(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var key silenceKey
	if !decodeJSON(w, r, &key) || !key.validate(w) {
		return
	}
	if !h.detector.ResetSilence(key.RuleID, key.TenantID, key.SystemID, key.scope(), key.Target) {
		http.Error(w, "Silence not found", http.StatusNotFound)
		return
	}
	slog.Info("Silence reset",
		"rule_id", key.RuleID,
		"tenant_id", key.TenantID,
		"system_id", key.SystemID,
		"scope", key.scope(),
	)
	w.WriteHeader(http.StatusNoContent)
}

// EscalationRequest asks whether a level would escalate a key's silence.
type EscalationRequest struct {
	silenceKey
	Level string `json:"level"`
}

// CheckEscalation reports whether the given level would break through the key's silence.
// POST /api/v1/silences/escalation
func (h *Handlers) CheckEscalation(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req EscalationRequest
	if !decodeJSON(w, r, &req) || !req.validate(w) {
		return
	}
	if req.Level == "" {
		http.Error(w, "level is required", http.StatusBadRequest)
		return
	}
	escalate := h.detector.ShouldEscalate(req.RuleID, req.TenantID, req.SystemID, req.scope(), req.Target, req.Level)
	writeJSON(w, http.StatusOK, map[string]bool{"escalate": escalate})
}

// HandleAlertRequest resolves an alert.
type HandleAlertRequest struct {
	AlertID string `json:"alert_id"`
	User    string `json:"user"`
	Remark  string `json:"remark"`
}

// HandleAlert resolves an alert.
// POST /api/v1/alerts/handle
func (h *Handlers) HandleAlert(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req HandleAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AlertID == "" || req.User == "" {
		http.Error(w, "alert_id and user are required", http.StatusBadRequest)
		return
	}
	if err := h.detector.HandleAlert(r.Context(), req.AlertID, req.User, req.Remark); err != nil {
		if errors.Is(err, dispatcher.ErrAlertNotFound) {
			http.Error(w, "Alert not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, dispatcher.ErrAlreadyResolved) {
			http.Error(w, "Alert already resolved", http.StatusConflict)
			return
		}
		slog.Error("Failed to handle alert", "alert_id", req.AlertID, "error", err)
		http.Error(w, "Failed to handle alert: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkReadRequest lists alerts to acknowledge.
type MarkReadRequest struct {
	AlertIDs []string `json:"alert_ids"`
}

// MarkAsRead moves PENDING alerts to PROCESSING.
// POST /api/v1/alerts/read
func (h *Handlers) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req MarkReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.AlertIDs) == 0 {
		http.Error(w, "alert_ids is required", http.StatusBadRequest)
		return
	}
	n, err := h.detector.MarkAsRead(r.Context(), req.AlertIDs)
	if err != nil {
		slog.Error("Failed to mark alerts read", "count", len(req.AlertIDs), "error", err)
		http.Error(w, "Failed to mark alerts read", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// PendingAlerts lists a tenant's PENDING alerts.
// GET /api/v1/alerts/pending?tenant_id=
func (h *Handlers) PendingAlerts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	tenantID, ok := requireQueryParam(w, r, "tenant_id")
	if !ok {
		return
	}
	list, err := h.detector.PendingAlerts(r.Context(), tenantID)
	if err != nil {
		slog.Error("Failed to list pending alerts", "tenant_id", tenantID, "error", err)
		http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// RecentAlerts lists a tenant's recent alerts.
// GET /api/v1/alerts/recent?tenant_id=&system_id=&since=&limit=
func (h *Handlers) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	tenantID, ok := requireQueryParam(w, r, "tenant_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	now := h.now()
	since, err := parseTime(q.Get("since"), now, now.Add(-defaultRecentWindow))
	if err != nil {
		http.Error(w, "since must be RFC 3339 or a duration", http.StatusBadRequest)
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}
	list, err := h.detector.RecentAlerts(r.Context(), tenantID, q.Get("system_id"), since, limit)
	if err != nil {
		slog.Error("Failed to list recent alerts", "tenant_id", tenantID, "error", err)
		http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CountAlerts counts a tenant's alerts in a time range.
// GET /api/v1/alerts/count?tenant_id=&since=&until=
func (h *Handlers) CountAlerts(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	tenantID, ok := requireQueryParam(w, r, "tenant_id")
	if !ok {
		return
	}
	q := r.URL.Query()
	now := h.now()
	since, err := parseTime(q.Get("since"), now, now.Add(-defaultRecentWindow))
	if err != nil {
		http.Error(w, "since must be RFC 3339 or a duration", http.StatusBadRequest)
		return
	}
	until, err := parseTime(q.Get("until"), now, now)
	if err != nil {
		http.Error(w, "until must be RFC 3339 or a duration", http.StatusBadRequest)
		return
	}
	if !since.Before(until) {
		http.Error(w, "since must be before until", http.StatusBadRequest)
		return
	}
	n, err := h.detector.CountAlerts(r.Context(), tenantID, since, until)
	if err != nil {
		slog.Error("Failed to count alerts", "tenant_id", tenantID, "error", err)
		http.Error(w, "Failed to count alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"since":     since.UTC(),
		"until":     until.UTC(),
		"count":     n,
	})
}

// Statistics returns the detector's diagnostic snapshot.
// GET /api/v1/statistics
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.detector.Statistics())
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
