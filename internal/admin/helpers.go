package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"logx-detector/internal/rules"
)

// requireMethod validates that the request method matches the expected method.
// Returns true if valid, false otherwise (and writes error response).
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// requireQueryParam extracts a query parameter and validates it's not empty.
func requireQueryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		http.Error(w, name+" query parameter is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

// parseRuleID parses a positive rule id, writing a 400 on failure.
func parseRuleID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "rule_id must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// parseTime accepts an RFC 3339 timestamp or a duration to subtract from now, such
// as "15m" or "24h". An empty value yields def.
func parseTime(raw string, now time.Time, def time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// silenceKey identifies one silence in request bodies and query strings.
type silenceKey struct {
	RuleID   int64  `json:"rule_id"`
	TenantID string `json:"tenant_id"`
	SystemID string `json:"system_id"`
	Scope    string `json:"scope"`
	Target   string `json:"target"`
}

func (k silenceKey) validate(w http.ResponseWriter) bool {
	if k.RuleID <= 0 {
		http.Error(w, "rule_id must be a positive integer", http.StatusBadRequest)
		return false
	}
	if k.TenantID == "" || k.SystemID == "" {
		http.Error(w, "tenant_id and system_id are required", http.StatusBadRequest)
		return false
	}
	return true
}

func (k silenceKey) scope() rules.Scope {
	return rules.ParseScope(k.Scope)
}
