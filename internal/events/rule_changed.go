package events

// Rule change actions published by the rule management service.
const (
	ActionCreated  = "CREATED"
	ActionUpdated  = "UPDATED"
	ActionDeleted  = "DELETED"
	ActionDisabled = "DISABLED"
)

// RuleChanged represents a rule change event from the rule.changed topic.
type RuleChanged struct {
	RuleID        int64  `json:"rule_id"`
	TenantID      string `json:"tenant_id"`
	SystemID      string `json:"system_id"`
	Action        string `json:"action"` // CREATED, UPDATED, DELETED, DISABLED
	UpdatedAt     int64  `json:"updated_at"` // Unix timestamp
	SchemaVersion int    `json:"schema_version"`
}

// ClearsState reports whether the change invalidates per-rule detection state.
// A newly created rule has no state yet.
func (r *RuleChanged) ClearsState() bool {
	switch r.Action {
	case ActionUpdated, ActionDeleted, ActionDisabled:
		return true
	}
	return false
}
