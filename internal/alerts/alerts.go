// Package alerts defines the alert record produced by a rule trigger and the per-tenant
// summary used for batched notifications.
package alerts

import (
	"sort"
	"time"
)

// Status is the lifecycle state of an alert.
type Status string

// Alert statuses. Alerts move PENDING -> PROCESSING -> RESOLVED.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusResolved   Status = "RESOLVED"
)

// Alert is a persisted rule trigger.
type Alert struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	SystemID        string     `json:"system_id"`
	RuleID          int64      `json:"rule_id"`
	RuleName        string     `json:"rule_name"`
	Level           string     `json:"level"`
	Kind            string     `json:"kind"`
	Content         string     `json:"content"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	Status          Status     `json:"status"`
	HandledBy       string     `json:"handled_by,omitempty"`
	HandledAt       *time.Time `json:"handled_at,omitempty"`
	Remark          string     `json:"remark,omitempty"`
	SuppressedCount int        `json:"suppressed_count"`
}

// Summary is one batched notification for a tenant.
type Summary struct {
	TenantID   string         `json:"tenant_id"`
	Total      int            `json:"total"`
	ByLevel    map[string]int `json:"by_level"`
	Suppressed int            `json:"suppressed"`
	Alerts     []*Alert       `json:"alerts"`
}

// Summarize groups alerts by tenant. Summaries are ordered by tenant id and alerts
// keep their input order within a summary.
func Summarize(batch []*Alert) []Summary {
	index := make(map[string]int)
	var out []Summary
	for _, a := range batch {
		i, ok := index[a.TenantID]
		if !ok {
			i = len(out)
			index[a.TenantID] = i
			out = append(out, Summary{TenantID: a.TenantID, ByLevel: make(map[string]int)})
		}
		s := &out[i]
		s.Total++
		s.ByLevel[a.Level]++
		s.Suppressed += a.SuppressedCount
		s.Alerts = append(s.Alerts, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
