package alerts

import "testing"

func TestSummarize(t *testing.T) {
	batch := []*Alert{
		{ID: "1", TenantID: "b", Level: "CRITICAL", SuppressedCount: 2},
		{ID: "2", TenantID: "a", Level: "INFO"},
		{ID: "3", TenantID: "b", Level: "CRITICAL", SuppressedCount: 1},
	}

	got := Summarize(batch)
	if len(got) != 2 {
		t.Fatalf("Summarize() returned %d summaries, want 2", len(got))
	}
	if got[0].TenantID != "a" || got[1].TenantID != "b" {
		t.Errorf("summaries not ordered by tenant: %s, %s", got[0].TenantID, got[1].TenantID)
	}
	b := got[1]
	if b.Total != 2 || b.ByLevel["CRITICAL"] != 2 || b.Suppressed != 3 {
		t.Errorf("tenant b summary = %+v", b)
	}
	if b.Alerts[0].ID != "1" || b.Alerts[1].ID != "3" {
		t.Errorf("alert order not preserved")
	}
}

func TestSummarize_Empty(t *testing.T) {
	if got := Summarize(nil); len(got) != 0 {
		t.Errorf("Summarize(nil) = %v, want empty", got)
	}
}
