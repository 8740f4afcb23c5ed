package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRecordsDecisions(t *testing.T) {
	c := NewCollector()
	c.RecordDecision("allow", "", 2*time.Millisecond)
	c.RecordDecision("allow", "", 3*time.Millisecond)
	c.RecordDecision("deny", "RATE_LIMITED", time.Millisecond)

	snap := c.Snapshot()
	if snap.DecisionsTotal["allow|"] != 2 {
		t.Errorf("allow count = %d, want 2", snap.DecisionsTotal["allow|"])
	}
	if snap.DecisionsTotal["deny|RATE_LIMITED"] != 1 {
		t.Errorf("deny count = %d, want 1", snap.DecisionsTotal["deny|RATE_LIMITED"])
	}
	if snap.DecisionDurations.Count != 3 {
		t.Errorf("histogram count = %d, want 3", snap.DecisionDurations.Count)
	}
	if snap.DecisionDurations.Buckets[0.005] != 3 {
		t.Errorf("5ms bucket = %d, want 3", snap.DecisionDurations.Buckets[0.005])
	}
	if snap.DecisionDurations.Buckets[0.001] != 1 {
		t.Errorf("1ms bucket = %d, want 1", snap.DecisionDurations.Buckets[0.001])
	}
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.RecordDetection("xss")
	snap := c.Snapshot()
	snap.DetectionsTotal["xss"] = 99

	if got := c.Snapshot().DetectionsTotal["xss"]; got != 1 {
		t.Errorf("collector mutated through snapshot: %d", got)
	}
}

func TestWritePrometheusFormat(t *testing.T) {
	c := NewCollector()
	c.RecordDecision("deny", "ATTACK_DETECTED", time.Millisecond)
	c.RecordDetection("sql_injection")
	c.RecordRateLimitRejection("login")
	c.RecordFault()
	c.SetIdentityGauges(4, 2)

	rec := httptest.NewRecorder()
	c.WritePrometheus(rec)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`bastion_decisions_total{verdict="deny",code="ATTACK_DETECTED"} 1`,
		`bastion_attack_detections_total{category="sql_injection"} 1`,
		`bastion_rate_limit_rejections_total{category="login"} 1`,
		`bastion_decision_duration_seconds_bucket{le="+Inf"} 1`,
		"bastion_decision_duration_seconds_count 1",
		"bastion_faults_total 1",
		"bastion_blocked_identities 4",
		"bastion_whitelisted_identities 2",
		"# TYPE bastion_decisions_total counter",
		"# TYPE bastion_blocked_identities gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q\n%s", want, body)
		}
	}
}
