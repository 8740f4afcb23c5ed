package alert

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/bastion/internal/config"
)

func TestAuditFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	sink := NewAuditFileSink(config.AuditFileConfig{Enabled: true, Path: path})

	first := NewEvent("203.0.113.1", "ATTACK_DETECTED", "xss in body")
	first.Category = "xss"
	sink.Publish(first)
	sink.Publish(NewEvent("203.0.113.2", "RATE_LIMITED", ""))
	sink.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Code != "ATTACK_DETECTED" || events[0].Category != "xss" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].ClientIdentity != "203.0.113.2" {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestAuditFileSinkPublishAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	sink := NewAuditFileSink(config.AuditFileConfig{Enabled: true, Path: path})
	sink.Publish(NewEvent("192.0.2.1", "IP_BLOCKED", ""))
	sink.Close()

	// Must not panic or reopen the file.
	sink.Publish(NewEvent("192.0.2.2", "IP_BLOCKED", ""))
}

func TestMultiSinkFansOut(t *testing.T) {
	var a, b countingSink
	m := MultiSink{&a, &b}
	m.Publish(NewEvent("192.0.2.3", "GEO_BLOCKED", ""))
	m.Close()

	if a.published != 1 || b.published != 1 {
		t.Errorf("published = %d/%d, want 1/1", a.published, b.published)
	}
	if !a.closed || !b.closed {
		t.Error("Close did not reach all sinks")
	}
}

type countingSink struct {
	published int
	closed    bool
}

func (c *countingSink) Publish(*Event) { c.published++ }
func (c *countingSink) Close()         { c.closed = true }
