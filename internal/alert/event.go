// Package alert carries security events from the pipeline to
// external alerting. Delivery is asynchronous; the serving path only
// ever pays for a channel send.
package alert

import "time"

// Event is the immutable record of a non-allow verdict. One is
// emitted for every denial; operational faults are NOT events, they
// go to the fault log.
type Event struct {
	ClientIdentity string    `json:"client_identity"`
	Code           string    `json:"code"`
	Category       string    `json:"category,omitempty"`
	PatternID      string    `json:"pattern_id,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	Method         string    `json:"method,omitempty"`
	Path           string    `json:"path,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Detail         string    `json:"detail,omitempty"`
}

// NewEvent creates an Event with the current timestamp.
func NewEvent(identity, code, detail string) *Event {
	return &Event{
		ClientIdentity: identity,
		Code:           code,
		Detail:         detail,
		Timestamp:      time.Now(),
	}
}

// Sink consumes security events. Publish must not block the caller
// beyond a queue handoff.
type Sink interface {
	Publish(event *Event)
	Close()
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Publish sends the event to every sink.
func (m MultiSink) Publish(event *Event) {
	for _, s := range m {
		s.Publish(event)
	}
}

// Close closes every sink.
func (m MultiSink) Close() {
	for _, s := range m {
		s.Close()
	}
}

// NopSink discards events. Used when no alerting is configured.
type NopSink struct{}

func (NopSink) Publish(*Event) {}
func (NopSink) Close()         {}
