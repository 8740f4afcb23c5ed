// Package validate performs cheap structural request checks. Size
// violations fail closed: they are a hard resource-exhaustion guard.
// Header findings are weak signals and only ever logged.
package validate

import (
	"net/http"
	"strings"
	"sync/atomic"
)

const (
	// DefaultMaxRequestSize is the content-length ceiling.
	DefaultMaxRequestSize = 10 << 20 // 10 MiB

	// minUserAgentLen below which a User-Agent counts as suspicious.
	minUserAgentLen = 8

	// maxForwardedHeaders: more X-Forwarded-* headers than this
	// suggests header stuffing.
	maxForwardedHeaders = 3
)

// Finding is one header heuristic hit. Informational only.
type Finding struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Config holds validator settings.
type Config struct {
	MaxRequestSize int64 // 0 means DefaultMaxRequestSize
}

// Validator runs the structural checks.
type Validator struct {
	maxRequestSize int64

	sizeRejections atomic.Int64
	headerFindings atomic.Int64
}

// New creates a Validator.
func New(cfg Config) *Validator {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}
	return &Validator{maxRequestSize: maxSize}
}

// CheckSize reports whether the declared content length is within
// bounds. Unknown lengths (-1) pass: there is nothing to judge, and
// the server's body limits still apply downstream.
func (v *Validator) CheckSize(contentLength int64) bool {
	if contentLength > v.maxRequestSize {
		v.sizeRejections.Add(1)
		return false
	}
	return true
}

// MaxRequestSize returns the configured ceiling.
func (v *Validator) MaxRequestSize() int64 {
	return v.maxRequestSize
}

// CheckHeaders runs the header heuristics and returns any findings.
// Never denies on its own; the caller decides what to do with the
// findings (by default: log).
func (v *Validator) CheckHeaders(h http.Header) []Finding {
	var findings []Finding

	ua := h.Get("User-Agent")
	switch {
	case ua == "":
		findings = append(findings, Finding{Check: "user_agent", Detail: "missing User-Agent"})
	case len(ua) < minUserAgentLen:
		findings = append(findings, Finding{Check: "user_agent", Detail: "unusually short User-Agent"})
	}

	forwarded := 0
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-Forwarded-") {
			forwarded++
		}
	}
	if forwarded > maxForwardedHeaders {
		findings = append(findings, Finding{Check: "forwarded_headers", Detail: "excessive X-Forwarded-* headers"})
	}

	if h.Get("Host") == "" && h.Get("X-Forwarded-Host") != "" {
		findings = append(findings, Finding{Check: "host", Detail: "forwarded host without Host header"})
	}

	v.headerFindings.Add(int64(len(findings)))
	return findings
}

// Stats returns a counters snapshot.
func (v *Validator) Stats() map[string]int64 {
	return map[string]int64{
		"size_rejections": v.sizeRejections.Load(),
		"header_findings": v.headerFindings.Load(),
	}
}
