// Package metrics tracks filtering decisions for Prometheus-compatible
// export. The collector is deliberately small: counters and one
// latency histogram, exposed in text exposition format on the admin
// listener.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector aggregates decision metrics.
type Collector struct {
	mu sync.RWMutex

	// key: verdict|code  ("allow|", "deny|RATE_LIMITED", ...)
	decisionsTotal map[string]int64

	// key: category
	detectionsTotal map[string]int64

	// key: category
	rateLimitRejections map[string]int64

	decisionDurations *HistogramData

	faultsTotal int64

	// Gauges pushed by the pipeline on state changes.
	blockedIdentities     int64
	whitelistedIdentities int64
}

// HistogramData stores histogram-like data for durations
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds. Decisions
// are fast; the upper buckets only fill when geo lookups stall.
var DefaultBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	hd := &HistogramData{Buckets: make(map[float64]int64)}
	for _, b := range DefaultBuckets {
		hd.Buckets[b] = 0
	}
	return &Collector{
		decisionsTotal:      make(map[string]int64),
		detectionsTotal:     make(map[string]int64),
		rateLimitRejections: make(map[string]int64),
		decisionDurations:   hd,
	}
}

// RecordDecision records one completed filtering decision. code is
// empty for allowed requests.
func (c *Collector) RecordDecision(verdict, code string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decisionsTotal[verdict+"|"+code]++

	secs := duration.Seconds()
	c.decisionDurations.Count++
	c.decisionDurations.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			c.decisionDurations.Buckets[bound]++
		}
	}
}

// RecordDetection records an attack signature match by category.
func (c *Collector) RecordDetection(category string) {
	c.mu.Lock()
	c.detectionsTotal[category]++
	c.mu.Unlock()
}

// RecordRateLimitRejection records a rate limit rejection by category.
func (c *Collector) RecordRateLimitRejection(category string) {
	c.mu.Lock()
	c.rateLimitRejections[category]++
	c.mu.Unlock()
}

// RecordFault records an internal component failure that was absorbed
// by fail-open handling.
func (c *Collector) RecordFault() {
	c.mu.Lock()
	c.faultsTotal++
	c.mu.Unlock()
}

// SetIdentityGauges sets the current blocked/whitelisted identity counts.
func (c *Collector) SetIdentityGauges(blocked, whitelisted int64) {
	c.mu.Lock()
	c.blockedIdentities = blocked
	c.whitelistedIdentities = whitelisted
	c.mu.Unlock()
}

// MetricsSnapshot holds a snapshot of all metrics
type MetricsSnapshot struct {
	DecisionsTotal        map[string]int64   `json:"decisions_total"`
	DetectionsTotal       map[string]int64   `json:"detections_total"`
	RateLimitRejections   map[string]int64   `json:"rate_limit_rejections_total"`
	DecisionDurations     *HistogramSnapshot `json:"decision_durations"`
	FaultsTotal           int64              `json:"faults_total"`
	BlockedIdentities     int64              `json:"blocked_identities"`
	WhitelistedIdentities int64              `json:"whitelisted_identities"`
}

// HistogramSnapshot is a snapshot of histogram data
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[float64]int64 `json:"buckets"`
}

// Snapshot returns a point-in-time snapshot of all metrics
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &MetricsSnapshot{
		DecisionsTotal:      make(map[string]int64),
		DetectionsTotal:     make(map[string]int64),
		RateLimitRejections: make(map[string]int64),
		DecisionDurations: &HistogramSnapshot{
			Count:   c.decisionDurations.Count,
			Sum:     c.decisionDurations.Sum,
			Buckets: make(map[float64]int64),
		},
		FaultsTotal:           c.faultsTotal,
		BlockedIdentities:     c.blockedIdentities,
		WhitelistedIdentities: c.whitelistedIdentities,
	}
	for k, v := range c.decisionsTotal {
		snap.DecisionsTotal[k] = v
	}
	for k, v := range c.detectionsTotal {
		snap.DetectionsTotal[k] = v
	}
	for k, v := range c.rateLimitRejections {
		snap.RateLimitRejections[k] = v
	}
	for b, cnt := range c.decisionDurations.Buckets {
		snap.DecisionDurations.Buckets[b] = cnt
	}
	return snap
}

// WritePrometheus writes metrics in Prometheus text exposition format
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "bastion_decisions_total", "Total filtering decisions", "counter")
	for key, count := range c.decisionsTotal {
		parts := splitKey(key, 2)
		if len(parts) == 2 {
			writeMetric(w, "bastion_decisions_total", count,
				"verdict", parts[0], "code", parts[1])
		}
	}

	writeHelp(w, "bastion_decision_duration_seconds", "Filtering decision duration in seconds", "histogram")
	hd := c.decisionDurations
	for _, bound := range DefaultBuckets {
		writeMetricFloat(w, "bastion_decision_duration_seconds_bucket", float64(hd.Buckets[bound]),
			"le", strconv.FormatFloat(bound, 'f', -1, 64))
	}
	writeMetricFloat(w, "bastion_decision_duration_seconds_bucket", float64(hd.Count), "le", "+Inf")
	writeMetricFloat(w, "bastion_decision_duration_seconds_sum", hd.Sum)
	writeMetric(w, "bastion_decision_duration_seconds_count", hd.Count)

	writeHelp(w, "bastion_attack_detections_total", "Attack signature matches by category", "counter")
	for category, count := range c.detectionsTotal {
		writeMetric(w, "bastion_attack_detections_total", count, "category", category)
	}

	writeHelp(w, "bastion_rate_limit_rejections_total", "Rate limit rejections by category", "counter")
	for category, count := range c.rateLimitRejections {
		writeMetric(w, "bastion_rate_limit_rejections_total", count, "category", category)
	}

	writeHelp(w, "bastion_faults_total", "Internal component failures absorbed by fail-open", "counter")
	writeMetric(w, "bastion_faults_total", c.faultsTotal)

	writeHelp(w, "bastion_blocked_identities", "Currently blocked client identities", "gauge")
	writeMetric(w, "bastion_blocked_identities", c.blockedIdentities)

	writeHelp(w, "bastion_whitelisted_identities", "Currently whitelisted client identities", "gauge")
	writeMetric(w, "bastion_whitelisted_identities", c.whitelistedIdentities)
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"
	w.Write([]byte(line))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	line := name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"
	w.Write([]byte(line))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
