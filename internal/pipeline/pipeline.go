// Package pipeline wires the filtering components into a single
// ordered decision path. Gate order is fixed: reputation block, geo
// policy, rate limit, attack detection, size validation, header
// heuristics. The first gate that rejects wins; header findings are
// log-only unless enforcement is switched on.
package pipeline

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/bastion/internal/alert"
	"github.com/wudi/bastion/internal/clientip"
	"github.com/wudi/bastion/internal/detect"
	"github.com/wudi/bastion/internal/errors"
	"github.com/wudi/bastion/internal/geo"
	"github.com/wudi/bastion/internal/logging"
	"github.com/wudi/bastion/internal/metrics"
	"github.com/wudi/bastion/internal/middleware"
	"github.com/wudi/bastion/internal/ratelimit"
	"github.com/wudi/bastion/internal/reputation"
	"github.com/wudi/bastion/internal/validate"
)

// maxBodyInspect caps how much of the request body is buffered for
// signature matching. The remainder streams through untouched.
const maxBodyInspect = 64 << 10

// Components holds the gates. Any field may be nil; a nil component
// is skipped, never failed.
type Components struct {
	Reputation *reputation.Tracker
	Geo        *geo.Engine
	RateLimit  *ratelimit.Limiter
	Detector   *detect.Detector
	Validator  *validate.Validator
	Sink       alert.Sink
	Metrics    *metrics.Collector
}

// Options tunes pipeline behavior.
type Options struct {
	// EnforceHeaders promotes header findings from log-only to denial.
	EnforceHeaders bool
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Allowed    bool
	Denial     *errors.DenialError // nil when allowed
	Category   string              // attack or rate limit category, if any
	RetryAfter time.Duration       // set for rate limit denials
}

// Pipeline evaluates requests against the gates in order. The
// detector and geo engine are held behind atomic pointers so config
// reloads can swap them without pausing the serving path.
type Pipeline struct {
	components Components
	detector   atomic.Pointer[detect.Detector]
	geoEngine  atomic.Pointer[geo.Engine]
	opts       Options
	sink       alert.Sink

	allowed atomic.Int64
	denied  atomic.Int64
	faults  atomic.Int64
}

// New creates a Pipeline. A nil Sink is replaced with a no-op.
func New(components Components, opts Options) *Pipeline {
	sink := components.Sink
	if sink == nil {
		sink = alert.NopSink{}
	}
	p := &Pipeline{
		components: components,
		opts:       opts,
		sink:       sink,
	}
	if components.Detector != nil {
		p.detector.Store(components.Detector)
	}
	if components.Geo != nil {
		p.geoEngine.Store(components.Geo)
	}
	return p
}

// ReplaceDetector swaps in a new signature set. In-flight
// evaluations finish against the old one.
func (p *Pipeline) ReplaceDetector(d *detect.Detector) {
	if d == nil {
		return
	}
	p.detector.Store(d)
	logging.Info("attack detector replaced",
		zap.Int("signatures", d.SignatureCount()),
	)
}

// ReplaceGeoEngine swaps the geo policy. The old engine is closed
// after a grace period so lookups still in flight finish against it.
func (p *Pipeline) ReplaceGeoEngine(e *geo.Engine) {
	if e == nil {
		return
	}
	old := p.geoEngine.Swap(e)
	if old != nil {
		time.AfterFunc(5*time.Second, func() { _ = old.Close() })
	}
	logging.Info("geo policy replaced")
}

// Evaluate runs the gates against the request. A panic or internal
// error in any gate fails open: filtering must never take the
// protected service down with it.
func (p *Pipeline) Evaluate(r *http.Request) (verdict Verdict) {
	start := time.Now()
	requestID := middleware.GetRequestID(r)
	identity := clientip.Resolve(r)

	defer func() {
		if rec := recover(); rec != nil {
			p.faults.Add(1)
			if p.components.Metrics != nil {
				p.components.Metrics.RecordFault()
			}
			logging.Fault("pipeline panic recovered, failing open",
				zap.Any("panic", rec),
				zap.String("identity", identity),
				zap.String("request_id", requestID),
			)
			verdict = Verdict{Allowed: true}
		}
		p.record(verdict, start)
	}()

	if p.components.Reputation != nil && p.components.Reputation.IsBlocked(identity) {
		return p.deny(r, identity, requestID, errors.CodeIPBlocked, "", "", "identity on block list")
	}

	if engine := p.geoEngine.Load(); engine != nil {
		if out := engine.Evaluate(r.Context(), identity); !out.Allowed {
			return p.deny(r, identity, requestID, errors.CodeGeoBlocked, "", "", "country "+out.Country)
		}
	}

	var category ratelimit.Category
	if p.components.RateLimit != nil {
		category = ratelimit.CategoryForPath(r.URL.Path)
		out := p.components.RateLimit.Consume(r.Context(), category, identity)
		if !out.Allowed {
			if p.components.Metrics != nil {
				p.components.Metrics.RecordRateLimitRejection(string(category))
			}
			v := p.deny(r, identity, requestID, errors.CodeRateLimited, string(category), "", "category "+string(category))
			v.RetryAfter = out.RetryAfter
			return v
		}
	}

	if detector := p.detector.Load(); detector != nil {
		result := detector.Detect(buildSurface(r))
		if result.Detected {
			if p.components.Metrics != nil {
				p.components.Metrics.RecordDetection(string(result.Category))
			}
			if p.components.Reputation != nil {
				count, promoted := p.components.Reputation.RecordSuspicion(identity, string(result.Category), result.PatternID)
				if promoted {
					logging.Warn("identity promoted to block list",
						zap.String("identity", identity),
						zap.Int("suspicion_count", count),
					)
				}
			}
			return p.deny(r, identity, requestID, errors.CodeAttackDetected,
				string(result.Category), result.PatternID, result.Sample)
		}
	}

	if p.components.Validator != nil {
		if !p.components.Validator.CheckSize(r.ContentLength) {
			return p.deny(r, identity, requestID, errors.CodeRequestTooLarge, "", "",
				"content length "+strconv.FormatInt(r.ContentLength, 10))
		}

		if findings := p.components.Validator.CheckHeaders(r.Header); len(findings) > 0 {
			for _, f := range findings {
				logging.Warn("header validation finding",
					zap.String("identity", identity),
					zap.String("check", f.Check),
					zap.String("detail", f.Detail),
					zap.String("request_id", requestID),
				)
			}
			if p.opts.EnforceHeaders {
				return p.deny(r, identity, requestID, errors.CodeInvalidHeaders, "", "",
					findings[0].Check)
			}
		}
	}

	return Verdict{Allowed: true}
}

func (p *Pipeline) deny(r *http.Request, identity, requestID, code, category, patternID, detail string) Verdict {
	event := alert.NewEvent(identity, code, detail)
	event.Category = category
	event.PatternID = patternID
	event.RequestID = requestID
	event.Method = r.Method
	event.Path = r.URL.Path
	p.sink.Publish(event)

	logging.Info("request denied",
		zap.String("identity", identity),
		zap.String("code", code),
		zap.String("category", category),
		zap.String("pattern_id", patternID),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID),
	)

	return Verdict{
		Denial:   errors.ByCode(code).WithRequestID(requestID),
		Category: category,
	}
}

func (p *Pipeline) record(v Verdict, start time.Time) {
	verdict, code := "allow", ""
	if v.Allowed {
		p.allowed.Add(1)
	} else {
		p.denied.Add(1)
		verdict = "deny"
		if v.Denial != nil {
			code = v.Denial.Code
		}
	}
	if p.components.Metrics != nil {
		p.components.Metrics.RecordDecision(verdict, code, time.Since(start))
		if p.components.Reputation != nil {
			snap := p.components.Reputation.Status()
			p.components.Metrics.SetIdentityGauges(int64(snap.BlockedCount), int64(snap.WhitelistCount))
		}
	}
}

// buildSurface assembles the matchable view of the request in a fixed
// order: path, decoded query, body excerpt, User-Agent, Referer. The
// body is re-attached so the upstream handler still sees the full
// stream.
func buildSurface(r *http.Request) string {
	var sb bytes.Buffer
	sb.WriteString(r.URL.Path)
	if r.URL.RawQuery != "" {
		sb.WriteByte('?')
		// Match against the decoded query so percent-encoding does
		// not hide a payload. Undecodable queries are matched raw.
		if q, err := url.QueryUnescape(r.URL.RawQuery); err == nil {
			sb.WriteString(q)
		} else {
			sb.WriteString(r.URL.RawQuery)
		}
	}

	if r.Body != nil && r.Body != http.NoBody {
		buf := make([]byte, maxBodyInspect)
		n, _ := io.ReadFull(r.Body, buf)
		if n > 0 {
			sb.WriteByte('\n')
			sb.Write(buf[:n])
			r.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(buf[:n]), r.Body), r.Body}
		}
	}

	if ua := r.Header.Get("User-Agent"); ua != "" {
		sb.WriteByte('\n')
		sb.WriteString(ua)
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		sb.WriteByte('\n')
		sb.WriteString(ref)
	}
	return sb.String()
}

// Middleware returns an http middleware that evaluates every request
// and writes the denial response for rejected ones.
func (p *Pipeline) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict := p.Evaluate(r)
			if verdict.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if verdict.RetryAfter > 0 {
				secs := int64(verdict.RetryAfter.Round(time.Second).Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			}
			verdict.Denial.WriteJSON(w)
		})
	}
}

// Stats aggregates component snapshots for the admin API.
type Stats struct {
	Allowed    int64                `json:"allowed"`
	Denied     int64                `json:"denied"`
	Faults     int64                `json:"faults"`
	Reputation *reputation.Snapshot `json:"reputation,omitempty"`
	Geo        *geo.Snapshot        `json:"geo,omitempty"`
	RateLimit  map[string]int64     `json:"rate_limit,omitempty"`
	Detection  map[string]int64     `json:"detection,omitempty"`
	Validation map[string]int64     `json:"validation,omitempty"`
}

// Stats returns the aggregate snapshot.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Allowed: p.allowed.Load(),
		Denied:  p.denied.Load(),
		Faults:  p.faults.Load(),
	}
	if p.components.Reputation != nil {
		snap := p.components.Reputation.Status()
		s.Reputation = &snap
	}
	if engine := p.geoEngine.Load(); engine != nil {
		snap := engine.Status()
		s.Geo = &snap
	}
	if p.components.RateLimit != nil {
		s.RateLimit = p.components.RateLimit.Stats()
	}
	if detector := p.detector.Load(); detector != nil {
		s.Detection = detector.Stats()
	}
	if p.components.Validator != nil {
		s.Validation = p.components.Validator.Stats()
	}
	return s
}

// Health reports which gates are active.
type Health struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
}

// HealthCheck reports pipeline liveness and component wiring.
func (p *Pipeline) HealthCheck() Health {
	return Health{
		Status: "ok",
		Components: map[string]bool{
			"reputation": p.components.Reputation != nil,
			"geo":        p.geoEngine.Load() != nil,
			"rate_limit": p.components.RateLimit != nil,
			"detection":  p.detector.Load() != nil,
			"validation": p.components.Validator != nil,
		},
	}
}

// Reputation exposes the tracker for the admin API. May be nil.
func (p *Pipeline) Reputation() *reputation.Tracker {
	return p.components.Reputation
}

// Close releases component resources.
func (p *Pipeline) Close() {
	if engine := p.geoEngine.Load(); engine != nil {
		_ = engine.Close()
	}
	if p.components.RateLimit != nil {
		_ = p.components.RateLimit.Close()
	}
	p.sink.Close()
}
