// Package detect matches request surface text against category-tagged
// attack signatures. Matching uses Go's RE2 engine, which runs in
// time linear in the input, so a hostile pattern or payload cannot
// stall the pipeline through backtracking.
package detect

import (
	"fmt"
	"regexp"
	"sync/atomic"
)

const (
	// sampleLen caps the surface excerpt carried on detection results.
	sampleLen = 200

	defaultMaxInspectBytes = 64 << 10
)

// Config configures a Detector.
type Config struct {
	// MaxInspectBytes truncates the surface before matching. 0 means
	// the default 64 KiB.
	MaxInspectBytes int
	// Extra signature sets, appended after the built-ins. Sets for
	// built-in categories extend that category's pattern list; new
	// categories are evaluated after the built-in order, in the order
	// given here.
	Extra []SignatureSet
}

// Result describes the outcome of one Detect call.
type Result struct {
	Detected  bool
	Category  Category
	PatternID string
	Sample    string // first 200 chars of the inspected surface
}

type compiledSignature struct {
	id string
	re *regexp.Regexp
}

// Detector is a stateless signature matcher. Signatures are compiled
// once at construction and read-only thereafter.
type Detector struct {
	order           []Category
	sets            map[Category][]compiledSignature
	maxInspectBytes int

	checks atomic.Int64
	hits   atomic.Int64
}

// New compiles a Detector from the built-in tables plus any extras.
func New(cfg Config) (*Detector, error) {
	maxInspect := cfg.MaxInspectBytes
	if maxInspect <= 0 {
		maxInspect = defaultMaxInspectBytes
	}

	d := &Detector{
		sets:            make(map[Category][]compiledSignature),
		maxInspectBytes: maxInspect,
	}

	for _, set := range builtinSignatures {
		if err := d.register(set); err != nil {
			return nil, err
		}
	}
	for _, set := range cfg.Extra {
		if err := d.register(set); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *Detector) register(set SignatureSet) error {
	if _, known := d.sets[set.Category]; !known {
		d.order = append(d.order, set.Category)
	}
	for _, sig := range set.Patterns {
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			return fmt.Errorf("signature %s/%s: %w", set.Category, sig.ID, err)
		}
		d.sets[set.Category] = append(d.sets[set.Category], compiledSignature{id: sig.ID, re: re})
	}
	return nil
}

// Detect scans the surface and returns on the first matching
// signature, iterating categories in the fixed evaluation order.
// Pure: no side effects beyond counters.
func (d *Detector) Detect(surface string) Result {
	d.checks.Add(1)

	inspected := surface
	if len(inspected) > d.maxInspectBytes {
		inspected = inspected[:d.maxInspectBytes]
	}

	for _, cat := range d.order {
		for _, sig := range d.sets[cat] {
			if sig.re.MatchString(inspected) {
				d.hits.Add(1)
				return Result{
					Detected:  true,
					Category:  cat,
					PatternID: sig.id,
					Sample:    truncate(surface, sampleLen),
				}
			}
		}
	}

	return Result{Sample: truncate(surface, sampleLen)}
}

// Categories returns the evaluation order.
func (d *Detector) Categories() []Category {
	out := make([]Category, len(d.order))
	copy(out, d.order)
	return out
}

// SignatureCount returns the total number of compiled signatures.
func (d *Detector) SignatureCount() int {
	n := 0
	for _, set := range d.sets {
		n += len(set)
	}
	return n
}

// Stats returns a counters snapshot.
func (d *Detector) Stats() map[string]int64 {
	return map[string]int64{
		"checks": d.checks.Load(),
		"hits":   d.hits.Load(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
