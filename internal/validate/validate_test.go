package validate

import (
	"net/http"
	"testing"
)

func TestCheckSize(t *testing.T) {
	v := New(Config{})

	tests := []struct {
		name   string
		length int64
		want   bool
	}{
		{"zero", 0, true},
		{"unknown", -1, true},
		{"small", 1024, true},
		{"at limit", DefaultMaxRequestSize, true},
		{"just over", DefaultMaxRequestSize + 1, false},
		{"11 MiB", 11 << 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.CheckSize(tt.length); got != tt.want {
				t.Errorf("CheckSize(%d) = %v, want %v", tt.length, got, tt.want)
			}
		})
	}
}

func TestCheckSizeCustomLimit(t *testing.T) {
	v := New(Config{MaxRequestSize: 1024})
	if v.CheckSize(2048) {
		t.Error("2048 should exceed 1024 limit")
	}
	if !v.CheckSize(512) {
		t.Error("512 should pass 1024 limit")
	}
}

func TestCheckHeaders(t *testing.T) {
	v := New(Config{})

	t.Run("normal request", func(t *testing.T) {
		h := http.Header{}
		h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
		h.Set("Host", "example.com")
		if findings := v.CheckHeaders(h); len(findings) != 0 {
			t.Errorf("unexpected findings: %+v", findings)
		}
	})

	t.Run("missing user agent", func(t *testing.T) {
		h := http.Header{}
		findings := v.CheckHeaders(h)
		if len(findings) == 0 {
			t.Fatal("expected finding for missing User-Agent")
		}
		if findings[0].Check != "user_agent" {
			t.Errorf("check = %q", findings[0].Check)
		}
	})

	t.Run("short user agent", func(t *testing.T) {
		h := http.Header{}
		h.Set("User-Agent", "curl")
		if findings := v.CheckHeaders(h); len(findings) != 1 {
			t.Errorf("findings = %+v", findings)
		}
	})

	t.Run("header stuffing", func(t *testing.T) {
		h := http.Header{}
		h.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
		h.Set("X-Forwarded-For", "1.2.3.4")
		h.Set("X-Forwarded-Host", "a")
		h.Set("X-Forwarded-Proto", "https")
		h.Set("X-Forwarded-Port", "443")
		found := false
		for _, f := range v.CheckHeaders(h) {
			if f.Check == "forwarded_headers" {
				found = true
			}
		}
		if !found {
			t.Error("expected forwarded_headers finding")
		}
	})
}
