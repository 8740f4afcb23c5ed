package geo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Provider performs IP-to-country lookups. Implementations may do
// I/O; callers bound them with the context deadline.
type Provider interface {
	// Lookup resolves an IP to an ISO 3166-1 alpha-2 country code.
	// An empty code with nil error means the database has no entry.
	Lookup(ctx context.Context, ip string) (string, error)
	Close() error
}

// NewProvider opens a geo database, detecting the format from the
// file extension.
func NewProvider(path string) (Provider, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mmdb":
		return newMMDBProvider(path)
	default:
		return nil, fmt.Errorf("unsupported geo database format: %s (expected .mmdb)", ext)
	}
}
