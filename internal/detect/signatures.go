package detect

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Category identifies an attack class. Categories are evaluated in
// the order they appear in builtinSignatures, then extension
// categories in registration order.
type Category string

const (
	CategorySQLInjection     Category = "sql_injection"
	CategoryXSS              Category = "xss"
	CategoryCommandInjection Category = "command_injection"
	CategoryPathTraversal    Category = "path_traversal"
	CategoryLDAPInjection    Category = "ldap_injection"
	CategoryNoSQLInjection   Category = "nosql_injection"
)

// Signature is an immutable (id, pattern) pair within a category.
type Signature struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
}

// SignatureSet is a category's ordered pattern list.
type SignatureSet struct {
	Category Category    `yaml:"category"`
	Patterns []Signature `yaml:"patterns"`
}

// signatureFile is the YAML extension file layout.
type signatureFile struct {
	Signatures []SignatureSet `yaml:"signatures"`
}

// LoadSignatureFile reads extension signatures from a YAML file.
// Entries for built-in categories are appended after the built-in
// patterns; new categories register after the built-in order.
func LoadSignatureFile(path string) ([]SignatureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature file: %w", err)
	}
	var f signatureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signature file: %w", err)
	}
	for _, set := range f.Signatures {
		if set.Category == "" {
			return nil, fmt.Errorf("signature set without category")
		}
		for _, sig := range set.Patterns {
			if sig.ID == "" || sig.Pattern == "" {
				return nil, fmt.Errorf("signature in %q missing id or pattern", set.Category)
			}
		}
	}
	return f.Signatures, nil
}

// builtinSignatures holds the default pattern tables, in category
// evaluation order. Patterns are matched case-insensitively against
// the concatenated request surface.
var builtinSignatures = []SignatureSet{
	{
		Category: CategorySQLInjection,
		Patterns: []Signature{
			{ID: "sqli-union-select", Pattern: `(?i)\bunion\b[\s/*]{0,20}(all[\s/*]{1,20})?\bselect\b`},
			{ID: "sqli-tautology", Pattern: `(?i)['"]\s*(or|and)\s+['"]?\d+['"]?\s*=\s*['"]?\d+`},
			{ID: "sqli-statement", Pattern: `(?i)\b(select|insert|update|delete|drop|truncate)\b.{0,40}\b(from|into|table|where)\b`},
			{ID: "sqli-stacked-query", Pattern: `(?i);\s*(drop|delete|truncate|shutdown|exec)\b`},
			{ID: "sqli-exec-proc", Pattern: `(?i)\bexec(\s|\+)+(s|x)p\w+`},
			{ID: "sqli-time-based", Pattern: `(?i)\b(sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`},
		},
	},
	{
		Category: CategoryXSS,
		Patterns: []Signature{
			{ID: "xss-script-tag", Pattern: `(?i)<\s*script[^>]*>`},
			{ID: "xss-js-uri", Pattern: `(?i)javascript\s*:`},
			{ID: "xss-event-handler", Pattern: `(?i)\bon(error|load|click|mouseover|focus|submit)\s*=`},
			{ID: "xss-dangerous-tag", Pattern: `(?i)<\s*(iframe|object|embed)\b|<\s*svg[^>]*onload`},
			{ID: "xss-dom-sink", Pattern: `(?i)document\s*\.\s*(cookie|write|location)`},
			{ID: "xss-eval", Pattern: `(?i)\beval\s*\(`},
		},
	},
	{
		Category: CategoryCommandInjection,
		Patterns: []Signature{
			{ID: "cmdi-chained-binary", Pattern: `(?i)[;&|]\s*(cat|ls|rm|wget|curl|bash|sh|nc|python|perl)\b`},
			{ID: "cmdi-substitution", Pattern: `\$\([^)]*\)|` + "`[^`]+`"},
			{ID: "cmdi-recon", Pattern: `(?i)\|\s*(id|whoami|uname|ifconfig|ipconfig)\b`},
			{ID: "cmdi-redirect-shell", Pattern: `(?i)\b(nc|ncat)\b.{0,20}-e\s|/dev/tcp/`},
		},
	},
	{
		Category: CategoryPathTraversal,
		Patterns: []Signature{
			{ID: "traversal-dotdot", Pattern: `\.\./|\.\.\\`},
			{ID: "traversal-encoded", Pattern: `(?i)%2e%2e(%2f|%5c|/|\\)|%c0%ae`},
			{ID: "traversal-unix-target", Pattern: `(?i)/etc/(passwd|shadow|hosts)\b|/proc/self/`},
			{ID: "traversal-win-target", Pattern: `(?i)\b(boot\.ini|win\.ini)\b|\\windows\\system32\b`},
		},
	},
	{
		Category: CategoryLDAPInjection,
		Patterns: []Signature{
			{ID: "ldapi-filter-break", Pattern: `\)\s*\(\s*[|&!]`},
			{ID: "ldapi-wildcard-close", Pattern: `\*\s*\)\s*\(`},
			{ID: "ldapi-always-true", Pattern: `\(\s*[|&]\s*\(\s*\w+\s*=\s*\*`},
		},
	},
	{
		Category: CategoryNoSQLInjection,
		Patterns: []Signature{
			{ID: "nosqli-operator", Pattern: `(?i)\$\s*(gt|lt|gte|lte|ne|in|nin|regex|where|exists|or|and)\b`},
			{ID: "nosqli-js-clause", Pattern: `(?i)\bdb\s*\.\s*\w+\s*\.\s*(find|insert|update|remove|drop)\s*\(`},
			{ID: "nosqli-mapreduce", Pattern: `(?i)\bmapreduce\b|\$function\b`},
		},
	},
}
