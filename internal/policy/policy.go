// Package policy holds the per-bucket upload validation rules.
// The table is loaded once at startup from a YAML file and is read-only
// afterwards; every upload is checked against the policy of its target bucket.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrUnknownBucket is returned when no policy exists for the requested bucket.
var ErrUnknownBucket = errors.New("unknown bucket")

// BucketPolicy describes the upload rules for a single bucket.
type BucketPolicy struct {
	MaxSizeBytes      int64    `yaml:"max_size_bytes" validate:"required,gt=0"`
	AllowedExtensions []string `yaml:"allowed_extensions" validate:"required,min=1,dive,startswith=."`
	IsPublic          bool     `yaml:"is_public"`
}

// AllowsExtension reports whether ext (including the leading dot) is permitted.
// Matching is case-insensitive.
func (p BucketPolicy) AllowsExtension(ext string) bool {
	for _, allowed := range p.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// Table maps bucket names to their policies. Immutable after Load.
type Table struct {
	buckets map[string]BucketPolicy
}

// Load reads and validates the policy table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a policy table from raw YAML.
func Parse(data []byte) (*Table, error) {
	var raw map[string]BucketPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("policy file defines no buckets")
	}

	validate := validator.New()
	for name, p := range raw {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid policy for bucket %q: %w", name, err)
		}
	}

	return &Table{buckets: raw}, nil
}

// Lookup returns the policy for a bucket. Absence of a bucket is a
// first-class error, never a default policy.
func (t *Table) Lookup(bucket string) (BucketPolicy, error) {
	p, ok := t.buckets[bucket]
	if !ok {
		return BucketPolicy{}, ErrUnknownBucket
	}
	return p, nil
}

// Buckets returns the names of all configured buckets.
func (t *Table) Buckets() []string {
	names := make([]string, 0, len(t.buckets))
	for name := range t.buckets {
		names = append(names, name)
	}
	return names
}
