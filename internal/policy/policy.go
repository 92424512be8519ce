// Package policy holds the per-role governance policies and the registry that
// loads them from YAML configuration.
package policy

import (
	"strings"
	"time"
)

// Role identifies a caller role. Roles are configuration, not a closed enum:
// any role named in the policy file is valid.
type Role string

const (
	// RoleAdmin sees raw responses and is typically unlimited.
	RoleAdmin Role = "admin"
	// RoleJuniorIntern is the conservative default for unrecognized callers.
	RoleJuniorIntern Role = "junior_intern"
)

func (r Role) String() string { return string(r) }

// RateLimitSpec bounds admitted requests per sliding window.
type RateLimitSpec struct {
	RequestsPerWindow int
	WindowSeconds     int
}

// Window returns the sliding window duration.
func (s RateLimitSpec) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

// Policy is the governance configuration for one role.
// A nil RateLimit means the role is unlimited.
type Policy struct {
	Role             Role
	RedactionEnabled bool
	RateLimit        *RateLimitSpec
}

// HasRateLimit reports whether this role is quota-bound.
func (p Policy) HasRateLimit() bool { return p.RateLimit != nil }

// IsPrivileged reports whether this role may see raw sensitive data.
func (p Policy) IsPrivileged() bool { return !p.RedactionEnabled }

// Normalizer maps raw caller-supplied role strings to known roles. It is a
// total function: anything unrecognized lands on the fallback role. The alias
// table is configuration so fallback behavior can change without code edits.
type Normalizer struct {
	aliases  map[string]Role
	fallback Role
}

// NewNormalizer builds a Normalizer from an alias table and fallback role.
func NewNormalizer(aliases map[string]string, fallback Role) *Normalizer {
	table := make(map[string]Role, len(aliases))
	for raw, known := range aliases {
		table[strings.ToLower(raw)] = Role(known)
	}
	return &Normalizer{aliases: table, fallback: fallback}
}

// Normalize resolves a raw role string. Known roles pass through by name,
// aliases resolve to their target, and everything else becomes the fallback.
func (n *Normalizer) Normalize(raw string, known func(Role) bool) Role {
	lowered := Role(strings.ToLower(strings.TrimSpace(raw)))
	if known(lowered) {
		return lowered
	}
	if target, ok := n.aliases[string(lowered)]; ok && known(target) {
		return target
	}
	return n.fallback
}
