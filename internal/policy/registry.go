package policy

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	dErrors "github.com/mercmorandi/security-governance-gatekeeper/pkg/domain-errors"
)

// Registry holds the role to policy mapping. Lookups read an immutable
// snapshot; Reload swaps the whole snapshot atomically so in-flight requests
// never observe partial state.
type Registry struct {
	path     string
	policies atomic.Pointer[map[Role]Policy]
}

// policyFile mirrors the YAML layout:
//
//	roles:
//	  junior_intern:
//	    pii_redaction_enabled: true
//	    rate_limit:
//	      requests_per_hour: 10
//	      window_seconds: 3600
type policyFile struct {
	Roles map[string]rolePolicyYAML `yaml:"roles"`
}

type rolePolicyYAML struct {
	PIIRedactionEnabled bool               `yaml:"pii_redaction_enabled"`
	RateLimit           *rateLimitSpecYAML `yaml:"rate_limit"`
}

type rateLimitSpecYAML struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	WindowSeconds   int `yaml:"window_seconds"`
}

// Load reads the policy file and builds a Registry. A missing or malformed
// file is a startup-fatal configuration error.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	snapshot, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	r.policies.Store(&snapshot)
	return r, nil
}

func loadSnapshot(path string) (map[Role]Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration,
			fmt.Sprintf("role configuration file not found: %s", path))
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid YAML in role configuration")
	}
	if len(file.Roles) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "role configuration defines no roles")
	}

	snapshot := make(map[Role]Policy, len(file.Roles))
	for name, rp := range file.Roles {
		role := Role(name)
		policy := Policy{Role: role, RedactionEnabled: rp.PIIRedactionEnabled}
		if rp.RateLimit != nil {
			if rp.RateLimit.RequestsPerHour <= 0 {
				return nil, dErrors.Newf(dErrors.CodeConfiguration,
					"role %q: requests_per_hour must be positive", name)
			}
			if rp.RateLimit.WindowSeconds <= 0 {
				return nil, dErrors.Newf(dErrors.CodeConfiguration,
					"role %q: window_seconds must be positive", name)
			}
			policy.RateLimit = &RateLimitSpec{
				RequestsPerWindow: rp.RateLimit.RequestsPerHour,
				WindowSeconds:     rp.RateLimit.WindowSeconds,
			}
		}
		snapshot[role] = policy
	}
	return snapshot, nil
}

// Get returns the policy for a role. An unknown role is a defined failure;
// callers upstream decide fallback behavior.
func (r *Registry) Get(role Role) (Policy, error) {
	snapshot := *r.policies.Load()
	p, ok := snapshot[role]
	if !ok {
		return Policy{}, dErrors.Newf(dErrors.CodePolicyNotFound, "policy not found for role: %s", role)
	}
	return p, nil
}

// Has reports whether a policy exists for the role.
func (r *Registry) Has(role Role) bool {
	_, ok := (*r.policies.Load())[role]
	return ok
}

// All returns a copy of the current snapshot.
func (r *Registry) All() map[Role]Policy {
	snapshot := *r.policies.Load()
	out := make(map[Role]Policy, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}

// Reload re-reads the policy file and swaps the snapshot atomically. On error
// the previous snapshot stays in effect.
func (r *Registry) Reload() error {
	snapshot, err := loadSnapshot(r.path)
	if err != nil {
		return err
	}
	r.policies.Store(&snapshot)
	return nil
}

// MostRestrictive returns the tightest known policy: redaction-enabled roles
// beat privileged ones, then the smallest admission rate wins. Ties break on
// role name so the choice is deterministic. Used by the pipeline when a
// caller's role resolves to nothing in the registry.
func (r *Registry) MostRestrictive() Policy {
	snapshot := *r.policies.Load()
	var best *Policy
	for _, p := range snapshot {
		p := p
		if best == nil || restrictiveLess(p, *best) {
			best = &p
		}
	}
	if best == nil {
		// Load guarantees at least one role, but stay safe.
		return Policy{Role: RoleJuniorIntern, RedactionEnabled: true}
	}
	return *best
}

func restrictiveLess(a, b Policy) bool {
	if a.RedactionEnabled != b.RedactionEnabled {
		return a.RedactionEnabled
	}
	ar, br := admissionRate(a), admissionRate(b)
	if ar != br {
		return ar < br
	}
	return a.Role < b.Role
}

// admissionRate is requests per second; unlimited policies sort last.
func admissionRate(p Policy) float64 {
	if p.RateLimit == nil {
		return float64(int(^uint(0) >> 1))
	}
	return float64(p.RateLimit.RequestsPerWindow) / float64(p.RateLimit.WindowSeconds)
}
