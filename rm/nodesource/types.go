package nodesource

import (
	"sort"
	"sync"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

// InfrastructureFactory builds an infrastructure for the named source from
// its stored parameters.
type InfrastructureFactory func(source string, params []string, reporter Reporter) (Infrastructure, error)

// PolicyFactory builds a policy from its stored parameters.
type PolicyFactory func(params []string) (Policy, error)

// Types maps type names to constructors. Each manager owns its own Types,
// so tests and embedders choose exactly which types exist.
type Types struct {
	mu       sync.RWMutex
	infras   map[string]InfrastructureFactory
	policies map[string]PolicyFactory
}

// NewTypes returns a Types with the built-in policies registered.
func NewTypes() *Types {
	t := &Types{infras: map[string]InfrastructureFactory{}, policies: map[string]PolicyFactory{}}
	t.RegisterPolicy(StaticPolicyType, NewStaticPolicy)
	t.RegisterPolicy(LimitPolicyType, NewLimitPolicy)
	return t
}

func (t *Types) RegisterInfrastructure(name string, f InfrastructureFactory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.infras[name] = f
}

func (t *Types) RegisterPolicy(name string, f PolicyFactory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies[name] = f
}

func (t *Types) InfrastructureTypes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name := range t.infras {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (t *Types) PolicyTypes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name := range t.policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check validates that both types of def are known, without building anything.
func (t *Types) Check(def Definition) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.infras[def.InfrastructureType]; !ok {
		return rmerrors.NewValidationError("infrastructure_type", "unknown infrastructure type %q", def.InfrastructureType)
	}
	if _, ok := t.policies[def.PolicyType]; !ok {
		return rmerrors.NewValidationError("policy_type", "unknown policy type %q", def.PolicyType)
	}
	return nil
}

func (t *Types) newInfrastructure(def Definition, r Reporter) (Infrastructure, error) {
	t.mu.RLock()
	f, ok := t.infras[def.InfrastructureType]
	t.mu.RUnlock()
	if !ok {
		return nil, rmerrors.NewValidationError("infrastructure_type", "unknown infrastructure type %q", def.InfrastructureType)
	}
	infra, err := f(def.Name, def.InfrastructureParams, r)
	if err != nil {
		return nil, rmerrors.NewInfrastructureError(def.Name, err)
	}
	return infra, nil
}

func (t *Types) newPolicy(def Definition) (Policy, error) {
	t.mu.RLock()
	f, ok := t.policies[def.PolicyType]
	t.mu.RUnlock()
	if !ok {
		return nil, rmerrors.NewValidationError("policy_type", "unknown policy type %q", def.PolicyType)
	}
	return f(def.PolicyParams)
}
