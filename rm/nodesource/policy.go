package nodesource

import (
	"context"
	"strconv"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

const (
	StaticPolicyType = "static"
	LimitPolicyType  = "limit"
)

// staticPolicy acquires everything the infrastructure can offer and keeps
// every offered node. Takes no parameters.
type staticPolicy struct{}

func NewStaticPolicy(params []string) (Policy, error) {
	if len(params) != 0 {
		return nil, rmerrors.NewValidationError("policy_params", "static policy takes no parameters")
	}
	return staticPolicy{}, nil
}

func (staticPolicy) Activate(ctx context.Context, infra Infrastructure) error {
	n := infra.Capacity()
	if n == 0 {
		return nil
	}
	return infra.AcquireNodes(ctx, n)
}

func (staticPolicy) Accept(int) bool { return true }

// limitPolicy keeps at most max nodes. Parameters: [max].
type limitPolicy struct {
	max int
}

func NewLimitPolicy(params []string) (Policy, error) {
	if len(params) != 1 {
		return nil, rmerrors.NewValidationError("policy_params", "limit policy takes exactly one parameter")
	}
	max, err := strconv.Atoi(params[0])
	if err != nil || max < 0 {
		return nil, rmerrors.NewValidationError("policy_params", "limit %q is not a non-negative integer", params[0])
	}
	return &limitPolicy{max: max}, nil
}

func (p *limitPolicy) Activate(ctx context.Context, infra Infrastructure) error {
	n := p.max
	if c := infra.Capacity(); c > 0 && c < n {
		n = c
	}
	if n == 0 {
		return nil
	}
	return infra.AcquireNodes(ctx, n)
}

func (p *limitPolicy) Accept(owned int) bool { return owned < p.max }
