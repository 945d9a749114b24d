// Package selection ranks candidate nodes for selection scripts using the
// recorded outcome of earlier runs, so that scripts run first on the nodes
// most likely to pass and not at all where a recent run already answered.
package selection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Script is a selection script. A static script checks properties that do
// not change during a node's life, so one verdict holds for all nodes and
// never expires. A dynamic script is judged per node and its verdict ages.
type Script struct {
	Content string
	Dynamic bool
}

func (s Script) Digest() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s.Content)))
	return hex.EncodeToString(sum[:])
}

// Bindings are the variables a script is run with. They are part of the
// statistic key.
type Bindings map[string]string

// Signature is stable across map orderings.
func (b Bindings) Signature() string {
	if len(b) == 0 {
		return ""
	}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(b[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type Outcome int

const (
	Pass Outcome = iota
	Fail
	// The script raised instead of returning a verdict.
	Error
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Error:
		return "error"
	}
	return "unknown"
}

// Evaluator runs a script against a node. A returned error is a script
// failure, not a request failure.
type Evaluator interface {
	Run(ctx context.Context, script Script, bindings Bindings, nodeURL string) (bool, error)
}

type EvaluatorFunc func(ctx context.Context, script Script, bindings Bindings, nodeURL string) (bool, error)

func (f EvaluatorFunc) Run(ctx context.Context, script Script, bindings Bindings, nodeURL string) (bool, error) {
	return f(ctx, script, bindings, nodeURL)
}
