package selection

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodepool/async"
	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/config/rmconfig"
)

// Manager records script outcomes and uses them to order candidates.
// Each statistic has its own lock; the bounded cache is the only shared
// structure and evicted keys fall back to the neutral probability.
type Manager struct {
	cfg   rmconfig.SelectionConfig
	eval  Evaluator
	cache *lru.Cache
	stat  stats.StatsReceiver
	clock stats.StatsTime
}

func NewManager(
	cfg rmconfig.SelectionConfig,
	eval Evaluator,
	stat stats.StatsReceiver,
	clock stats.StatsTime,
) (*Manager, error) {
	stat = stat.Scope("selection")
	evictions := stat.Counter(stats.SelectionCacheEvictionsCounter)
	cache, err := lru.NewWithEvict(cfg.CacheSize, func(interface{}, interface{}) {
		evictions.Inc(1)
	})
	if err != nil {
		return nil, rmerrors.NewValidationError("cache_size", "%v", err)
	}
	if clock == nil {
		clock = stats.DefaultStatsTime()
	}
	return &Manager{cfg: cfg, eval: eval, cache: cache, stat: stat, clock: clock}, nil
}

func (m *Manager) window(s Script) time.Duration {
	if !s.Dynamic {
		return 0
	}
	return m.cfg.DynamicityWindow
}

func (m *Manager) keyFor(s Script, b Bindings, nodeURL string) key {
	k := key{script: s.Digest(), bindings: b.Signature()}
	if s.Dynamic {
		k.node = nodeURL
	}
	return k
}

func (m *Manager) lookup(k key) (*statistic, bool) {
	v, ok := m.cache.Get(k)
	if !ok {
		return nil, false
	}
	return v.(*statistic), true
}

func (m *Manager) lookupOrAdd(k key) *statistic {
	if st, ok := m.lookup(k); ok {
		return st
	}
	st := &statistic{}
	if prev, ok, _ := m.cache.PeekOrAdd(k, st); ok {
		return prev.(*statistic)
	}
	return st
}

// ProcessScriptResult records one outcome of script on nodeURL and reports
// whether it was a pass.
func (m *Manager) ProcessScriptResult(s Script, b Bindings, o Outcome, nodeURL string) bool {
	k := m.keyFor(s, b, nodeURL)
	m.record(k, m.lookupOrAdd(k), o, m.clock.Now(), m.window(s))
	return o == Pass
}

// record adds o to st. If k was evicted after st was looked up, st goes back
// into the cache, or o is also added to the statistic that replaced it.
func (m *Manager) record(k key, st *statistic, o Outcome, now time.Time, window time.Duration) {
	st.record(o, now, window)
	if prev, ok, _ := m.cache.PeekOrAdd(k, st); ok && prev.(*statistic) != st {
		prev.(*statistic).record(o, now, window)
	}
}

// Statistic returns the recorded view for a key, if any.
func (m *Manager) Statistic(s Script, b Bindings, nodeURL string) (Statistic, bool) {
	st, ok := m.lookup(m.keyFor(s, b, nodeURL))
	if !ok {
		return Statistic{Probability: neutralProbability}, false
	}
	return st.view(m.clock.Now(), m.window(s)), true
}

// IsPassed reports whether a recorded pass still holds for nodeURL. A static
// pass holds for every node.
func (m *Manager) IsPassed(s Script, b Bindings, nodeURL string) bool {
	v, ok := m.Statistic(s, b, nodeURL)
	if !ok || !v.LastPassed {
		return false
	}
	return !s.Dynamic || !v.expired(m.clock.Now(), m.window(s))
}

func (m *Manager) excluded(s Script, v Statistic, known bool) bool {
	w := m.window(s)
	if !known || w == 0 || v.LastPassed {
		return false
	}
	return !v.expired(m.clock.Now(), w)
}

// ArrangeNodesForScriptExecution orders candidates by the product of their
// probabilities over scripts, highest first, keeping the input order among
// equals. Nodes with a recent failure of a dynamic script are dropped unless
// the dynamicity window is zero, where they only sink.
func (m *Manager) ArrangeNodesForScriptExecution(candidates []string, scripts []Script, b Bindings) []string {
	type ranked struct {
		url   string
		score float64
	}
	out := make([]ranked, 0, len(candidates))
	excluded := 0
next:
	for _, url := range candidates {
		score := 1.0
		for _, s := range scripts {
			v, known := m.Statistic(s, b, url)
			if m.excluded(s, v, known) {
				excluded++
				continue next
			}
			score *= v.Probability
		}
		out = append(out, ranked{url, score})
	}
	m.stat.Counter(stats.SelectionExcludedCounter).Inc(int64(excluded))
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })

	urls := make([]string, len(out))
	for i, r := range out {
		urls[i] = r.url
	}
	return urls
}

// Criteria describes a request for nodes.
type Criteria struct {
	Count    int
	Scripts  []Script
	Bindings Bindings
	// Never selected.
	Blacklist []string
	// When not empty, only these are selected.
	Acceptable []string
	// Return fewer than Count nodes rather than none.
	BestEffort bool
}

func (c Criteria) Validate() error {
	if c.Count < 1 {
		return rmerrors.NewValidationError("count", "at least one node must be requested, got %d", c.Count)
	}
	return nil
}

func (c Criteria) filter(candidates []string) []string {
	black := map[string]bool{}
	for _, u := range c.Blacklist {
		black[u] = true
	}
	var ok map[string]bool
	if len(c.Acceptable) > 0 {
		ok = map[string]bool{}
		for _, u := range c.Acceptable {
			ok[u] = true
		}
	}
	var out []string
	for _, u := range candidates {
		if black[u] || (ok != nil && !ok[u]) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Select picks up to c.Count nodes among candidates that pass every script.
// Scripts run in batches of max(missing, MaxThreads) nodes, most promising
// first, until enough nodes match or candidates run out. Without BestEffort a
// short result is returned as empty.
func (m *Manager) Select(ctx context.Context, candidates []string, c Criteria) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(c.Scripts) > 0 && m.eval == nil {
		return nil, rmerrors.NewValidationError("scripts", "no script evaluator is configured")
	}
	nodes := c.filter(candidates)
	var matched []string
	if len(c.Scripts) == 0 {
		matched = nodes
	} else {
		arranged := m.ArrangeNodesForScriptExecution(nodes, c.Scripts, c.Bindings)
		pool := async.NewPool(m.cfg.MaxThreads)
		for len(matched) < c.Count && len(arranged) > 0 {
			n := c.Count - len(matched)
			if n < m.cfg.MaxThreads {
				n = m.cfg.MaxThreads
			}
			if n > len(arranged) {
				n = len(arranged)
			}
			batch := arranged[:n]
			arranged = arranged[n:]

			passed := make([]bool, len(batch))
			if err := pool.ForEach(ctx, len(batch), func(i int) {
				passed[i] = m.runScripts(ctx, batch[i], c.Scripts, c.Bindings)
			}); err != nil {
				return nil, err
			}
			for i, url := range batch {
				if passed[i] {
					matched = append(matched, url)
				}
			}
		}
	}

	if len(matched) > c.Count {
		matched = matched[:c.Count]
	}
	if len(matched) < c.Count && !c.BestEffort {
		log.Infof("only %d of %d requested nodes match, returning none", len(matched), c.Count)
		return nil, nil
	}
	return matched, nil
}

// runScripts reports whether every script passes on nodeURL, skipping those
// with a pass still on record.
func (m *Manager) runScripts(ctx context.Context, nodeURL string, scripts []Script, b Bindings) bool {
	for _, s := range scripts {
		if m.IsPassed(s, b, nodeURL) {
			m.stat.Counter(stats.SelectionScriptSkippedCounter).Inc(1)
			continue
		}
		if !m.ProcessScriptResult(s, b, m.run(ctx, s, b, nodeURL), nodeURL) {
			return false
		}
	}
	return true
}

func (m *Manager) run(ctx context.Context, s Script, b Bindings, nodeURL string) Outcome {
	m.stat.Counter(stats.SelectionScriptRunsCounter).Inc(1)
	if m.cfg.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ScriptTimeout)
		defer cancel()
	}

	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ok, err := m.eval.Run(ctx, s, b, nodeURL)
		ch <- result{ok, err}
	}()
	var r result
	select {
	case r = <-ch:
		if r.err == nil && ctx.Err() != nil {
			r.err = ctx.Err()
		}
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	switch {
	case r.err != nil:
		m.stat.Counter(stats.SelectionScriptErrorsCounter).Inc(1)
		log.WithFields(log.Fields{"node": nodeURL}).
			Infof("%v", rmerrors.NewScriptExecutionError(s.Digest()[:12], nodeURL, r.err))
		return Error
	case r.ok:
		return Pass
	}
	return Fail
}
