package selection

import (
	"math"
	"sync"
	"time"
)

const neutralProbability = 0.5

type key struct {
	script   string
	bindings string
	// Empty for static scripts.
	node string
}

// Statistic is a point-in-time view of the outcomes recorded under one key.
type Statistic struct {
	Probability float64
	Passes      int64
	Fails       int64
	Errors      int64
	Updated     time.Time
	LastPassed  bool
}

// statistic keeps exponentially decayed pass and total weights. With decay
// off it is a plain running average. Both start from one virtual half pass
// so a single outcome moves the probability without pinning it to 0 or 1.
type statistic struct {
	mu         sync.Mutex
	passed     float64
	total      float64
	passes     int64
	fails      int64
	errors     int64
	updated    time.Time
	lastPassed bool
}

func decay(elapsed, window time.Duration) float64 {
	if window <= 0 || elapsed <= 0 {
		return 1
	}
	return math.Exp(-float64(elapsed) / float64(window))
}

func (s *statistic) record(o Outcome, now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.updated.IsZero() {
		w := decay(now.Sub(s.updated), window)
		s.passed *= w
		s.total *= w
	}
	s.total++
	switch o {
	case Pass:
		s.passed++
		s.passes++
	case Fail:
		s.fails++
	default:
		s.errors++
	}
	s.lastPassed = o == Pass
	s.updated = now
}

func (s *statistic) view(now time.Time, window time.Duration) Statistic {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := neutralProbability
	if !s.updated.IsZero() {
		w := decay(now.Sub(s.updated), window)
		p = (s.passed*w + neutralProbability) / (s.total*w + 1)
	}
	return Statistic{
		Probability: p,
		Passes:      s.passes,
		Fails:       s.fails,
		Errors:      s.errors,
		Updated:     s.updated,
		LastPassed:  s.lastPassed,
	}
}

// expired reports whether the last outcome is older than window. A zero
// window never expires.
func (st Statistic) expired(now time.Time, window time.Duration) bool {
	if st.Updated.IsZero() {
		return true
	}
	return window > 0 && now.Sub(st.Updated) >= window
}
