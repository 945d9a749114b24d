package stats

import (
	"sync"
	"time"
)

// Defines the calls we make to the stdlib time package. Allows for overriding in tests.
type StatsTime interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type defaultStatsTime struct{}

func (defaultStatsTime) Now() time.Time                  { return time.Now() }
func (defaultStatsTime) Since(t time.Time) time.Duration { return time.Since(t) }

// Returns a StatsTime instance backed by the stdlib 'time' package
func DefaultStatsTime() StatsTime { return defaultStatsTime{} }

// TestTime is a StatsTime whose clock only moves when told to.
type TestTime struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestTime(now time.Time) *TestTime { return &TestTime{now: now} }

func (t *TestTime) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

func (t *TestTime) Since(s time.Time) time.Duration { return t.Now().Sub(s) }

func (t *TestTime) Advance(d time.Duration) {
	t.mu.Lock()
	t.now = t.now.Add(d)
	t.mu.Unlock()
}
