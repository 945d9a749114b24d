// Package async provides a bounded goroutine pool for fan-out work such as
// liveness probes and selection script runs.
package async

import (
	"context"
	"sync"
)

// Pool runs functions on at most Size goroutines at a time.
//
//	pool := async.NewPool(8)
//	for _, url := range urls {
//	  url := url
//	  if err := pool.Go(ctx, func() { probe(url) }); err != nil {
//	    break
//	  }
//	}
//	pool.Wait()
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool returns a pool of the given size. Sizes below one are treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

func (p *Pool) Size() int {
	return cap(p.slots)
}

// Go blocks until a slot is free and then runs f on its own goroutine.
// It returns ctx.Err() without running f if ctx ends first.
func (p *Pool) Go(ctx context.Context, f func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		f()
	}()
	return nil
}

// Wait blocks until every function started by Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// ForEach runs f(i) for every i in [0, n) on the pool and waits for all of
// them. Items not yet started when ctx ends are skipped.
func (p *Pool) ForEach(ctx context.Context, n int, f func(i int)) error {
	var err error
	for i := 0; i < n; i++ {
		i := i
		if err = p.Go(ctx, func() { f(i) }); err != nil {
			break
		}
	}
	p.Wait()
	return err
}
