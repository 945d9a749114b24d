package liveness

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/nodepool/async"
	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
)

// ProbeConfig bounds a round of probes.
type ProbeConfig struct {
	Timeout     time.Duration
	Concurrency int
	// ProbesPerSecond limits the start rate of probes; 0 means unlimited.
	ProbesPerSecond float64
}

func limiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// ProbeAll pings every url with bounded concurrency and returns the failures.
// A url that could not be probed because ctx ended counts as failed.
func ProbeAll(ctx context.Context, p Prober, urls []string, cfg ProbeConfig) map[string]error {
	pool := async.NewPool(cfg.Concurrency)
	lim := limiter(cfg.ProbesPerSecond)

	var mu sync.Mutex
	failed := map[string]error{}
	fail := func(url string, err error) {
		mu.Lock()
		failed[url] = err
		mu.Unlock()
	}

	for i, url := range urls {
		if err := lim.Wait(ctx); err != nil {
			for _, rest := range urls[i:] {
				fail(rest, rmerrors.NewLivenessTimeout(rest, err))
			}
			break
		}
		url := url
		err := pool.Go(ctx, func() {
			pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			if err := p.Ping(pctx, url); err != nil {
				fail(url, err)
			}
		})
		if err != nil {
			for _, rest := range urls[i:] {
				fail(rest, rmerrors.NewLivenessTimeout(rest, err))
			}
			break
		}
	}
	pool.Wait()
	return failed
}

// Pinger probes a changing set of nodes on a fixed interval. Failures are
// handed to onFailure from the pinger goroutine, never from a request path.
// Nodes already known dead can be watched too; the ones that answer again are
// handed to onRecovered.
type Pinger struct {
	prober      Prober
	cfg         ProbeConfig
	interval    time.Duration
	targets     func() []string
	onFailure   func(url string, err error)
	dead        func() []string
	onRecovered func(url string)
	stat        stats.StatsReceiver

	closer chan struct{}
	done   chan struct{}
}

func NewPinger(
	prober Prober,
	cfg ProbeConfig,
	interval time.Duration,
	targets func() []string,
	onFailure func(url string, err error),
	stat stats.StatsReceiver,
) *Pinger {
	return &Pinger{
		prober:    prober,
		cfg:       cfg,
		interval:  interval,
		targets:   targets,
		onFailure: onFailure,
		stat:      stat.Scope("liveness"),
		closer:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WatchDead adds the nodes listed by dead to every round. It must be called
// before Start.
func (p *Pinger) WatchDead(dead func() []string, onRecovered func(url string)) {
	p.dead = dead
	p.onRecovered = onRecovered
}

// Start launches the probing loop.
func (p *Pinger) Start() {
	go p.loop()
}

func (p *Pinger) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.closer
		cancel()
	}()
	for {
		select {
		case <-ticker.C:
			p.Round(ctx)
		case <-p.closer:
			return
		}
	}
}

// Round probes every current target once and reports failures, then
// reports the watched dead nodes that answered.
func (p *Pinger) Round(ctx context.Context) {
	defer p.stat.Latency(stats.LivenessRoundLatency_ms).Time().Stop()
	alive := p.targets()
	var dead []string
	if p.dead != nil {
		dead = p.dead()
	}
	urls := make([]string, 0, len(alive)+len(dead))
	urls = append(append(urls, alive...), dead...)
	p.stat.Counter(stats.LivenessProbesCounter).Inc(int64(len(urls)))
	failed := ProbeAll(ctx, p.prober, urls, p.cfg)
	if ctx.Err() != nil {
		// shutting down; failures caused by cancellation are not node failures
		return
	}
	for _, url := range alive {
		err, ok := failed[url]
		if !ok {
			continue
		}
		p.stat.Counter(stats.LivenessProbeFailuresCounter).Inc(1)
		log.WithFields(log.Fields{"node": url}).Infof("liveness probe failed: %v", err)
		p.onFailure(url, err)
	}
	for _, url := range dead {
		if _, ok := failed[url]; ok {
			continue
		}
		p.stat.Counter(stats.LivenessRecoveredCounter).Inc(1)
		log.WithFields(log.Fields{"node": url}).Info("node answers again")
		p.onRecovered(url)
	}
}

// Stop ends the loop and waits for the current round.
func (p *Pinger) Stop() {
	close(p.closer)
	<-p.done
}
