package events

import (
	"sync"

	"github.com/twitter/nodepool/common/stats"
)

// Bus delivers every published event to every open subscription, in
// publishing order.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
	stat   stats.StatsReceiver
}

func NewBus(stat stats.StatsReceiver) *Bus {
	return &Bus{stat: stat.Scope("events")}
}

// Subscription receives events until it is closed. Events is closed after
// the subscription or the bus is closed.
type Subscription struct {
	Events <-chan Event
	s      *subscriber
	bus    *Bus
}

func (s *Subscription) Close() error {
	s.bus.unsubscribe(s.s)
	return nil
}

// subscriber receives events from the bus and maintains a queue
// so that the bus doesn't have to worry about send blocking
type subscriber struct {
	inCh  chan Event
	outCh chan Event
	done  chan struct{}
	once  sync.Once
	queue []Event
}

func (b *Bus) Subscribe() *Subscription {
	s := &subscriber{
		inCh:  make(chan Event),
		outCh: make(chan Event),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		close(s.inCh)
	} else {
		b.subs = append(b.subs, s)
	}
	b.mu.Unlock()
	go s.loop()
	return &Subscription{Events: s.outCh, s: s, bus: b}
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.inCh <- e
	}
	b.stat.Counter(stats.EventsPublishedCounter).Inc(1)
}

// Close ends every subscription once its queued events are consumed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.inCh)
	}
	b.subs = nil
}

func (b *Bus) unsubscribe(s *subscriber) {
	b.mu.Lock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.inCh)
			break
		}
	}
	b.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) loop() {
	for s.inCh != nil || len(s.queue) > 0 {
		var outCh chan Event
		var outgoing Event
		if len(s.queue) > 0 {
			outCh = s.outCh
			outgoing = s.queue[0]
		}
		select {
		case e, ok := <-s.inCh:
			if !ok {
				s.inCh = nil
				continue
			}
			s.queue = append(s.queue, e)
		case outCh <- outgoing:
			s.queue = s.queue[1:]
		case <-s.done:
			// closed by the consumer: nobody reads the queue any more
			s.queue = nil
			s.inCh = nil
		}
	}
	close(s.outCh)
}
