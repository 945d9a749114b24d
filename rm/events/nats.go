package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodepool/common/stats"
)

// NATSForwarder publishes every bus event as JSON on
// <subject>.<event type subject>, e.g. nodepool.events.node.state.changed.
type NATSForwarder struct {
	nc      *nats.Conn
	subject string
	sub     *Subscription
	done    chan struct{}
	stat    stats.StatsReceiver
}

func NewNATSForwarder(url, subject string, bus *Bus, stat stats.StatsReceiver) (*NATSForwarder, error) {
	opts := []nats.Option{
		nats.Name("nodepool-rm"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Infof("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	f := &NATSForwarder{
		nc:      nc,
		subject: subject,
		sub:     bus.Subscribe(),
		done:    make(chan struct{}),
		stat:    stat.Scope("events"),
	}
	go f.loop()
	return f, nil
}

func (f *NATSForwarder) loop() {
	defer close(f.done)
	for e := range f.sub.Events {
		subject, data, err := encode(f.subject, e)
		if err == nil {
			err = f.nc.Publish(subject, data)
		}
		if err != nil {
			f.stat.Counter(stats.EventsForwardFailures).Inc(1)
			log.Infof("failed to forward event %s %s: %v", e.Type, e.ID, err)
		}
	}
}

func encode(prefix string, e Event) (string, []byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", nil, err
	}
	return prefix + "." + e.Type.Subject(), data, nil
}

// Close stops forwarding and flushes what was already published.
func (f *NATSForwarder) Close() {
	f.sub.Close()
	<-f.done
	if err := f.nc.Drain(); err != nil {
		f.nc.Close()
	}
}
