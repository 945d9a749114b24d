// Package events fans manager events out to any number of subscribers.
// Publishing never blocks on a slow subscriber: each subscription queues.
package events

import (
	"encoding/json"
	"strings"
	"time"

	uuid "github.com/nu7hatch/gouuid"
)

type Type int

const (
	NodeAdded Type = iota
	NodeStateChanged
	NodeRemoved
	NodeSourceCreated
	NodeSourceStatusChanged
	NodeSourceRemoved
)

var typeNames = []string{
	"NODE_ADDED",
	"NODE_STATE_CHANGED",
	"NODE_REMOVED",
	"NODE_SOURCE_CREATED",
	"NODE_SOURCE_STATUS_CHANGED",
	"NODE_SOURCE_REMOVED",
}

func (t Type) String() string {
	if t < NodeAdded || t > NodeSourceRemoved {
		return "UNKNOWN"
	}
	return typeNames[t]
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Subject is the dotted lower case name used when forwarding.
func (t Type) Subject() string {
	return strings.ToLower(strings.Replace(t.String(), "_", ".", -1))
}

// Event carries a node or node source change. Node events fill NodeURL and
// the node states; node source events fill the statuses.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Time       time.Time `json:"time"`
	NodeSource string    `json:"nodeSource"`
	NodeURL    string    `json:"nodeUrl,omitempty"`
	Previous   string    `json:"previous,omitempty"`
	Current    string    `json:"current,omitempty"`
	Locked     bool      `json:"locked,omitempty"`
	Pending    bool      `json:"pending,omitempty"`
}

// New stamps an event with a fresh id.
func New(t Type, now time.Time) Event {
	id := ""
	if u, err := uuid.NewV4(); err == nil {
		id = u.String()
	}
	return Event{ID: id, Type: t, Time: now}
}
