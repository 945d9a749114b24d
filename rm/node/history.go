package node

import "time"

// History is one interval a node spent in a given state. End is zero while
// the interval is still open.
type History struct {
	ID             int64
	Host           string
	NodeSourceName string
	NodeURL        string
	Provider       string
	State          State
	Start          time.Time
	End            time.Time
}

func (h History) Open() bool {
	return h.End.IsZero()
}

// OpenHistory starts the interval for n's current state.
func OpenHistory(n Node, now time.Time) History {
	return History{
		Host:           n.HostName,
		NodeSourceName: n.NodeSourceName,
		NodeURL:        n.URL,
		Provider:       n.Provider,
		State:          n.State,
		Start:          now,
	}
}
