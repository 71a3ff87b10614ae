package runner

import "github.com/maxpert/sqlrunner/notify"

// EventKind tags a completion event
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventClosed
	EventQueryFinished
	EventMarkReached
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventQueryFinished:
		return "query_finished"
	case EventMarkReached:
		return "mark_reached"
	default:
		return "unknown"
	}
}

// Event is the outcome of one executed request
type Event struct {
	Kind      EventKind
	RequestID uint64
	DB        Handle
	Query     Handle
	Mark      uint64
	Database  string
	OK        bool
	Err       error

	seq      uint64
	database *Database
}

func (e Event) signal() notify.Signal {
	sig := notify.Signal{
		Kind:      e.Kind.String(),
		Database:  e.Database,
		DBHandle:  uint64(e.DB),
		Query:     uint64(e.Query),
		Mark:      e.Mark,
		RequestID: e.RequestID,
		OK:        e.OK,
	}
	if e.Err != nil {
		sig.Err = e.Err.Error()
	}
	return sig
}
