package publisher

import "github.com/maxpert/sqlrunner/notify"

// Event is one completion event as stored in the log and handed to sinks
type Event struct {
	Seq       uint64 `msgpack:"seq" json:"seq"`
	Kind      string `msgpack:"kind" json:"kind"`
	Database  string `msgpack:"db" json:"database"`
	DBHandle  uint64 `msgpack:"dbh" json:"db_handle"`
	Query     uint64 `msgpack:"q,omitempty" json:"query,omitempty"`
	Mark      uint64 `msgpack:"mark,omitempty" json:"mark,omitempty"`
	RequestID uint64 `msgpack:"req" json:"request_id"`
	OK        bool   `msgpack:"ok" json:"ok"`
	Err       string `msgpack:"err,omitempty" json:"error,omitempty"`
	Instance  uint64 `msgpack:"inst" json:"instance_id"`
	Timestamp int64  `msgpack:"ts" json:"ts"` // unix ms when recorded
}

// FromSignal copies a hub signal into an unsequenced event
func FromSignal(sig notify.Signal, instance uint64, ts int64) Event {
	return Event{
		Kind:      sig.Kind,
		Database:  sig.Database,
		DBHandle:  sig.DBHandle,
		Query:     sig.Query,
		Mark:      sig.Mark,
		RequestID: sig.RequestID,
		OK:        sig.OK,
		Err:       sig.Err,
		Instance:  instance,
		Timestamp: ts,
	}
}

// Sink is a destination for encoded events (NATS, Kafka, ...)
type Sink interface {
	Publish(topic string, key string, value []byte) error
	Close() error
}

// Encoder turns an event into a sink payload
type Encoder interface {
	Encode(event Event) ([]byte, error)
	ContentType() string
}

// Filter decides whether an event goes to a sink
type Filter interface {
	Match(kind, database string) bool
}
