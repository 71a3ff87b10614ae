// Package publisher exports runner completion events to external systems.
//
// Events reach the publisher through the notify hub, are appended to a
// Pebble-backed log with monotonically increasing sequence numbers, and are
// delivered by one worker per sink (NATS JetStream, Kafka). Each worker keeps
// its own cursor in the log, so sinks consume at their own pace and resume
// after a restart.
//
// Delivery is at-least-once: an event is published first and its cursor is
// advanced afterwards. Entries below the slowest cursor are deleted
// periodically.
//
// Storage layout:
//
//	/evlog/{seq:016x}     -> msgpack(Event)
//	/evcursor/{sinkName}  -> uint64 (last delivered sequence)
//	/evseq                -> uint64 (last assigned sequence)
//
// Topics are built as "{topic_prefix}.{kind}" and messages are keyed by
// database name so one database's events stay on one Kafka partition.
//
// The recorder holds an unbounded hub subscription, so bursts that outpace
// log commits are queued in memory rather than dropped.
package publisher
