package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

const (
	prefixEventLog    = "/evlog/"
	prefixEventCursor = "/evcursor/"
	keyEventSeq       = "/evseq"
)

// Completion events are small and bursty; a modest memtable keeps the
// footprint low next to the SQLite page cache.
const (
	memTableSize                = 8 << 20
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	maxConcurrentCompactions    = 1
)

const (
	defaultReadLimit = 100
	trimEvery        = 0x7F // trim when a cursor lands on a multiple of 128
)

// ErrLogClosed is returned by every operation after Close
var ErrLogClosed = errors.New("event log is closed")

// EventLog is an append-only, Pebble-backed log of completion events with
// one persisted cursor per sink
type EventLog struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	cursorsMu sync.RWMutex
	cursors   map[string]uint64

	trimMu      sync.Mutex
	trimRunning atomic.Bool
	trimWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenEventLog opens or creates the log stored in dir
func OpenEventLog(dir string) (*EventLog, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log at %s: %w", dir, err)
	}

	el := &EventLog{
		db:      db,
		path:    dir,
		cursors: make(map[string]uint64),
	}

	seq, err := el.readUint64([]byte(keyEventSeq))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence: %w", err)
	}
	el.lastSeq.Store(seq)

	if err := el.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return el, nil
}

// readUint64 returns 0 for a missing key
func (el *EventLog) readUint64(key []byte) (uint64, error) {
	val, closer, err := el.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid value length %d for %s", len(val), key)
	}
	return binary.LittleEndian.Uint64(val), nil
}

func (el *EventLog) loadCursors() error {
	prefix := []byte(prefixEventCursor)
	iter, err := el.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefix):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: length %d", name, len(val))
		}
		el.cursors[name] = binary.LittleEndian.Uint64(val)
	}

	if len(el.cursors) > 0 {
		log.Debug().Int("cursors", len(el.cursors)).Str("path", el.path).Msg("Loaded event log cursors")
	}
	return iter.Error()
}

// Append assigns sequence numbers to events (in place) and commits them in
// one synced batch
func (el *EventLog) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if el.closed.Load() {
		return ErrLogClosed
	}

	el.appendMu.Lock()
	defer el.appendMu.Unlock()

	batch := el.db.NewBatch()
	defer batch.Close()

	seq := el.lastSeq.Load()
	for i := range events {
		seq++
		events[i].Seq = seq

		val, err := marshalEvent(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := batch.Set(eventKey(seq), val, nil); err != nil {
			return fmt.Errorf("failed to stage event: %w", err)
		}
	}

	if err := batch.Set([]byte(keyEventSeq), uint64Bytes(seq), nil); err != nil {
		return fmt.Errorf("failed to stage sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}

	el.lastSeq.Store(seq)
	return nil
}

// LastSeq returns the highest sequence number assigned so far
func (el *EventLog) LastSeq() uint64 {
	return el.lastSeq.Load()
}

// ReadFrom returns up to limit events with Seq > cursor, in order.
// Undecodable entries are skipped.
func (el *EventLog) ReadFrom(cursor uint64, limit int) ([]Event, error) {
	if el.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := eventKey(cursor + 1)
	iter, err := el.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixEventLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]Event, 0, limit)
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var event Event
		if err := unmarshalEvent(val, &event); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable event")
			continue
		}
		events = append(events, event)
	}

	return events, iter.Error()
}

// Cursor returns the last delivered sequence for a sink, 0 if unknown
func (el *EventLog) Cursor(sink string) (uint64, error) {
	if el.closed.Load() {
		return 0, ErrLogClosed
	}

	el.cursorsMu.RLock()
	defer el.cursorsMu.RUnlock()
	return el.cursors[sink], nil
}

// AdvanceCursor persists a sink's progress and periodically trims entries
// every sink has already delivered
func (el *EventLog) AdvanceCursor(sink string, seq uint64) error {
	if el.closed.Load() {
		return ErrLogClosed
	}

	if err := el.db.Set(cursorKey(sink), uint64Bytes(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist cursor: %w", err)
	}

	el.cursorsMu.Lock()
	el.cursors[sink] = seq
	el.cursorsMu.Unlock()

	if seq&trimEvery == 0 && el.trimRunning.CompareAndSwap(false, true) {
		el.trimWg.Add(1)
		go func() {
			defer el.trimWg.Done()
			defer el.trimRunning.Store(false)
			el.Trim()
		}()
	}

	return nil
}

// RetainCursors deletes cursors of sinks that are no longer configured so
// they stop holding back trimming
func (el *EventLog) RetainCursors(sinks []string) error {
	if el.closed.Load() {
		return ErrLogClosed
	}

	keep := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		keep[s] = true
	}

	el.cursorsMu.Lock()
	defer el.cursorsMu.Unlock()

	for name := range el.cursors {
		if keep[name] {
			continue
		}
		if err := el.db.Delete(cursorKey(name), pebble.Sync); err != nil {
			return fmt.Errorf("failed to delete cursor %s: %w", name, err)
		}
		delete(el.cursors, name)
		log.Info().Str("sink", name).Msg("Dropped cursor of removed sink")
	}
	return nil
}

// Trim deletes every entry at or below the slowest cursor
func (el *EventLog) Trim() {
	el.trimMu.Lock()
	defer el.trimMu.Unlock()

	if el.closed.Load() {
		return
	}

	el.cursorsMu.RLock()
	if len(el.cursors) == 0 {
		el.cursorsMu.RUnlock()
		return
	}
	low := ^uint64(0)
	for _, c := range el.cursors {
		low = min(low, c)
	}
	el.cursorsMu.RUnlock()

	if low == 0 {
		return
	}

	if err := el.db.DeleteRange([]byte(prefixEventLog), eventKey(low+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("below", low+1).Msg("Failed to trim event log")
		return
	}
	log.Debug().Uint64("below", low+1).Msg("Trimmed event log")
}

// Close waits for a running trim and closes Pebble
func (el *EventLog) Close() error {
	if !el.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}

	el.trimWg.Wait()
	el.trimMu.Lock()
	defer el.trimMu.Unlock()
	return el.db.Close()
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixEventLog, seq))
}

func cursorKey(sink string) []byte {
	return []byte(prefixEventCursor + sink)
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
