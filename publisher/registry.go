package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/sqlrunner/cfg"
	"github.com/maxpert/sqlrunner/notify"
	"github.com/maxpert/sqlrunner/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// recordBatch caps how many queued signals go into one log commit
const recordBatch = 256

// RegistryConfig configures the publisher
type RegistryConfig struct {
	Dir        string // event log directory
	InstanceID uint64 // stamped on every recorded event
	Sinks      []cfg.SinkConfiguration
}

// Registry owns the event log, the recorder feeding it and one worker per sink
type Registry struct {
	log      *EventLog
	instance uint64
	logger   zerolog.Logger

	mu       sync.Mutex
	workers  []*Worker
	sinks    []Sink
	running  bool
	untap    func()
	recorded chan struct{}
}

// NewRegistry opens the log, builds every configured sink and drops cursors
// left behind by sinks no longer configured
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("event log directory is required")
	}

	el, err := OpenEventLog(config.Dir)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		log:      el,
		instance: config.InstanceID,
		logger:   log.With().Str("component", "publisher").Logger(),
	}

	names := make([]string, 0, len(config.Sinks))
	for _, sc := range config.Sinks {
		if err := r.AddSink(sc); err != nil {
			r.closeSinks()
			el.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sc.Name, err)
		}
		names = append(names, sc.Name)
	}

	if err := el.RetainCursors(names); err != nil {
		r.closeSinks()
		el.Close()
		return nil, err
	}

	r.logger.Info().Int("sinks", len(r.workers)).Str("dir", config.Dir).Msg("Publisher initialized")
	return r, nil
}

// AddSink builds a sink through its registered factory and a worker for it
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return err
	}

	if err := r.addWorker(config, snk); err != nil {
		snk.Close()
		return err
	}
	return nil
}

func (r *Registry) addWorker(config cfg.SinkConfiguration, snk Sink) error {
	enc, err := NewEncoder(config.Format, config.Compression)
	if err != nil {
		return err
	}

	filter, err := NewGlobFilter(config.FilterKinds, config.FilterDatabases)
	if err != nil {
		return err
	}

	w, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Encoder:         enc,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
	r.sinks = append(r.sinks, snk)
	if r.running {
		w.Start()
	}

	r.logger.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", enc.ContentType()).
		Msg("Added sink")
	return nil
}

// Attach subscribes to every signal of hub and records them until Stop
// or until the hub closes. The subscription is unbounded, so a burst that
// outpaces log commits queues up instead of being dropped.
func (r *Registry) Attach(hub *notify.Hub) error {
	ch, cancel, err := hub.SubscribeUnbounded(notify.Filter{})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.untap != nil {
		cancel()
		return fmt.Errorf("publisher already attached")
	}
	r.untap = cancel
	r.recorded = make(chan struct{})

	go r.record(ch, r.recorded)
	return nil
}

// record drains whatever is queued behind each signal into one commit
func (r *Registry) record(ch <-chan notify.Signal, done chan struct{}) {
	defer close(done)

	batch := make([]Event, 0, recordBatch)
	for sig := range ch {
		now := time.Now().UnixMilli()
		batch = append(batch[:0], FromSignal(sig, r.instance, now))

	fill:
		for len(batch) < recordBatch {
			select {
			case more, ok := <-ch:
				if !ok {
					break fill
				}
				batch = append(batch, FromSignal(more, r.instance, now))
			default:
				break fill
			}
		}

		if err := r.log.Append(batch); err != nil {
			r.logger.Error().Err(err).Int("events", len(batch)).Msg("Failed to record events")
			telemetry.DroppedEventsTotal.With("record_failed").Add(float64(len(batch)))
			continue
		}
		telemetry.RecordedEventsTotal.Add(float64(len(batch)))
	}
}

// Append records events directly, bypassing the hub
func (r *Registry) Append(events []Event) error {
	return r.log.Append(events)
}

// Log exposes the underlying event log
func (r *Registry) Log() *EventLog {
	return r.log
}

// Start starts every worker
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("publisher already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	r.running = true
	return nil
}

// Stop detaches from the hub, flushes the recorder, stops the workers and
// closes sinks and log. Safe to call more than once.
func (r *Registry) Stop() {
	r.mu.Lock()
	untap, recorded := r.untap, r.recorded
	r.untap = nil
	r.mu.Unlock()

	if untap != nil {
		untap()
		<-recorded
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		w.Stop()
	}
	r.running = false
	r.closeSinksLocked()

	if err := r.log.Close(); err != nil && err != ErrLogClosed {
		r.logger.Warn().Err(err).Msg("Failed to close event log")
	}
	r.logger.Info().Msg("Publisher stopped")
}

func (r *Registry) closeSinks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeSinksLocked()
}

func (r *Registry) closeSinksLocked() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close sink")
		}
	}
	r.sinks = nil
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink makes a sink type available to NewRegistry
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}
