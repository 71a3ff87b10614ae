package publisher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/sqlrunner/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures one sink's delivery loop
type WorkerConfig struct {
	Name            string // cursor key
	Log             *EventLog
	Sink            Sink
	Encoder         Encoder
	Filter          Filter
	TopicPrefix     string
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int // attempts per batch round before re-reading from the cursor
}

// Worker delivers log entries past its cursor to one sink
type Worker struct {
	config WorkerConfig
	logger zerolog.Logger
	cursor uint64

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewWorker validates config, fills defaults and loads the sink cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("event log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Encoder == nil:
		return nil, fmt.Errorf("encoder is required")
	case config.Filter == nil:
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier < 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	// A new sink starts at the oldest retained entry
	if cursor == 0 {
		first, err := config.Log.ReadFrom(0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to find first entry: %w", err)
		}
		if len(first) > 0 {
			cursor = first[0].Seq - 1
		}
	}

	return &Worker{
		config: config,
		logger: log.With().Str("component", "publisher").Str("sink", config.Name).Logger(),
		cursor: cursor,
	}, nil
}

// Start launches the delivery goroutine; no-op when running
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info().Uint64("cursor", w.cursor).Msg("Starting publisher worker")
	go w.loop(w.stopCh, w.doneCh)
}

// Stop signals the goroutine and waits for it; a publish in flight is
// abandoned at its next retry and redelivered after restart
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running = false

	w.logger.Info().Uint64("cursor", w.cursor).Msg("Publisher worker stopped")
}

func (w *Worker) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.cursor, w.config.BatchSize)
		if err != nil {
			w.logger.Error().Err(err).Uint64("cursor", w.cursor).Msg("Failed to read event log")
			if !sleep(stopCh, w.config.PollInterval) {
				return
			}
			continue
		}

		if len(events) == 0 {
			if !sleep(stopCh, w.config.PollInterval) {
				return
			}
			continue
		}

		for _, event := range events {
			err := w.deliver(stopCh, event)
			if errors.Is(err, errWorkerStopped) {
				return
			}
			if err != nil {
				// Cursor stays put; the batch is re-read after a pause
				w.logger.Error().Err(err).Uint64("seq", event.Seq).Msg("Failed to deliver event")
				if !sleep(stopCh, w.config.PollInterval) {
					return
				}
				break
			}
			w.cursor = event.Seq
		}
	}
}

// deliver publishes one event (unless filtered) and then advances the
// cursor. A failed cursor write only risks a redelivery.
func (w *Worker) deliver(stopCh chan struct{}, event Event) error {
	if w.config.Filter.Match(event.Kind, event.Database) {
		data, err := w.config.Encoder.Encode(event)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}

		if err := w.publishWithRetry(stopCh, w.topic(event.Kind), event.Database, data); err != nil {
			telemetry.PublishedEventsTotal.With(w.config.Name, "failed").Inc()
			return err
		}
		telemetry.PublishedEventsTotal.With(w.config.Name, "ok").Inc()
	} else {
		telemetry.PublishedEventsTotal.With(w.config.Name, "filtered").Inc()
	}

	if err := w.config.Log.AdvanceCursor(w.config.Name, event.Seq); err != nil {
		w.logger.Warn().Err(err).Uint64("seq", event.Seq).Msg("Failed to advance cursor, event may be redelivered")
	}
	return nil
}

func (w *Worker) topic(kind string) string {
	if w.config.TopicPrefix == "" {
		return kind
	}
	return w.config.TopicPrefix + "." + kind
}

// publishWithRetry retries with exponential backoff up to MaxRetries attempts
func (w *Worker) publishWithRetry(stopCh chan struct{}, topic, key string, data []byte) error {
	delay := w.config.RetryInitial

	for attempt := 1; ; attempt++ {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}
		if attempt >= w.config.MaxRetries {
			return fmt.Errorf("gave up on %s after %d attempts: %w", topic, attempt, err)
		}

		w.logger.Warn().
			Err(err).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Publish failed, retrying")

		if !sleep(stopCh, delay) {
			return errWorkerStopped
		}

		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep reports false when stopCh closed first
func sleep(stopCh chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}
