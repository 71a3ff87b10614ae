package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/maxpert/sqlrunner/admin"
	"github.com/maxpert/sqlrunner/cfg"
	"github.com/maxpert/sqlrunner/common"
	"github.com/maxpert/sqlrunner/geobase"
	"github.com/maxpert/sqlrunner/notify"
	"github.com/maxpert/sqlrunner/publisher"
	_ "github.com/maxpert/sqlrunner/publisher/sink"
	"github.com/maxpert/sqlrunner/runner"
	"github.com/maxpert/sqlrunner/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("sqlrunner - asynchronous SQLite execution engine")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Completion tap for -watch
	tap := notify.NewHub()
	defer tap.Close()
	if *cfg.WatchFlag {
		startWatch(tap)
	}

	var pub *publisher.Registry
	if cfg.Config.Publisher.Enabled {
		pub, err = startPublisher(tap)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start publisher")
			return
		}
	}

	opts := runner.OptionsFromConfig(cfg.Config)
	opts.Tap = tap
	r := runner.New(opts)
	if err := r.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start runner")
		return
	}

	var collector *telemetry.MetricsCollector
	if telemetry.Enabled() {
		collector = telemetry.NewMetricsCollector(r, 5*time.Second)
		collector.Start()
	}

	// Callbacks run on the serve goroutine
	serveCtx, stopServe := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.Serve(serveCtx) }()

	var adminServer *http.Server
	if cfg.Config.Admin.Enabled {
		adminServer = startAdmin(r)
	}

	if cfg.Config.Geobase.Enabled {
		startGeobase(r)
	}

	execDone := make(chan struct{})
	if *cfg.DatabaseFlag != "" {
		if err := runScript(r, *cfg.DatabaseFlag, *cfg.ExecFlag, execDone); err != nil {
			log.Error().Err(err).Msg("Failed to run statements")
			close(execDone)
		}
	}

	log.Info().
		Uint64("instance_id", cfg.Config.InstanceID).
		Str("data_dir", cfg.Config.DataDir).
		Msg("sqlrunner started")

	// One-shot -exec runs exit when done unless something else keeps us up
	oneShot := *cfg.ExecFlag != "" && adminServer == nil && !*cfg.WatchFlag
	select {
	case <-ctx.Done():
		log.Info().Msg("Signal received, shutting down")
	case <-waitIf(oneShot, execDone):
		log.Info().Msg("Statements finished, shutting down")
	}

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}

	r.Stop()
	if err := <-served; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Dispatch loop failed")
	}
	stopServe()

	// After the runner so shutdown closes are exported too
	if pub != nil {
		pub.Stop()
	}

	if collector != nil {
		collector.Stop()
	}
	log.Info().Msg("sqlrunner stopped")
}

// waitIf returns ch when cond holds, else a channel that never fires
func waitIf(cond bool, ch chan struct{}) <-chan struct{} {
	if cond {
		return ch
	}
	return nil
}

func startWatch(tap *notify.Hub) {
	signals, _, err := tap.Subscribe(notify.Filter{})
	if err != nil {
		log.Warn().Err(err).Msg("Cannot watch completion events")
		return
	}

	go func() {
		for sig := range signals {
			log.Info().
				Str("kind", sig.Kind).
				Str("database", sig.Database).
				Uint64("db", sig.DBHandle).
				Uint64("query", sig.Query).
				Uint64("request_id", sig.RequestID).
				Bool("ok", sig.OK).
				Str("err", sig.Err).
				Msg("Event")
		}
	}()
}

func startPublisher(tap *notify.Hub) (*publisher.Registry, error) {
	pub, err := publisher.NewRegistry(publisher.RegistryConfig{
		Dir:        filepath.Join(cfg.Config.DataDir, "event_log"),
		InstanceID: cfg.Config.InstanceID,
		Sinks:      cfg.Config.Publisher.Sinks,
	})
	if err != nil {
		return nil, err
	}

	if err := pub.Attach(tap); err != nil {
		pub.Stop()
		return nil, err
	}
	if err := pub.Start(); err != nil {
		pub.Stop()
		return nil, err
	}
	return pub, nil
}

func startAdmin(r *runner.Runner) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(r), cfg.Config.Admin.Secret)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return server
}

func startGeobase(r *runner.Runner) {
	client := geobase.NewClientFromConfig(r, cfg.Config)
	if err := client.Start(); err != nil {
		log.Error().Err(err).Str("path", cfg.Config.Geobase.Path).Msg("Failed to start geobase")
		return
	}

	go func() {
		if _, err := client.Ready().Get(); err != nil {
			log.Error().Err(err).Msg("Geobase schema check failed")
			return
		}
		log.Info().Strs("created", client.Created()).Msg("Geobase schema verified")
	}()
}

// runScript opens path and queues every statement of the exec file. done
// is closed once all of them finished.
func runScript(r *runner.Runner, path, execFile string, done chan struct{}) error {
	var statements []string
	if execFile != "" {
		data, err := os.ReadFile(execFile)
		if err != nil {
			return fmt.Errorf("read exec file: %w", err)
		}
		script := string(data)
		statements, err = common.SplitStatements(script)
		if err != nil {
			// Let SQLite run the script as a whole
			log.Warn().Err(err).Msg("Cannot split statements, running the file as one script")
			statements = []string{script}
		}
	}

	d, err := r.OpenDatabaseFunc(path, func(d *runner.Database, ok bool) {
		if !ok {
			log.Error().Err(d.Err()).Str("path", path).Msg("Database open failed")
			return
		}
		log.Info().Str("path", path).Uint64("db", uint64(d.Handle())).Msg("Database open")
	})
	if err != nil {
		return err
	}

	if len(statements) == 0 {
		close(done)
		return nil
	}

	remaining := len(statements)
	for i, text := range statements {
		q, err := d.NewQuery()
		if err != nil {
			return err
		}
		index := i
		q.OnFinished(func(q *runner.Query, ok bool) {
			printResult(index, q, ok)
			q.Dispose()
			remaining--
			if remaining == 0 {
				close(done)
			}
		})
		if err := q.ExecSQL(text); err != nil {
			return err
		}
	}
	return nil
}

func printResult(index int, q *runner.Query, ok bool) {
	if !ok {
		log.Error().Err(q.Err()).Int("statement", index+1).Str("sql", q.ExecutedQuery()).Msg("Statement failed")
		return
	}

	if q.RowsAffected() >= 0 {
		log.Info().Int("statement", index+1).Int64("rows_affected", q.RowsAffected()).Msg("Statement done")
		return
	}

	fmt.Println(strings.Join(q.Columns(), "\t"))
	for q.Next() {
		cells := make([]string, q.ColumnCount())
		for c := range cells {
			cells[c] = formatValue(q.Value(c))
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	log.Info().Int("statement", index+1).Int("rows", q.RowCount()).Msg("Statement done")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
