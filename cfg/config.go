package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// RunnerConfiguration controls the worker loop and caller backpressure
type RunnerConfiguration struct {
	KeepaliveIntervalMS int `toml:"keepalive_interval_ms"` // Periodic wake guarding against missed signals
	MaxPendingRequests  int `toml:"max_pending_requests"`  // Ceiling callers throttle against
	MaxResultRows       int `toml:"max_result_rows"`       // 0 = unlimited buffering per exec
	StatementCacheSize  int `toml:"statement_cache_size"`  // Prepared statements kept per connection
	StartID             int `toml:"start_id"`              // First handle/request id issued
}

// SQLiteConfiguration controls how connections are opened
type SQLiteConfiguration struct {
	JournalMode   string   `toml:"journal_mode"`
	Synchronous   string   `toml:"synchronous"`
	BusyTimeoutMS int      `toml:"busy_timeout_ms"`
	ForeignKeys   bool     `toml:"foreign_keys"`
	Pragmas       []string `toml:"pragmas"` // Extra PRAGMA statements run after open
}

// GeobaseConfiguration controls the map-data store
type GeobaseConfiguration struct {
	Enabled  bool     `toml:"enabled"`
	Path     string   `toml:"path"`     // Defaults to <data_dir>/geobase.sql
	Elements []string `toml:"elements"` // Schema elements checked at startup
}

// SinkConfiguration describes one export destination for completion events
type SinkConfiguration struct {
	Name            string   `toml:"name"`   // Cursor key, must be unique
	Type            string   `toml:"type"`   // "nats" or "kafka"
	Format          string   `toml:"format"`      // "json" or "msgpack"
	Compression     string   `toml:"compression"` // "", "none" or a zstd level: fastest, default, better, best
	TopicPrefix     string   `toml:"topic_prefix"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	FilterKinds     []string `toml:"filter_kinds"`     // Empty = every kind
	FilterDatabases []string `toml:"filter_databases"` // Glob patterns, empty = every database
}

// PublisherConfiguration controls the durable completion-event export
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the admin HTTP endpoints
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables authentication
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Runner     RunnerConfiguration     `toml:"runner"`
	SQLite     SQLiteConfiguration     `toml:"sqlite"`
	Geobase    GeobaseConfiguration    `toml:"geobase"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	DatabaseFlag   = flag.String("db", "", "Database file to open in addition to the geobase")
	ExecFlag       = flag.String("exec", "", "File of ';'-separated statements to run against -db")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	WatchFlag      = flag.Bool("watch", false, "Log every completion event")
)

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate
	DataDir:    "./sqlrunner-data",

	Runner: RunnerConfiguration{
		KeepaliveIntervalMS: 2000,
		MaxPendingRequests:  1000,
		MaxResultRows:       0,
		StatementCacheSize:  64,
		StartID:             4242,
	},

	SQLite: SQLiteConfiguration{
		JournalMode:   "WAL",
		Synchronous:   "NORMAL",
		BusyTimeoutMS: 5000,
		ForeignKeys:   true,
	},

	Geobase: GeobaseConfiguration{
		Enabled: true,
		Elements: []string{
			"nodes",
			"nodelatindex",
			"nodelonindex",
			"ways",
			"nodetags",
			"waytags",
			"waynodes",
			"nodeparcels",
			"wayparcels",
			"relations",
			"relationparts",
			"relationtags",
		},
	},

	Publisher: PublisherConfiguration{
		Enabled: false,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     false,
		BindAddress: "127.0.0.1",
		Port:        8089,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
		Config.Admin.Enabled = true
	}

	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Debug().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if Config.Geobase.Path == "" {
		Config.Geobase.Path = filepath.Join(Config.DataDir, "geobase.sql")
	}

	return nil
}

// generateInstanceID creates a stable ID based on machine ID, falling back
// to the hostname on hosts without one (containers, CI)
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("sqlrunner")
	if err != nil {
		host, hostErr := os.Hostname()
		if hostErr != nil {
			return 0, fmt.Errorf("machine id: %w, hostname: %v", err, hostErr)
		}
		log.Debug().Err(err).Str("hostname", host).Msg("Machine ID unavailable, using hostname")
		id = "host:" + host
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Runner.KeepaliveIntervalMS < 1 {
		return fmt.Errorf("runner keepalive interval must be >= 1ms")
	}

	if Config.Runner.MaxPendingRequests < 1 {
		return fmt.Errorf("runner max pending requests must be >= 1")
	}

	if Config.Runner.MaxResultRows < 0 {
		return fmt.Errorf("runner max result rows must be >= 0")
	}

	if Config.Runner.StatementCacheSize < 1 {
		return fmt.Errorf("runner statement cache size must be >= 1")
	}

	if Config.Runner.StartID < 0 {
		return fmt.Errorf("runner start id must be >= 0")
	}

	validJournal := map[string]bool{
		"": true, "DELETE": true, "TRUNCATE": true, "PERSIST": true,
		"MEMORY": true, "WAL": true, "OFF": true,
	}
	if !validJournal[strings.ToUpper(Config.SQLite.JournalMode)] {
		return fmt.Errorf("invalid sqlite journal mode: %s", Config.SQLite.JournalMode)
	}

	validSync := map[string]bool{
		"": true, "OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true,
	}
	if !validSync[strings.ToUpper(Config.SQLite.Synchronous)] {
		return fmt.Errorf("invalid sqlite synchronous mode: %s", Config.SQLite.Synchronous)
	}

	if Config.SQLite.BusyTimeoutMS < 0 {
		return fmt.Errorf("sqlite busy timeout must be >= 0")
	}

	for _, pragma := range Config.SQLite.Pragmas {
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(pragma)), "PRAGMA ") {
			return fmt.Errorf("sqlite pragma must start with PRAGMA: %q", pragma)
		}
	}

	if Config.Geobase.Enabled && len(Config.Geobase.Elements) == 0 {
		return fmt.Errorf("geobase enabled but no schema elements configured")
	}

	if Config.Publisher.Enabled {
		if len(Config.Publisher.Sinks) == 0 {
			return fmt.Errorf("publisher enabled but no sinks configured")
		}
		names := make(map[string]bool, len(Config.Publisher.Sinks))
		for i, sink := range Config.Publisher.Sinks {
			if sink.Name == "" {
				return fmt.Errorf("publisher sink %d has no name", i)
			}
			if names[sink.Name] {
				return fmt.Errorf("duplicate publisher sink name: %s", sink.Name)
			}
			names[sink.Name] = true

			switch sink.Type {
			case "nats":
				if sink.NatsURL == "" {
					return fmt.Errorf("nats sink %s requires nats_url", sink.Name)
				}
			case "kafka":
				if len(sink.Brokers) == 0 {
					return fmt.Errorf("kafka sink %s requires brokers", sink.Name)
				}
			default:
				return fmt.Errorf("invalid sink type for %s: %s", sink.Name, sink.Type)
			}

			if sink.Format != "" && sink.Format != "json" && sink.Format != "msgpack" {
				return fmt.Errorf("invalid sink format for %s: %s", sink.Name, sink.Format)
			}

			switch sink.Compression {
			case "", "none", "fastest", "default", "better", "best":
			default:
				return fmt.Errorf("invalid sink compression for %s: %s", sink.Name, sink.Compression)
			}
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "" && Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
