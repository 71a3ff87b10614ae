package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Configuration {
	return &Configuration{
		InstanceID: 1,
		DataDir:    "./test-data",
		Runner: RunnerConfiguration{
			KeepaliveIntervalMS: 2000,
			MaxPendingRequests:  1000,
			StatementCacheSize:  64,
		},
		SQLite: SQLiteConfiguration{
			JournalMode: "WAL",
			Synchronous: "NORMAL",
		},
		Geobase: GeobaseConfiguration{
			Enabled:  true,
			Elements: []string{"nodes", "ways"},
		},
		Logging: LoggingConfiguration{
			Format: "console",
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	// Save original config
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	err := Validate()
	if err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(); err != nil {
		t.Errorf("Expected built-in defaults to validate, got: %v", err)
	}
}

func TestValidate_InvalidKeepalive(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, ms := range []int{-1, 0} {
		Config = validConfig()
		Config.Runner.KeepaliveIntervalMS = ms

		if err := Validate(); err == nil {
			t.Errorf("Expected error for keepalive interval %d", ms)
		}
	}
}

func TestValidate_InvalidRunnerLimits(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Runner.MaxPendingRequests = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero max pending requests")
	}

	Config = validConfig()
	Config.Runner.MaxResultRows = -5
	if err := Validate(); err == nil {
		t.Error("Expected error for negative max result rows")
	}

	Config = validConfig()
	Config.Runner.StatementCacheSize = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero statement cache size")
	}
}

func TestValidate_InvalidJournalMode(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.SQLite.JournalMode = "SIDEWAYS"

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid journal mode")
	}

	Config.SQLite.JournalMode = "wal"
	if err := Validate(); err != nil {
		t.Errorf("Expected lowercase journal mode to be accepted, got: %v", err)
	}
}

func TestValidate_InvalidSynchronous(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.SQLite.Synchronous = "SOMETIMES"

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid synchronous mode")
	}
}

func TestValidate_InvalidPragma(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.SQLite.Pragmas = []string{"DROP TABLE nodes"}

	if err := Validate(); err == nil {
		t.Error("Expected error for non-PRAGMA statement")
	}

	Config.SQLite.Pragmas = []string{"PRAGMA cache_size=-2000"}
	if err := Validate(); err != nil {
		t.Errorf("Expected pragma to be accepted, got: %v", err)
	}
}

func TestValidate_GeobaseWithoutElements(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Geobase.Elements = nil

	if err := Validate(); err == nil {
		t.Error("Expected error for geobase without elements")
	}

	Config.Geobase.Enabled = false
	if err := Validate(); err != nil {
		t.Errorf("Expected disabled geobase to skip element check, got: %v", err)
	}
}

func TestValidate_InvalidAdminPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = validConfig()
		Config.Admin.Enabled = true
		Config.Admin.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid admin port %d", port)
		}
	}

	// Port is ignored while admin is disabled
	Config = validConfig()
	Config.Admin.Port = 0
	if err := Validate(); err != nil {
		t.Errorf("Expected no error with admin disabled, got: %v", err)
	}
}

func TestValidate_PublisherSinks(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name    string
		sinks   []SinkConfiguration
		wantErr bool
	}{
		{"no sinks", nil, true},
		{"nats", []SinkConfiguration{{Name: "a", Type: "nats", NatsURL: "nats://localhost:4222"}}, false},
		{"kafka msgpack", []SinkConfiguration{{Name: "a", Type: "kafka", Brokers: []string{"localhost:9092"}, Format: "msgpack"}}, false},
		{"missing name", []SinkConfiguration{{Type: "nats", NatsURL: "nats://x"}}, true},
		{"duplicate name", []SinkConfiguration{
			{Name: "a", Type: "nats", NatsURL: "nats://x"},
			{Name: "a", Type: "nats", NatsURL: "nats://y"},
		}, true},
		{"nats without url", []SinkConfiguration{{Name: "a", Type: "nats"}}, true},
		{"kafka without brokers", []SinkConfiguration{{Name: "a", Type: "kafka"}}, true},
		{"unknown type", []SinkConfiguration{{Name: "a", Type: "http"}}, true},
		{"unknown format", []SinkConfiguration{{Name: "a", Type: "nats", NatsURL: "nats://x", Format: "avro"}}, true},
		{"zstd", []SinkConfiguration{{Name: "a", Type: "nats", NatsURL: "nats://x", Compression: "better"}}, false},
		{"unknown compression", []SinkConfiguration{{Name: "a", Type: "nats", NatsURL: "nats://x", Compression: "gzip"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = validConfig()
			Config.Publisher.Enabled = true
			Config.Publisher.Sinks = tt.sinks

			err := Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}

	// Sinks are not checked while the publisher is disabled
	Config = validConfig()
	Config.Publisher.Sinks = []SinkConfiguration{{Type: "http"}}
	if err := Validate(); err != nil {
		t.Errorf("Expected disabled publisher to skip sink checks, got: %v", err)
	}
}

func TestValidate_InvalidLoggingFormat(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Logging.Format = "xml"

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid logging format")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "load")

	Config = validConfig()
	Config.DataDir = tempDir
	Config.InstanceID = 0

	// Load non-existent file should use defaults
	err := Load("non-existent-file.toml")
	if err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	// Instance ID should be auto-generated
	if Config.InstanceID == 0 {
		t.Error("Expected instance ID to be auto-generated")
	}

	if Config.Geobase.Path != filepath.Join(tempDir, "geobase.sql") {
		t.Errorf("Expected geobase path under data dir, got %s", Config.Geobase.Path)
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
instance_id = 77
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[runner]
keepalive_interval_ms = 250
max_pending_requests = 10
statement_cache_size = 8

[sqlite]
journal_mode = "DELETE"
pragmas = ["PRAGMA cache_size=-4000"]

[geobase]
enabled = false
path = "/tmp/custom.sql"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	Config = validConfig()
	if err := Load(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.InstanceID != 77 {
		t.Errorf("Expected instance ID 77, got %d", Config.InstanceID)
	}
	if Config.Runner.KeepaliveIntervalMS != 250 {
		t.Errorf("Expected keepalive 250, got %d", Config.Runner.KeepaliveIntervalMS)
	}
	if Config.Runner.MaxPendingRequests != 10 {
		t.Errorf("Expected max pending 10, got %d", Config.Runner.MaxPendingRequests)
	}
	if Config.SQLite.JournalMode != "DELETE" {
		t.Errorf("Expected journal mode DELETE, got %s", Config.SQLite.JournalMode)
	}
	if len(Config.SQLite.Pragmas) != 1 {
		t.Errorf("Expected 1 pragma, got %d", len(Config.SQLite.Pragmas))
	}
	if Config.Geobase.Path != "/tmp/custom.sql" {
		t.Errorf("Expected explicit geobase path to be kept, got %s", Config.Geobase.Path)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[runner\nkeepalive = "), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	Config = validConfig()
	if err := Load(path); err == nil {
		t.Error("Expected decode error for malformed file")
	}
}

func TestLoad_CreateDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "nested", "data")

	Config = validConfig()
	Config.DataDir = tempDir

	err := Load("")
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	// Verify directory was created
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestGenerateInstanceID(t *testing.T) {
	id1, err := generateInstanceID()
	if err != nil {
		t.Skipf("No stable machine identity available: %v", err)
	}

	if id1 == 0 {
		t.Error("Generated instance ID should not be 0")
	}

	// Generate another ID - should be the same (deterministic for machine)
	id2, err := generateInstanceID()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if id1 != id2 {
		t.Error("Instance ID should be deterministic for same machine")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "override")

	*DataDirFlag = tempDir
	*AdminPortFlag = 9999

	defer func() {
		*DataDirFlag = ""
		*AdminPortFlag = 0
	}()

	Config = validConfig()
	Config.DataDir = "./default-data"

	err := Load("")
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	// Verify CLI overrides were applied
	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}

	if Config.Admin.Port != 9999 {
		t.Errorf("Expected admin port 9999, got %d", Config.Admin.Port)
	}

	if !Config.Admin.Enabled {
		t.Error("Expected admin port flag to enable admin server")
	}
}

func BenchmarkGenerateInstanceID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		generateInstanceID()
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
