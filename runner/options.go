package runner

import (
	"time"

	"github.com/maxpert/sqlrunner/cfg"
	"github.com/maxpert/sqlrunner/db"
	"github.com/maxpert/sqlrunner/notify"
)

const defaultKeepaliveInterval = 2 * time.Second

// Options configures a Runner
type Options struct {
	// Driver opens connections; defaults to the go-sqlite3 driver
	Driver db.Driver

	// KeepaliveInterval wakes the idle worker periodically
	KeepaliveInterval time.Duration

	// MaxPendingRequests is advisory; callers compare it to PendingRequestCount
	MaxPendingRequests int

	// MaxResultRows fails an exec whose result exceeds it. 0 = unlimited
	MaxResultRows int

	// StartID is the first handle or request id issued
	StartID uint64

	// Tap receives a best-effort copy of every completion event
	Tap *notify.Hub
}

// DefaultOptions returns options matching the built-in configuration defaults
func DefaultOptions() Options {
	return Options{
		KeepaliveInterval:  defaultKeepaliveInterval,
		MaxPendingRequests: 1000,
	}
}

// OptionsFromConfig maps the [runner] and [sqlite] sections
func OptionsFromConfig(c *cfg.Configuration) Options {
	return Options{
		Driver:             db.NewSQLiteDriver(db.SQLiteOptionsFromConfig(c)),
		KeepaliveInterval:  time.Duration(c.Runner.KeepaliveIntervalMS) * time.Millisecond,
		MaxPendingRequests: c.Runner.MaxPendingRequests,
		MaxResultRows:      c.Runner.MaxResultRows,
		StartID:            uint64(c.Runner.StartID),
	}
}

func (o Options) withDefaults() Options {
	if o.Driver == nil {
		o.Driver = db.NewSQLiteDriver(db.SQLiteOptions{})
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = defaultKeepaliveInterval
	}
	if o.MaxResultRows < 0 {
		o.MaxResultRows = 0
	}
	return o
}
