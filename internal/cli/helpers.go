package cli

import (
	"fmt"
	"os"

	"github.com/lazypower/marksweep/internal/config"
	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/lazypower/marksweep/internal/store"
	"github.com/spf13/cobra"
)

// loadConfig reads MARKSWEEP_CONFIG, or ~/.marksweep/config.yaml when unset.
func loadConfig() (config.Config, error) {
	path := os.Getenv("MARKSWEEP_CONFIG")
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// dbPath resolves the database path: MARKSWEEP_DB, then the config file,
// then ~/.marksweep/marksweep.db.
func dbPath(cfg config.Config) (string, error) {
	if p := os.Getenv("MARKSWEEP_DB"); p != "" {
		return p, nil
	}
	if cfg.Database.Path != "" {
		return cfg.Database.Path, nil
	}
	return store.DefaultDBPath()
}

// openDB is a helper that opens the database for CLI commands.
func openDB(cfg config.Config) (*store.DB, error) {
	path, err := dbPath(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	return store.Open(path)
}

// history is an open database plus this process's claim on the runs it
// starts, so a server starting meanwhile leaves them active.
type history struct {
	db    *store.DB
	owner *store.Owner
}

func openHistory(cfg config.Config) (*history, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	owner, err := store.AcquireOwner(db.Path)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &history{db: db, owner: owner}, nil
}

// engine returns an engine recording into h, or without history when h is nil.
func (h *history) engine(cfg gc.Config) *engine.Engine {
	if h == nil {
		return engine.New(nil, cfg)
	}
	eng := engine.New(h.db, cfg)
	eng.Owner = h.owner.ID
	return eng
}

func (h *history) Close() {
	if h == nil {
		return
	}
	h.db.Close()
	if err := h.owner.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

// maybeHistory opens history unless disabled. Failure only disables history.
func maybeHistory(cfg config.Config, disabled bool) *history {
	if disabled {
		return nil
	}
	h, err := openHistory(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history disabled (%v)\n", err)
		return nil
	}
	return h
}

// heapFlags are the sizing flags shared by run, bench and remote new.
type heapFlags struct {
	stack     int
	threshold int
	maxObjs   int
}

func (f *heapFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.stack, "stack", 0, "root stack capacity (default from config)")
	cmd.Flags().IntVar(&f.threshold, "threshold", 0, "live count that triggers the first collection")
	cmd.Flags().IntVar(&f.maxObjs, "max-objects", 0, "hard limit on live objects, 0 for none")
}

// apply overrides base with every flag that was set.
func (f *heapFlags) apply(cmd *cobra.Command, base gc.Config) (gc.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("stack") {
		if f.stack < 1 {
			return base, fmt.Errorf("--stack must be positive")
		}
		base.StackCapacity = f.stack
	}
	if flags.Changed("threshold") {
		if f.threshold < 1 {
			return base, fmt.Errorf("--threshold must be positive")
		}
		base.InitialThreshold = f.threshold
	}
	if flags.Changed("max-objects") {
		if f.maxObjs < 0 {
			return base, fmt.Errorf("--max-objects must not be negative")
		}
		base.MaxObjects = f.maxObjs
	}
	return base, nil
}
