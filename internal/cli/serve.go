package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/server"
	"github.com/lazypower/marksweep/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, err := dbPath(cfg)
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	// Only one server may recover and own runs in a database, and it must
	// hold the lock before migrations run.
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock database: %w", err)
	}
	if !locked {
		return fmt.Errorf("another marksweep server is using %s", path)
	}
	defer lock.Unlock()

	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	owner, err := store.AcquireOwner(path)
	if err != nil {
		return err
	}
	defer owner.Release()

	if n, err := recoverRuns(db, owner.ID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	} else if n > 0 {
		fmt.Fprintf(os.Stderr, "  marked %d stale runs failed\n", n)
	}

	eng := engine.New(db, cfg.Heap.GC())
	eng.Owner = owner.ID
	eng.StartReaper(cfg.Sessions.IdleTimeout, cfg.Sessions.ReapInterval)
	defer eng.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "marksweep serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", path)
		fmt.Fprintf(os.Stderr, "  heap: stack %d, threshold %d, max objects %d\n",
			cfg.Heap.StackCapacity, cfg.Heap.InitialThreshold, cfg.Heap.MaxObjects)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
		return err
	}
	return nil
}

// recoverRuns fails the active runs whose owning process is gone. Runs of
// a live run, bench or prompt keep going.
func recoverRuns(db *store.DB, self string) (int64, error) {
	return db.FailStaleRuns(func(owner string) bool {
		return owner == self || store.OwnerAlive(db.Path, owner)
	})
}
