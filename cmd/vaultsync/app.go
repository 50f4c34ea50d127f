package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/localstore"
	"github.com/vaultsync/vaultsync/internal/remote/githubapi"
	"github.com/vaultsync/vaultsync/internal/remote/gitstore"
	"github.com/vaultsync/vaultsync/internal/state"
	"github.com/vaultsync/vaultsync/internal/sync"
)

// app bundles one configured engine with its state store and lock.
type app struct {
	cfg    *config.Config
	engine *sync.Engine
	state  *state.Store
	lock   *flock.Flock
}

func newApp() (*app, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, err
	}

	ignore := localstore.NewIgnoreList(cfg.IgnoreGlobs...)
	if err := ignore.LoadFile(cfg.VaultDir); err != nil {
		return nil, fmt.Errorf("load ignore file: %w", err)
	}
	local := localstore.New(cfg.VaultDir, ignore)

	var remote sync.RemoteStore
	if cfg.RemoteDir != "" {
		remote, err = gitstore.Open(cfg.RemoteDir, cfg.Branch)
		if err != nil {
			return nil, err
		}
	} else {
		remote = githubapi.New(githubapi.Options{
			BaseURL: cfg.APIBaseURL,
			Owner:   cfg.Owner,
			Repo:    cfg.Repo,
			Branch:  cfg.Branch,
			Token:   cfg.Token,
		})
	}

	st, err := state.Open(cfg.StateDBPath())
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LockPath()), 0o755); err != nil {
		st.Close()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	return &app{
		cfg:    cfg,
		engine: sync.NewEngine(sync.Policy(cfg.Policy), local, remote, st),
		state:  st,
		lock:   flock.New(cfg.LockPath()),
	}, nil
}

func (a *app) close() {
	a.state.Close()
}

// acquireLock takes the cross-process single-instance lock; concurrent runs
// against the same vault must be serialized.
func (a *app) acquireLock() error {
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return errors.New("another vaultsync instance holds the lock for this vault")
	}
	return nil
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.acquireLock(); err != nil {
			return err
		}
		defer a.lock.Unlock()

		return a.engine.Sync(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.acquireLock(); err != nil {
			return err
		}
		defer a.lock.Unlock()

		ctx := cmd.Context()
		slog.Info("vaultsync running", "vault", a.cfg.VaultDir, "interval", a.cfg.Interval, "policy", a.cfg.Policy)

		runOnce(ctx, a.engine)

		// A timer rather than a ticker so a slow sync never queues ticks
		// behind itself.
		timer := time.NewTimer(a.cfg.Interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("vaultsync stopping")
				return nil
			case <-timer.C:
				runOnce(ctx, a.engine)
				timer.Reset(a.cfg.Interval)
			}
		}
	},
}

func runOnce(ctx context.Context, engine *sync.Engine) {
	err := engine.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case errors.Is(err, sync.ErrSyncAlreadyRunning):
		slog.Debug("sync still in progress, skipping tick")
	default:
		slog.Error("sync run failed", "error", err)
	}
}
