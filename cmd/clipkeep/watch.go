package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/admin"
	"go.klb.dev/clipkeep/internal/capture"
	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/coordinator"
	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/logging"
	"go.klb.dev/clipkeep/internal/profile"
	"go.klb.dev/clipkeep/internal/retention"
	"go.klb.dev/clipkeep/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the capture daemon",
		Long: `Watches the system clipboard and stores every change in the history
database. Status, tail, pause and resume talk to this daemon over its local
socket.

Config file search order:
  /etc/clipkeep/clipkeep.toml
  $HOME/.config/clipkeep/clipkeep.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPKEEP_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runWatch(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.Int("channel-capacity", capture.DefaultCapacity, "captures queued before the oldest is dropped")
	f.String("metrics-addr", "", "serve /metrics, /healthz and /status on this address (empty = off)")
	f.Bool("no-profiles", false, "ignore application profiles for this session")
	f.Bool("headless", false, "use an in-memory clipboard instead of the system one")
	addStoreFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runWatch(ctx context.Context, v *viper.Viper) error {
	setupLogging(v)
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	log := logging.For("daemon")

	reg := store.NewRegistry(cfg.RegistryOptions())
	defer func() {
		if err := reg.Close(); err != nil {
			log.Error("closing databases failed", "err", err)
		}
	}()
	db, err := reg.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	filter, err := profile.NewFilter(ctx, profile.NewGormStore(db.Gorm()))
	if err != nil {
		return err
	}
	filter.SetEnabled(cfg.Profiles)

	var backend clip.Backend
	if v.GetBool("headless") {
		backend = clip.NewMemory()
	} else {
		backend = clip.New()
	}
	defer backend.Close()

	bus := events.New()
	ch := capture.NewChannel(cfg.ChannelCapacity)
	watcher := capture.NewWatcher(backend, filter, ch, capture.Options{
		ReadyTimeout: cfg.ReadyTimeout,
		Bus:          bus,
	})
	enforcer := retention.New(bus)
	coord := coordinator.New(ch, db, enforcer, coordinator.Options{Bus: bus, Rules: cfg.Exclusions})

	d := &daemon{
		backend:  backend.Name(),
		dataDir:  cfg.DataDir,
		db:       db,
		filter:   filter,
		watcher:  watcher,
		coord:    coord,
		enforcer: enforcer,
		bus:      bus,
		started:  time.Now(),
		log:      log,
	}

	log.Info("clipkeep starting",
		"version", Version,
		"backend", d.backend,
		"db", db.Key,
		"data_dir", cfg.DataDir,
		"profiles", cfg.Profiles,
		"capacity", cfg.ChannelCapacity,
	)

	// The drain loop outlives the signal so Stop can flush the backlog.
	if err := coord.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := watcher.StartMonitoring(ctx); err != nil {
		return err
	}

	ipcLn, err := ipc.Listen()
	if err != nil {
		log.Warn("IPC socket unavailable", "err", err)
	} else {
		log.Info("IPC socket listening", "path", ipc.SocketPath())
		go d.serveIPC(ctx, ipcLn)
	}

	adminErr := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		srv := admin.New(cfg.MetricsAddr, d.status)
		go func() { adminErr <- srv.Run(ctx) }()
	}

	go d.maintain(ctx, cfg.MaintenanceInterval)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-adminErr:
		log.Error("admin server failed", "err", runErr)
	}

	if ipcLn != nil {
		_ = ipcLn.Close()
	}
	return errors.Join(runErr, shutdown(watcher, coord, log))
}

// shutdown stops capturing first, then gives the coordinator a bounded
// window to store what is still queued.
func shutdown(w *capture.Watcher, c *coordinator.Coordinator, log *slog.Logger) error {
	w.StopMonitoring()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		log.Warn("capture backlog abandoned", "queued", w.Channel().Len(), "err", err)
		return fmt.Errorf("stop coordinator: %w", err)
	}
	return nil
}
