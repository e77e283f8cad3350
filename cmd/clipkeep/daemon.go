package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"go.klb.dev/clipkeep/internal/capture"
	"go.klb.dev/clipkeep/internal/coordinator"
	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/profile"
	"go.klb.dev/clipkeep/internal/retention"
	"go.klb.dev/clipkeep/internal/store"
	"go.klb.dev/clipkeep/internal/wire"
)

const (
	ipcReadTimeout = 5 * time.Second
	subscriberBuf  = 64
)

// daemon is the running capture pipeline as seen by IPC clients and the
// admin server.
type daemon struct {
	backend  string
	dataDir  string
	db       *store.Database
	filter   *profile.Filter
	watcher  *capture.Watcher
	coord    *coordinator.Coordinator
	enforcer *retention.Enforcer
	bus      *events.Bus
	started  time.Time
	log      *slog.Logger
}

func (d *daemon) status() message.Status {
	ch := d.watcher.Channel()
	st := d.coord.Stats()
	out := message.Status{
		Version:    Version,
		PID:        os.Getpid(),
		StartedAt:  d.started,
		Backend:    d.backend,
		Database:   d.db.Key,
		DataDir:    d.dataDir,
		State:      d.watcher.State().String(),
		Paused:     d.watcher.Paused(),
		Profiles:   d.filter.Enabled(),
		Queued:     ch.Len(),
		Capacity:   ch.Cap(),
		Dropped:    ch.Dropped(),
		Captures:   d.watcher.Captures(),
		Processed:  st.Processed,
		Stored:     st.Stored,
		Duplicates: st.Duplicates,
		Excluded:   st.Excluded,
		Bounced:    st.Bounced,
		Failed:     st.Failed,
		Exclusions: d.coord.Exclusions(),
	}
	if e, ok := d.bus.Latest(events.TopicCaptured); ok {
		out.LastCapture = &e
	}
	return out
}

// maintain runs retention over every collection now and then every interval.
func (d *daemon) maintain(ctx context.Context, interval time.Duration) {
	d.enforceAll(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.enforceAll(ctx)
		}
	}
}

func (d *daemon) enforceAll(ctx context.Context) (int, error) {
	n, err := d.enforcer.EnforceAll(ctx, d.db)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error("retention maintenance failed", "moved", n, "err", err)
	} else if n > 0 {
		d.log.Info("retention maintenance", "moved", n)
	}
	return n, err
}

func (d *daemon) serveIPC(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				d.log.Warn("IPC accept failed", "err", err)
			}
			return
		}
		go d.handleIPCConn(ctx, conn)
	}
}

func (d *daemon) handleIPCConn(ctx context.Context, conn net.Conn) {
	wc := wire.New(conn)
	defer wc.Close()

	wc.SetReadDeadline(ipcReadTimeout)
	msg, err := wc.ReadMsg()
	if err != nil {
		d.log.Debug("IPC read failed", "err", err)
		return
	}
	wc.SetReadDeadline(0)
	d.log.Debug("IPC request", "type", msg.Type)

	var reply *message.Message
	switch msg.Type {
	case message.TypeStatus:
		st := d.status()
		reply = &message.Message{Type: message.TypeStatusResponse, Status: &st}

	case message.TypePause, message.TypeResume:
		d.watcher.SetPaused(msg.Type == message.TypePause)
		reply = &message.Message{Type: message.TypeOK}

	case message.TypeEnforce:
		n, err := d.enforceAll(ctx)
		if err != nil {
			reply = message.Errorf("enforce: %v", err)
		} else {
			reply = &message.Message{Type: message.TypeOK, Count: n}
		}

	case message.TypeReload:
		if err := d.coord.ReloadExclusions(ctx); err != nil {
			reply = message.Errorf("reload exclusions: %v", err)
		} else {
			reply = &message.Message{Type: message.TypeOK, Count: d.coord.Exclusions()}
		}

	case message.TypeSubscribe:
		d.stream(ctx, wc, msg.Topics)
		return

	default:
		reply = message.Errorf("unsupported request %q", msg.Type)
	}
	if err := wc.WriteMsg(reply); err != nil {
		d.log.Debug("IPC write failed", "err", err)
	}
}

// stream forwards bus events to an IPC client until either side goes away.
func (d *daemon) stream(ctx context.Context, wc *wire.Conn, topics []string) {
	sub := events.NewChanSubscriber(subscriberBuf)
	d.bus.Subscribe(sub, topics...)
	defer d.bus.Unsubscribe(sub)

	if err := wc.WriteMsg(&message.Message{Type: message.TypeOK}); err != nil {
		return
	}

	// The client never sends after SUBSCRIBE; a read returning means it hung up.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = wc.ReadMsg()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case e := <-sub.C():
			if err := wc.WriteMsg(&message.Message{Type: message.TypeEvent, Event: &e}); err != nil {
				return
			}
		}
	}
}
