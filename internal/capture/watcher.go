package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/logging"
	"go.klb.dev/clipkeep/internal/metrics"
	"go.klb.dev/clipkeep/internal/model"
)

// ErrStopped is returned by StartMonitoring after the watcher has been
// stopped; its channel is completed and cannot be reused.
var ErrStopped = errors.New("capture: watcher stopped")

// State is the watcher lifecycle state.
type State int32

const (
	Stopped State = iota
	Monitoring
)

func (s State) String() string {
	if s == Monitoring {
		return "monitoring"
	}
	return "stopped"
}

// Allower decides whether a format offered by app should be extracted.
type Allower interface {
	Allows(app, format string) bool
}

// DefaultReadyTimeout bounds the wait for a Readier backend.
const DefaultReadyTimeout = 2 * time.Second

const readyPoll = 25 * time.Millisecond

// Options tune a Watcher. The zero value is usable.
type Options struct {
	ReadyTimeout time.Duration
	Bus          *events.Bus
	Now          func() time.Time
}

// Watcher observes the clipboard and publishes one draft per change. Change
// notifications only raise a signal; extraction runs on the watcher's own
// goroutine.
type Watcher struct {
	backend clip.Backend
	filter  Allower
	ch      *Channel
	opts    Options
	log     *slog.Logger

	mu     sync.Mutex
	state  State
	used   bool
	stop   chan struct{}
	done   chan struct{}
	paused atomic.Bool
	notify chan struct{}

	captures atomic.Uint64
}

// NewWatcher wires a watcher to its backend, filter and output channel.
func NewWatcher(backend clip.Backend, filter Allower, ch *Channel, opts Options) *Watcher {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watcher{
		backend: backend,
		filter:  filter,
		ch:      ch,
		opts:    opts,
		log:     logging.For("watcher"),
		notify:  make(chan struct{}, 1),
	}
}

// Channel returns the channel drafts are published to.
func (w *Watcher) Channel() *Channel { return w.ch }

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Captures returns how many drafts have been published.
func (w *Watcher) Captures() uint64 { return w.captures.Load() }

// StartMonitoring subscribes to backend change signals. Calling it while
// already monitoring is a no-op.
func (w *Watcher) StartMonitoring(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Monitoring {
		return nil
	}
	if w.used {
		return ErrStopped
	}
	w.used = true
	w.state = Monitoring
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.run(ctx, w.stop, w.done)
	w.log.Info("clipboard monitoring started", "backend", w.backend.Name())
	return nil
}

// StopMonitoring unsubscribes, waits for an in-flight capture to finish and
// completes the channel. Queued drafts stay available to the consumer.
func (w *Watcher) StopMonitoring() {
	w.mu.Lock()
	if w.state != Monitoring {
		w.mu.Unlock()
		w.ch.Complete()
		return
	}
	stop, done := w.stop, w.done
	w.state = Stopped
	w.mu.Unlock()

	close(stop)
	<-done
	w.ch.Complete()
	w.log.Info("clipboard monitoring stopped", "captures", w.captures.Load(), "queued", w.ch.Len())
}

// Notify asks the watcher to inspect the clipboard now. It never blocks and
// coalesces with any pending request.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// SetPaused suspends or resumes capturing without unsubscribing.
func (w *Watcher) SetPaused(paused bool) {
	if w.paused.Swap(paused) == paused {
		return
	}
	w.log.Info("capture pause toggled", "paused", paused)
	if w.opts.Bus != nil {
		w.opts.Bus.Publish(events.Event{Topic: events.TopicPaused, Detail: boolDetail(paused)})
	}
}

// Paused reports whether capture is suspended.
func (w *Watcher) Paused() bool { return w.paused.Load() }

func (w *Watcher) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	changes := w.backend.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-changes:
		case <-w.notify:
		}
		if w.paused.Load() {
			w.log.Debug("clipboard change ignored while paused")
			continue
		}
		w.captureOnce(ctx)
	}
}

// captureOnce turns the current clipboard contents into a draft.
func (w *Watcher) captureOnce(ctx context.Context) {
	w.awaitReady(ctx)

	offered, err := w.backend.Formats()
	if err != nil {
		w.log.Warn("enumerating clipboard formats failed", "err", err)
		return
	}
	if len(offered) == 0 {
		return
	}

	src := w.backend.Foreground()
	payloads := make([]model.Payload, 0, len(offered))
	for _, f := range offered {
		if !w.filter.Allows(src.App, f.Name) {
			continue
		}
		data, err := w.backend.Extract(f.Code)
		if err != nil {
			metrics.ExtractFailures.Inc()
			w.log.Warn("format extraction failed, omitting", "format", f.Name, "code", f.Code, "app", src.App, "err", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		payloads = append(payloads, model.Payload{
			Code:    f.Code,
			Name:    f.Name,
			Storage: model.StorageFor(f.Name),
			Data:    data,
		})
	}

	d := NewDraft(src, w.opts.Now(), payloads)
	if d == nil {
		w.log.Debug("no approved formats on clipboard", "app", src.App, "offered", len(offered))
		return
	}
	w.publish(d)
}

func (w *Watcher) publish(d *Draft) {
	evicted, err := w.ch.Publish(d)
	if err != nil {
		w.log.Debug("draft discarded after channel completion", "draft", d.ID)
		return
	}
	w.captures.Add(1)
	metrics.QueueDepth.Set(float64(w.ch.Len()))

	w.log.Info("clipboard captured", "app", d.Source.App, "types", d.FormatNames(), "kind", d.Kind)
	if logging.DebugEnabled() {
		primary, _ := model.Primary(d.Formats)
		if primary.Storage == model.StorageText {
			w.log.Debug("capture preview", "preview", logging.Preview(primary.Data, 120))
		} else {
			w.log.Debug("capture preview", "format", primary.Name, "size_bytes", len(primary.Data))
		}
	}

	if evicted != nil {
		metrics.Dropped.Inc()
		w.log.Debug("capture channel full, oldest draft dropped", "dropped", evicted.ID, "captured_at", evicted.CapturedAt)
		if w.opts.Bus != nil {
			w.opts.Bus.Publish(events.Event{Topic: events.TopicDropped, Title: evicted.Title, Source: evicted.Source.App})
		}
	}
}

// awaitReady polls a Readier backend until it reports ready or the timeout
// expires, then proceeds regardless.
func (w *Watcher) awaitReady(ctx context.Context) {
	r, ok := w.backend.(clip.Readier)
	if !ok || r.Ready() {
		return
	}
	timer := time.NewTimer(w.opts.ReadyTimeout)
	defer timer.Stop()
	tick := time.NewTicker(readyPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.log.Warn("clipboard backend not ready, capturing without it", "timeout", w.opts.ReadyTimeout)
			return
		case <-tick.C:
			if r.Ready() {
				return
			}
		}
	}
}

func boolDetail(b bool) string {
	if b {
		return "paused"
	}
	return "resumed"
}
