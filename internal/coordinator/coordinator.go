// Package coordinator is the consumer half of the capture pipeline. It
// drains the capture channel one draft at a time and stores each draft in
// its own unit of work.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipkeep/internal/capture"
	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/logging"
	"go.klb.dev/clipkeep/internal/metrics"
	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/retention"
	"go.klb.dev/clipkeep/internal/store"
)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("coordinator: already running")

// Outcome classifies what happened to one draft.
type Outcome string

const (
	Stored    Outcome = "stored"
	Duplicate Outcome = "duplicate"
	Excluded  Outcome = "excluded"
	Bounced   Outcome = "bounced"
	Failed    Outcome = "failed"
)

// Result is the outcome of processing one draft.
type Result struct {
	Outcome    Outcome
	ClipID     uint
	Collection uint
	Evicted    int
}

// Stats counts outcomes since the coordinator was created.
type Stats struct {
	Processed  uint64 `json:"processed"`
	Stored     uint64 `json:"stored"`
	Duplicates uint64 `json:"duplicates"`
	Excluded   uint64 `json:"excluded"`
	Bounced    uint64 `json:"bounced"`
	Failed     uint64 `json:"failed"`
}

// Options tune a Coordinator.
type Options struct {
	Bus   *events.Bus
	Rules []Rule
}

// Coordinator stores drafts from a capture channel into one database.
type Coordinator struct {
	ch       *capture.Channel
	db       *store.Database
	enforcer *retention.Enforcer
	bus      *events.Bus
	rules    []Rule
	log      *slog.Logger

	exclusions atomic.Pointer[ExclusionList]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	processed, stored, duplicates, excluded, bounced, failed atomic.Uint64
}

// New returns a coordinator. Call Start to begin draining ch.
func New(ch *capture.Channel, db *store.Database, enforcer *retention.Enforcer, opts Options) *Coordinator {
	return &Coordinator{
		ch:       ch,
		db:       db,
		enforcer: enforcer,
		bus:      opts.Bus,
		rules:    opts.Rules,
		log:      logging.For("coordinator"),
	}
}

// ReloadExclusions recompiles the configured rules together with the
// database's enabled application filters.
func (c *Coordinator) ReloadExclusions(ctx context.Context) error {
	var rows []model.ExclusionFilter
	err := c.db.Do(ctx, func(s *store.Session) error {
		var err error
		rows, err = s.ExclusionFilters()
		return err
	})
	if err != nil {
		return err
	}
	rules := append(append([]Rule(nil), c.rules...), RulesFromFilters(rows)...)
	l, err := NewExclusionList(rules)
	if err != nil {
		return err
	}
	c.exclusions.Store(l)
	c.log.Debug("exclusions loaded", "rules", l.Len())
	return nil
}

// Start loads the exclusions and launches the drain loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}
	if err := c.ReloadExclusions(ctx); err != nil {
		return fmt.Errorf("load exclusions: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)

	c.log.Info("capture coordinator started", "db", c.db.Key)
	return nil
}

// Stop completes the channel and waits for the backlog to drain. If ctx
// ends first the in-flight unit of work is cancelled and rolled back.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	c.ch.Complete()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		err = ctx.Err()
	}
	cancel()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	st := c.Stats()
	c.log.Info("capture coordinator stopped", "processed", st.Processed, "abandoned", c.ch.Len(), "err", err)
	return err
}

// Exclusions returns the number of active exclusion rules.
func (c *Coordinator) Exclusions() int { return c.exclusions.Load().Len() }

// Done is closed when the drain loop exits.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Stats returns a snapshot of the outcome counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Processed:  c.processed.Load(),
		Stored:     c.stored.Load(),
		Duplicates: c.duplicates.Load(),
		Excluded:   c.excluded.Load(),
		Bounced:    c.bounced.Load(),
		Failed:     c.failed.Load(),
	}
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		d, err := c.ch.Next(ctx)
		if err != nil {
			if !errors.Is(err, capture.ErrDrained) && !errors.Is(err, context.Canceled) {
				c.log.Error("capture channel read failed", "err", err)
			}
			return
		}
		metrics.QueueDepth.Set(float64(c.ch.Len()))
		c.handle(ctx, d)
	}
}

// handle is the per-item boundary: nothing that goes wrong with one draft
// escapes it.
func (c *Coordinator) handle(ctx context.Context, d *capture.Draft) {
	start := time.Now()
	c.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			metrics.Failed.Inc()
			c.log.Error("panic while storing capture", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	res, err := c.Process(ctx, d)
	metrics.ProcessSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		c.failed.Add(1)
		metrics.Failed.Inc()
		c.log.Error("storing capture failed", "draft", d.ID, "app", d.Source.App, "types", d.FormatNames(), "err", err)
		if c.bus != nil {
			c.bus.Publish(events.Event{Topic: events.TopicFailed, Database: c.db.Key, Title: d.Title, Source: d.Source.App, Detail: err.Error()})
		}
		return
	}

	switch res.Outcome {
	case Stored:
		c.stored.Add(1)
	case Duplicate:
		c.duplicates.Add(1)
	case Excluded:
		c.excluded.Add(1)
	case Bounced:
		c.bounced.Add(1)
	}
}

// Process runs one draft through exclusion, duplicate resolution, routing,
// persistence and retention. Everything it writes commits together or not
// at all.
func (c *Coordinator) Process(ctx context.Context, d *capture.Draft) (Result, error) {
	if rule, ok := c.exclusions.Load().Match(d.Source); ok {
		metrics.Excluded.Inc()
		c.log.Debug("capture excluded", "app", d.Source.App, "title", d.Source.Title, "rule", rule.String())
		c.publish(events.Event{Topic: events.TopicExcluded, Source: d.Source.App, Detail: rule.String()})
		return Result{Outcome: Excluded}, nil
	}
	if c.db.ReadOnly {
		return Result{}, fmt.Errorf("database %q: %w", c.db.Key, store.ErrReadOnly)
	}

	var res Result
	err := c.db.Do(ctx, func(s *store.Session) error {
		id, found, err := s.FindByHash(d.Hash)
		if err != nil {
			return err
		}
		if found {
			existing, err := s.Touch(id, store.Recapture{At: d.CapturedAt, Source: d.Source, Title: d.Title})
			if err != nil {
				return err
			}
			res = Result{Outcome: Duplicate, ClipID: id, Collection: existing.CollectionID}
			return nil
		}

		dest, err := s.ResolveDestination()
		if err != nil {
			return err
		}
		row := &model.Clip{
			CollectionID: dest.ID,
			Title:        d.Title,
			Hash:         d.Hash,
			Kind:         d.Kind,
			CapturedAt:   d.CapturedAt,
			SortKey:      d.CapturedAt.UnixMilli(),
			SourceApp:    d.Source.App,
			SourceTitle:  d.Source.Title,
			SourceURL:    d.Source.URL,
		}
		id, err = s.Persist(row, d.Formats)
		if err != nil {
			return err
		}
		evicted, err := c.enforcer.EnforceOne(s, dest.ID)
		if err != nil {
			return fmt.Errorf("retention on %q: %w", dest.Title, err)
		}
		res = Result{Outcome: Stored, ClipID: id, Collection: dest.ID, Evicted: evicted}
		return nil
	})

	switch {
	case errors.Is(err, store.ErrNoDestination):
		metrics.Bounced.Inc()
		c.log.Warn("capture bounced, no collection accepts new clips", "db", c.db.Key, "app", d.Source.App, "title", d.Title)
		c.publish(events.Event{Topic: events.TopicBounced, Database: c.db.Key, Title: d.Title, Source: d.Source.App})
		return Result{Outcome: Bounced}, nil
	case err != nil:
		return Result{}, err
	}

	switch res.Outcome {
	case Duplicate:
		metrics.Duplicates.Inc()
		c.log.Debug("capture matched existing clip", "clip", res.ClipID, "hash", d.Hash.String())
		c.publish(events.Event{Topic: events.TopicUpdated, Database: c.db.Key, ClipID: res.ClipID, Collection: res.Collection, Title: d.Title, Source: d.Source.App})
	case Stored:
		metrics.Captured.Inc()
		c.log.Info("clip stored", "clip", res.ClipID, "collection", res.Collection, "kind", d.Kind, "formats", len(d.Formats), "size", d.Size(), "evicted", res.Evicted)
		c.publish(events.Event{Topic: events.TopicCaptured, Database: c.db.Key, ClipID: res.ClipID, Collection: res.Collection, Title: d.Title, Source: d.Source.App, Count: len(d.Formats)})
	}
	return res, nil
}

func (c *Coordinator) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
