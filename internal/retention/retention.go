// Package retention keeps collections inside their configured limits by
// relocating excess clips to an overflow collection or the trashcan.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/logging"
	"go.klb.dev/clipkeep/internal/metrics"
	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/store"
)

// Enforcer applies MaxClips, MaxBytes and MaxAge limits.
type Enforcer struct {
	now func() time.Time
	bus *events.Bus
	log *slog.Logger
}

// New returns an enforcer. bus may be nil.
func New(bus *events.Bus) *Enforcer {
	return &Enforcer{now: time.Now, bus: bus, log: logging.For("retention")}
}

// WithClock replaces the clock used for MaxAge.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// EnforceOne brings one collection within its limits inside the caller's
// unit of work and returns how many clips it moved. Read-only, trashcan and
// virtual collections are never touched.
func (e *Enforcer) EnforceOne(s *store.Session, collectionID uint) (int, error) {
	col, err := s.Collection(collectionID)
	if err != nil {
		return 0, err
	}
	if !col.Retained() || !col.HasLimits() || s.Database().ReadOnly {
		return 0, nil
	}

	clips, err := s.OldestFirst(col.ID)
	if err != nil {
		return 0, err
	}
	victims := e.selectVictims(col, clips)
	if len(victims) == 0 {
		return 0, nil
	}

	toOverflow, toTrash, overflow, err := e.split(s, col, victims)
	if err != nil {
		return 0, err
	}
	if len(toOverflow) > 0 {
		if err := s.Relocate(overflow.ID, toOverflow...); err != nil {
			return 0, err
		}
		metrics.Relocated.WithLabelValues("overflow").Add(float64(len(toOverflow)))
	}
	if len(toTrash) > 0 {
		if err := s.SoftDelete(toTrash...); err != nil {
			return 0, err
		}
		metrics.Relocated.WithLabelValues("trash").Add(float64(len(toTrash)))
	}

	moved := len(toOverflow) + len(toTrash)
	e.log.Debug("retention applied",
		"db", s.Database().Key,
		"collection", col.Title,
		"overflow", len(toOverflow),
		"trashed", len(toTrash),
	)
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Topic:      events.TopicRelocated,
			Database:   s.Database().Key,
			Collection: col.ID,
			Title:      col.Title,
			Count:      moved,
		})
	}
	return moved, nil
}

// selectVictims returns the clips to evict, oldest first. clips must be ordered
// oldest first. Each limit is judged on its own; MaxBytes only counts clips
// MaxClips keeps.
func (e *Enforcer) selectVictims(col model.Collection, clips []model.Clip) []model.Clip {
	evict := make([]bool, len(clips))

	if col.MaxClips > 0 && len(clips) > col.MaxClips {
		for i := range len(clips) - col.MaxClips {
			evict[i] = true
		}
	}

	if col.MaxBytes > 0 {
		var total int64
		for i, c := range clips {
			if !evict[i] {
				total += c.Size
			}
		}
		for i := 0; i < len(clips) && total > col.MaxBytes; i++ {
			if !evict[i] {
				evict[i] = true
				total -= clips[i].Size
			}
		}
	}

	if col.MaxAgeDays > 0 {
		cutoff := e.now().AddDate(0, 0, -col.MaxAgeDays)
		for i, c := range clips {
			if c.CapturedAt.Before(cutoff) {
				evict[i] = true
			}
		}
	}

	var out []model.Clip
	for i, c := range clips {
		if evict[i] {
			out = append(out, c)
		}
	}
	return out
}

// split sends the newest victims to the overflow collection while it has
// room and soft-deletes the rest. Room is bounded by both the overflow's
// MaxClips and MaxBytes.
func (e *Enforcer) split(s *store.Session, col model.Collection, victims []model.Clip) (toOverflow, toTrash []uint, overflow model.Collection, err error) {
	room, byteRoom := 0, int64(-1)
	if col.OverflowID != nil && *col.OverflowID != col.ID {
		overflow, err = s.Collection(*col.OverflowID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			e.log.Warn("overflow collection missing, trashing instead", "collection", col.Title, "overflow_id", *col.OverflowID)
			err = nil
		case err != nil:
			return nil, nil, overflow, err
		case !overflow.Retained():
		default:
			room = len(victims)
			if overflow.MaxClips > 0 {
				n, cerr := s.CountClips(overflow.ID)
				if cerr != nil {
					return nil, nil, overflow, cerr
				}
				room = min(room, max(overflow.MaxClips-int(n), 0))
			}
			if overflow.MaxBytes > 0 {
				used, serr := s.UsedBytes(overflow.ID)
				if serr != nil {
					return nil, nil, overflow, serr
				}
				byteRoom = max(overflow.MaxBytes-used, 0)
			}
		}
	}

	cut := len(victims)
	for cut > 0 && len(victims)-cut < room {
		size := victims[cut-1].Size
		if byteRoom >= 0 {
			if size > byteRoom {
				break
			}
			byteRoom -= size
		}
		cut--
	}
	for _, c := range victims[:cut] {
		toTrash = append(toTrash, c.ID)
	}
	for _, c := range victims[cut:] {
		toOverflow = append(toOverflow, c.ID)
	}
	return toOverflow, toTrash, overflow, nil
}

// EnforceAll applies EnforceOne to every collection of d, each in its own
// unit of work, and sums the moves. A failing collection does not stop the
// others.
func (e *Enforcer) EnforceAll(ctx context.Context, d *store.Database) (int, error) {
	if d.ReadOnly {
		return 0, nil
	}
	var cols []model.Collection
	err := d.Do(ctx, func(s *store.Session) error {
		var err error
		cols, err = s.Collections()
		return err
	})
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, col := range cols {
		if !col.Retained() || !col.HasLimits() {
			continue
		}
		var n int
		err := d.Do(ctx, func(s *store.Session) error {
			var err error
			n, err = e.EnforceOne(s, col.ID)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("collection %q: %w", col.Title, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}
