package retention

import (
	"context"
	"fmt"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/store"
)

func checkTarget(col model.Collection) error {
	if col.ReadOnly {
		return fmt.Errorf("collection %q: %w", col.Title, store.ErrReadOnly)
	}
	if col.Kind == model.CollectionVirtual || col.Kind == model.CollectionTrashcan {
		return fmt.Errorf("cannot move clips into %s collection %q: %w", col.Kind, col.Title, store.ErrValidation)
	}
	return nil
}

// Move relocates a clip within one database and enforces the target's
// limits in the same unit of work. It returns how many clips retention
// moved out of the target as a result.
func (e *Enforcer) Move(ctx context.Context, d *store.Database, clipID, to uint) (int, error) {
	var moved int
	err := d.Do(ctx, func(s *store.Session) error {
		target, err := s.Collection(to)
		if err != nil {
			return err
		}
		if err := checkTarget(target); err != nil {
			return err
		}
		c, err := s.Clip(clipID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return fmt.Errorf("clip %d is in the trashcan: %w", clipID, store.ErrValidation)
		}
		if err := s.Relocate(to, clipID); err != nil {
			return err
		}
		moved, err = e.EnforceOne(s, to)
		return err
	})
	return moved, err
}

// TransferResult reports the outcome of a cross-database transfer.
type TransferResult struct {
	ClipID    uint
	Duplicate bool
	Evicted   int
}

// Transfer copies a clip into a collection of another database. The
// duplicate check, insert and the target's retention run in one unit of
// work on dst. When move is set the source clip is deleted afterwards.
func (e *Enforcer) Transfer(ctx context.Context, src, dst *store.Database, clipID, to uint, move bool) (TransferResult, error) {
	if src == dst {
		n, err := e.Move(ctx, src, clipID, to)
		return TransferResult{ClipID: clipID, Evicted: n}, err
	}

	var (
		orig     model.Clip
		payloads []model.Payload
	)
	err := src.Do(ctx, func(s *store.Session) error {
		var err error
		if orig, err = s.Clip(clipID); err != nil {
			return err
		}
		formats, err := s.LoadFormats(clipID)
		if err != nil {
			return err
		}
		for _, f := range formats {
			payloads = append(payloads, f.Payload())
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("read from %q: %w", src.Key, err)
	}

	var res TransferResult
	err = dst.Do(ctx, func(s *store.Session) error {
		target, err := s.Collection(to)
		if err != nil {
			return err
		}
		if err := checkTarget(target); err != nil {
			return err
		}

		if id, ok, err := s.FindByHash(orig.Hash); err != nil {
			return err
		} else if ok {
			res = TransferResult{ClipID: id, Duplicate: true}
			_, err := s.Touch(id, store.Recapture{
				At:     orig.CapturedAt,
				Source: clip.Source{App: orig.SourceApp, Title: orig.SourceTitle, URL: orig.SourceURL},
			})
			return err
		}

		c := orig
		c.CollectionID = to
		c.FolderID = nil
		c.Deleted = false
		c.DeletedOn = nil
		id, err := s.Persist(&c, payloads)
		if err != nil {
			return err
		}
		n, err := e.EnforceOne(s, to)
		if err != nil {
			return err
		}
		res = TransferResult{ClipID: id, Evicted: n}
		return nil
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("write to %q: %w", dst.Key, err)
	}

	if move {
		if err := src.Do(ctx, func(s *store.Session) error { return s.DeleteAll(clipID) }); err != nil {
			return res, fmt.Errorf("remove from %q: %w", src.Key, err)
		}
	}
	e.log.Info("clip transferred", "from", src.Key, "to", dst.Key, "clip", clipID, "new_clip", res.ClipID, "move", move)
	return res, nil
}
