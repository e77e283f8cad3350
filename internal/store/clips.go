package store

import (
	"fmt"
	"slices"

	"go.klb.dev/clipkeep/internal/model"
)

// Clip loads one clip by id.
func (s *Session) Clip(id uint) (model.Clip, error) {
	var c model.Clip
	if err := s.tx.First(&c, id).Error; err != nil {
		return model.Clip{}, fmt.Errorf("clip %d: %w", id, notFound(err))
	}
	return c, nil
}

// List returns up to limit clips of a collection, newest first. A Trashcan
// lists every soft-deleted clip and a Virtual collection runs its query.
func (s *Session) List(collectionID uint, limit int) ([]model.Clip, error) {
	col, err := s.Collection(collectionID)
	if err != nil {
		return nil, err
	}
	switch col.Kind {
	case model.CollectionVirtual:
		return s.VirtualClips(col, limit)
	case model.CollectionTrashcan:
		return s.Trash(limit)
	}

	q := s.tx.Where("collection_id = ? AND deleted = ?", collectionID, false).
		Order("captured_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var clips []model.Clip
	if err := q.Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("list collection %d: %w", collectionID, err)
	}
	return clips, nil
}

// Trash returns soft-deleted clips, most recently deleted first.
func (s *Session) Trash(limit int) ([]model.Clip, error) {
	q := s.tx.Where("deleted = ?", true).Order("deleted_on DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var clips []model.Clip
	if err := q.Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("list trash: %w", err)
	}
	return clips, nil
}

// OldestFirst returns the non-deleted clips of a collection in capture order.
func (s *Session) OldestFirst(collectionID uint) ([]model.Clip, error) {
	var clips []model.Clip
	if err := s.tx.Where("collection_id = ? AND deleted = ?", collectionID, false).Find(&clips).Error; err != nil {
		return nil, fmt.Errorf("load clips of collection %d: %w", collectionID, err)
	}
	slices.SortStableFunc(clips, func(a, b model.Clip) int {
		if c := a.CapturedAt.Compare(b.CapturedAt); c != 0 {
			return c
		}
		return int(a.ID) - int(b.ID)
	})
	return clips, nil
}

// CountClips returns the number of non-deleted clips in a collection.
func (s *Session) CountClips(collectionID uint) (int64, error) {
	var n int64
	err := s.tx.Model(&model.Clip{}).
		Where("collection_id = ? AND deleted = ?", collectionID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count collection %d: %w", collectionID, err)
	}
	return n, nil
}

// UsedBytes returns the total payload size of the non-deleted clips in a
// collection.
func (s *Session) UsedBytes(collectionID uint) (int64, error) {
	var n int64
	err := s.tx.Model(&model.Clip{}).
		Select("COALESCE(SUM(size), 0)").
		Where("collection_id = ? AND deleted = ?", collectionID, false).
		Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("size of collection %d: %w", collectionID, err)
	}
	return n, nil
}

// Rename sets a user title; auto-retitle leaves it alone from then on.
func (s *Session) Rename(id uint, title string) error {
	return s.updateClip(id, map[string]any{"title": title, "custom_title": true})
}

// SetFavorite flags or unflags a clip.
func (s *Session) SetFavorite(id uint, on bool) error {
	return s.updateClip(id, map[string]any{"favorite": on})
}

// Relocate moves clips to another collection.
func (s *Session) Relocate(to uint, ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.writable(); err != nil {
		return err
	}
	err := s.tx.Model(&model.Clip{}).Where("id IN ?", ids).Update("collection_id", to).Error
	if err != nil {
		return fmt.Errorf("relocate clips to %d: %w", to, err)
	}
	return nil
}

// SoftDelete moves clips to the Trashcan. They keep their collection so a
// restore puts them back where they were.
func (s *Session) SoftDelete(ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.writable(); err != nil {
		return err
	}
	now := s.d.now()
	res := s.tx.Model(&model.Clip{}).Where("id IN ? AND deleted = ?", ids, false).
		Updates(map[string]any{"deleted": true, "deleted_on": now})
	if res.Error != nil {
		return fmt.Errorf("soft delete clips: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("soft delete %v: %w", ids, ErrNotFound)
	}
	return nil
}

// Restore takes a clip out of the Trashcan.
func (s *Session) Restore(id uint) error {
	if err := s.writable(); err != nil {
		return err
	}
	res := s.tx.Model(&model.Clip{}).Where("id = ? AND deleted = ?", id, true).
		Updates(map[string]any{"deleted": false, "deleted_on": nil})
	if res.Error != nil {
		return fmt.Errorf("restore clip %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deleted clip %d: %w", id, ErrNotFound)
	}
	return nil
}

// EmptyTrash hard-deletes every soft-deleted clip.
func (s *Session) EmptyTrash() (int, error) {
	var ids []uint
	if err := s.tx.Model(&model.Clip{}).Where("deleted = ?", true).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("list trash: %w", err)
	}
	for i, id := range ids {
		if err := s.DeleteAll(id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

func (s *Session) updateClip(id uint, updates map[string]any) error {
	if err := s.writable(); err != nil {
		return err
	}
	res := s.tx.Model(&model.Clip{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update clip %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("clip %d: %w", id, ErrNotFound)
	}
	return nil
}
