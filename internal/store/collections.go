package store

import (
	"fmt"
	"strings"

	"go.klb.dev/clipkeep/internal/model"
)

// Collection loads one collection by id.
func (s *Session) Collection(id uint) (model.Collection, error) {
	var c model.Collection
	if err := s.tx.First(&c, id).Error; err != nil {
		return model.Collection{}, fmt.Errorf("collection %d: %w", id, notFound(err))
	}
	return c, nil
}

// CollectionByTitle finds a collection by case-insensitive title.
func (s *Session) CollectionByTitle(title string) (model.Collection, error) {
	var cols []model.Collection
	if err := s.tx.Where("lower(title) = ?", strings.ToLower(title)).Order("id").Limit(1).Find(&cols).Error; err != nil {
		return model.Collection{}, fmt.Errorf("find collection %q: %w", title, err)
	}
	if len(cols) == 0 {
		return model.Collection{}, fmt.Errorf("collection %q: %w", title, ErrNotFound)
	}
	return cols[0], nil
}

// Collections returns every collection in sort order.
func (s *Session) Collections() ([]model.Collection, error) {
	var cols []model.Collection
	if err := s.tx.Order("sort_key, id").Find(&cols).Error; err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return cols, nil
}

// CreateCollection inserts c, placing it last when no sort key is given.
// New collections are never active; use SetActive.
func (s *Session) CreateCollection(c *model.Collection) error {
	if err := s.writable(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("collection title is empty: %w", ErrValidation)
	}
	if c.Kind == "" {
		c.Kind = model.CollectionNormal
	}
	switch c.Kind {
	case model.CollectionNormal, model.CollectionFolder, model.CollectionOverflow:
	case model.CollectionVirtual:
		if err := s.d.validator.Validate(expandTemplate(c.QueryTemplate, s.d.now(), c.MaxAgeDays)); err != nil {
			return err
		}
		c.AcceptsNewClips = false
	case model.CollectionTrashcan:
		return fmt.Errorf("a database has exactly one trashcan: %w", ErrValidation)
	default:
		return fmt.Errorf("collection kind %q: %w", c.Kind, ErrValidation)
	}
	if c.ParentID != nil {
		if _, err := s.Collection(*c.ParentID); err != nil {
			return err
		}
	}
	if c.SortKey == 0 {
		var last int
		if err := s.tx.Model(&model.Collection{}).Select("COALESCE(MAX(sort_key), 0)").Scan(&last).Error; err != nil {
			return fmt.Errorf("next sort key: %w", err)
		}
		c.SortKey = last + 1
	}
	c.ID = 0
	c.Active = false
	if err := s.tx.Create(c).Error; err != nil {
		return fmt.Errorf("create collection %q: %w", c.Title, err)
	}
	return nil
}

// SetActive makes id the single active collection.
func (s *Session) SetActive(id uint) error {
	if err := s.writable(); err != nil {
		return err
	}
	c, err := s.Collection(id)
	if err != nil {
		return err
	}
	if c.ReadOnly {
		return fmt.Errorf("collection %q: %w", c.Title, ErrReadOnly)
	}
	if c.Kind == model.CollectionVirtual || c.Kind == model.CollectionTrashcan {
		return fmt.Errorf("collection %q of kind %s cannot be active: %w", c.Title, c.Kind, ErrValidation)
	}
	if err := s.tx.Model(&model.Collection{}).Where("active = ?", true).Update("active", false).Error; err != nil {
		return fmt.Errorf("clear active collection: %w", err)
	}
	if err := s.tx.Model(&model.Collection{}).Where("id = ?", id).Update("active", true).Error; err != nil {
		return fmt.Errorf("activate collection %d: %w", id, err)
	}
	return nil
}

// SetRetention replaces a collection's limits and overflow target.
func (s *Session) SetRetention(id uint, r Retention, overflow *uint) error {
	if err := s.writable(); err != nil {
		return err
	}
	if r.MaxClips < 0 || r.MaxBytes < 0 || r.MaxAgeDays < 0 {
		return fmt.Errorf("negative retention limit: %w", ErrValidation)
	}
	if overflow != nil {
		if *overflow == id {
			return fmt.Errorf("collection %d cannot overflow into itself: %w", id, ErrValidation)
		}
		if _, err := s.Collection(*overflow); err != nil {
			return err
		}
	}
	res := s.tx.Model(&model.Collection{}).Where("id = ?", id).Updates(map[string]any{
		"max_clips":    r.MaxClips,
		"max_bytes":    r.MaxBytes,
		"max_age_days": r.MaxAgeDays,
		"overflow_id":  overflow,
	})
	if res.Error != nil {
		return fmt.Errorf("set retention of collection %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetCollectionReadOnly toggles the read-only flag. An active collection
// loses its active status when it becomes read-only.
func (s *Session) SetCollectionReadOnly(id uint, on bool) error {
	if err := s.writable(); err != nil {
		return err
	}
	updates := map[string]any{"read_only": on}
	if on {
		updates["active"] = false
	}
	res := s.tx.Model(&model.Collection{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set read-only on collection %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	return nil
}

// ExclusionFilters returns the enabled application filters.
func (s *Session) ExclusionFilters() ([]model.ExclusionFilter, error) {
	var rows []model.ExclusionFilter
	if err := s.tx.Where("enabled = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load exclusion filters: %w", err)
	}
	return rows, nil
}

// AddExclusionFilter stores an enabled application filter.
func (s *Session) AddExclusionFilter(process, titlePattern string) (model.ExclusionFilter, error) {
	if err := s.writable(); err != nil {
		return model.ExclusionFilter{}, err
	}
	if process == "" && titlePattern == "" {
		return model.ExclusionFilter{}, fmt.Errorf("exclusion needs a process or a title pattern: %w", ErrValidation)
	}
	f := model.ExclusionFilter{Process: process, TitlePattern: titlePattern, Enabled: true}
	if err := s.tx.Create(&f).Error; err != nil {
		return model.ExclusionFilter{}, fmt.Errorf("add exclusion filter: %w", err)
	}
	return f, nil
}
