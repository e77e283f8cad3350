package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"go.klb.dev/clipkeep/internal/model"
)

// Titles of the collections every database starts with.
const (
	InboxTitle    = "Inbox"
	OverflowTitle = "Overflow"
	SafeTitle     = "Safe"
	TrashTitle    = "Trashcan"
)

// seed creates the standard collections in an empty database.
func seed(ctx context.Context, db *gorm.DB, inbox Retention) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Collection{}).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		overflow := model.Collection{Title: OverflowTitle, Kind: model.CollectionOverflow, SortKey: 2}
		if err := tx.Create(&overflow).Error; err != nil {
			return fmt.Errorf("create %s: %w", OverflowTitle, err)
		}
		rest := []model.Collection{
			{
				Title:           InboxTitle,
				Kind:            model.CollectionNormal,
				SortKey:         1,
				AcceptsNewClips: true,
				Active:          true,
				MaxClips:        inbox.MaxClips,
				MaxBytes:        inbox.MaxBytes,
				MaxAgeDays:      inbox.MaxAgeDays,
				OverflowID:      &overflow.ID,
			},
			{Title: SafeTitle, Kind: model.CollectionNormal, SortKey: 3},
			{Title: TrashTitle, Kind: model.CollectionTrashcan, SortKey: 4},
		}
		if err := tx.Create(&rest).Error; err != nil {
			return fmt.Errorf("create default collections: %w", err)
		}
		return nil
	})
}
