package profile

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go.klb.dev/clipkeep/internal/model"
)

// GormStore keeps profiles in the app_profiles table of a history database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db. The table must already be migrated.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context) (map[string]Profile, error) {
	var rows []model.ApplicationProfile
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load app profiles: %w", err)
	}
	out := make(map[string]Profile, len(rows))
	for _, r := range rows {
		out[r.App] = Profile{App: r.App, Enabled: r.Enabled, Formats: r.Formats}
	}
	return out, nil
}

// Save upserts every profile in one transaction.
func (s *GormStore) Save(ctx context.Context, profiles map[string]Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	rows := make([]model.ApplicationProfile, 0, len(profiles))
	for key, p := range profiles {
		rows = append(rows, model.ApplicationProfile{
			App:     key,
			Enabled: p.Enabled,
			Formats: p.Formats,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "formats"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("save app profiles: %w", err)
	}
	return nil
}
