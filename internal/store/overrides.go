package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// OverrideStore provides category override persistence. It satisfies the
// classifier's OverrideStore interface.
type OverrideStore struct {
	store *Store
}

// NewOverrideStore creates a new override store.
func NewOverrideStore(store *Store) *OverrideStore {
	return &OverrideStore{store: store}
}

// SetOverride upserts a subject -> category mapping.
func (s *OverrideStore) SetOverride(ctx context.Context, subject, category string) error {
	row := &CategoryOverride{
		Subject:   subject,
		Category:  category,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}
	err := s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject"}},
			DoUpdates: clause.AssignmentColumns([]string{"category", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

// DeleteOverride removes a subject's override. Removing a missing subject is
// a no-op.
func (s *OverrideStore) DeleteOverride(ctx context.Context, subject string) error {
	err := s.store.DB.WithContext(ctx).
		Where("subject = ?", subject).
		Delete(&CategoryOverride{}).Error
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

// AllOverrides returns the full override map.
func (s *OverrideStore) AllOverrides(ctx context.Context) (map[string]string, error) {
	var rows []CategoryOverride
	if err := s.store.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Subject] = r.Category
	}
	return out, nil
}
