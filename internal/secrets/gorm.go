package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/mulekit/anypoint-hub/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists secrets in the Secret table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an initialized database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	var secret models.Secret
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&secret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read secret %q: %w", key, err)
	}
	return secret.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string) error {
	secret := models.Secret{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&secret).Error
	if err != nil {
		return fmt.Errorf("write secret %q: %w", key, err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Secret{}).Error
	if err != nil {
		return fmt.Errorf("delete secret %q: %w", key, err)
	}
	return nil
}
