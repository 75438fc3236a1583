package models

import "time"

// Secret is one flat key-value entry in the credential store.
// Keys follow the anypoint.* naming convention, see internal/secrets.
type Secret struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
