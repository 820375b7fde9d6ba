package model

import (
	"time"

	"gorm.io/gorm"
)

// Project represents one logical, isolated unit of data ownership, mapped to
// exactly one backing store. Stored in the control-plane database.
type Project struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null"`
	Description   string         `json:"description" gorm:"type:text"`
	OwnerID       uint           `json:"owner_id" gorm:"index;not null"`
	BackingMode   BackingMode    `json:"backing_mode" gorm:"type:varchar(20);not null"`
	BackingConfig string         `json:"-" gorm:"type:text;not null"`
	IsPersonal    bool           `json:"is_personal" gorm:"default:false"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// Config deserializes the stored backing configuration.
func (p *Project) Config() (*BackingConfig, error) {
	return ParseBackingConfig(p.BackingConfig)
}

// SetConfig serializes the backing configuration into the model.
func (p *Project) SetConfig(cfg *BackingConfig) error {
	raw, err := cfg.Marshal()
	if err != nil {
		return err
	}
	p.BackingConfig = raw
	return nil
}
