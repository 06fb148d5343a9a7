package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RefreshToken struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	SecretHash string     `gorm:"type:text;not null;uniqueIndex"` // SHA256 of the raw secret, never the secret itself
	IssuedAt   time.Time  `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time  `gorm:"not null;index"`
	LastUsedAt *time.Time // Set when the token is presented for rotation, NULL until then
	RevokedAt  *time.Time `gorm:"index"`           // NULL if not revoked; never cleared once set
	ParentID   *uuid.UUID `gorm:"type:uuid;index"` // Token this one was rotated from; NULL marks a lineage root
	DeviceID   string     `gorm:"size:100"`
	ClientIP   string     `gorm:"size:45"` // IPv6 support
	UserAgent  string     `gorm:"type:text"`

	// Foreign Keys
	User   User          `gorm:"foreignKey:UserID"`
	Parent *RefreshToken `gorm:"foreignKey:ParentID"`
}

func (rt *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	return nil
}

// IsValid checks if refresh token is still usable
func (rt *RefreshToken) IsValid() bool {
	return time.Now().Before(rt.ExpiresAt) && rt.RevokedAt == nil
}

// IsRoot reports whether this token started its lineage (a fresh login)
func (rt *RefreshToken) IsRoot() bool {
	return rt.ParentID == nil
}

// WasUsed reports whether this exact token was ever presented for rotation
func (rt *RefreshToken) WasUsed() bool {
	return rt.LastUsedAt != nil
}
