package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name            string    `gorm:"size:50;not null"`
	Email           string    `gorm:"size:255;not null;uniqueIndex"`
	Phone           string    `gorm:"size:20"` // Used by the booking/SMS flows, not by auth
	IsEmailVerified bool      `gorm:"default:false"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`

	Credentials   []Credential   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;"`
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;"`
	Roles         []Role         `gorm:"many2many:user_roles;constraint:OnDelete:CASCADE;"`
}

func (u *User) BeforeCreate(_ *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return
}

// RoleCodes flattens the user's roles for token claims
func (u *User) RoleCodes() []string {
	var codes []string
	for _, r := range u.Roles {
		codes = append(codes, r.Code)
	}
	return codes
}
