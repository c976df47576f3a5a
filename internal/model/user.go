package model

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Password string `json:"-" gorm:"not null"`
	Name     string `json:"name"`

	IsVerified bool `json:"is_verified" gorm:"default:false"`

	// Single-use login/reset tokens. Cleared on consumption.
	MagicLinkToken       *string    `json:"-" gorm:"index"`
	MagicLinkExpiresAt   *time.Time `json:"-"`
	PasswordResetToken   *string    `json:"-" gorm:"index"`
	PasswordResetExpires *time.Time `json:"-"`

	Memberships []Membership `json:"-"`
}

func (u *User) PublicProfile() map[string]interface{} {
	return map[string]interface{}{
		"id":          u.ID,
		"email":       u.Email,
		"name":        u.Name,
		"is_verified": u.IsVerified,
	}
}
