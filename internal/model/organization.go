package model

import (
	"time"

	"gorm.io/gorm"
)

// Membership roles, in increasing order of privilege.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

type Organization struct {
	gorm.Model
	Name    string `json:"name" gorm:"not null"`
	Slug    string `json:"slug" gorm:"uniqueIndex;not null"`
	OwnerID uint   `json:"owner_id" gorm:"not null"`

	Owner       User         `json:"-" gorm:"foreignKey:OwnerID"`
	Memberships []Membership `json:"-"`
}

// Membership links a user to an organization with a role.
type Membership struct {
	gorm.Model
	OrganizationID uint   `json:"organization_id" gorm:"uniqueIndex:idx_membership_org_user;not null"`
	UserID         uint   `json:"user_id" gorm:"uniqueIndex:idx_membership_org_user;not null"`
	Role           string `json:"role" gorm:"default:'member';not null"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
	User         User         `json:"-" gorm:"foreignKey:UserID"`
}

func (m *Membership) IsAdmin() bool {
	return m.Role == RoleAdmin || m.Role == RoleOwner
}

// Invitation is a pending, token-verified offer to join an organization.
type Invitation struct {
	gorm.Model
	OrganizationID uint       `json:"organization_id" gorm:"not null"`
	Email          string     `json:"email" gorm:"index;not null"`
	Role           string     `json:"role" gorm:"default:'member';not null"`
	Token          string     `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at"`

	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"`
}

func (i *Invitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}
