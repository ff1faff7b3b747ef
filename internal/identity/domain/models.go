// Package domain contains persistence models for identity resolution.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role is the back-office role attached to a user account.
type Role string

const (
	RoleProvider   Role = "provider"
	RoleReviewer   Role = "reviewer"
	RoleOperations Role = "operations"
	RoleMaster     Role = "master"
	RoleOwner      Role = "owner"
)

// ApprovalStatus is the account vetting state.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// User is a resolved actor identity. This core only ever reads users.
type User struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	DisplayName    string         `gorm:"type:text;not null" json:"display_name"`
	Email          string         `gorm:"type:text;not null" json:"email"`
	Role           Role           `gorm:"type:text;not null" json:"role"`
	ApprovalStatus ApprovalStatus `gorm:"type:text;not null;default:'pending'" json:"approval_status"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// IsApprover reports whether the role may act as a settlement approver.
func (r Role) IsApprover() bool { return r == RoleMaster || r == RoleOwner }

var ErrNotFound = errors.New("user_not_found")
