// Package domain contains the read-only ledger models backing
// protocol generation. Ledger rows are produced by operational work
// outside this core and are never written here.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Entry is one billable-work record.
type Entry struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	SubjectID        snowflake.ID `gorm:"not null;index" json:"subject_id"`
	SubjectType      string       `gorm:"type:text;not null" json:"subject_type"`
	CompetencePeriod string       `gorm:"type:text;not null" json:"competence_period"`
	Amount           int64        `gorm:"not null" json:"amount"`
	DocumentCount    int64        `gorm:"not null;default:0" json:"document_count"`
	CompletedAt      *time.Time   `gorm:"" json:"completed_at"`
	ContactInfo      string       `gorm:"type:text;not null;default:''" json:"contact_info"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

// Repository queries billable-work rows for generation.
type Repository interface {
	// ListCompleted returns entries with a completion marker for the
	// given subject type and competence period, optionally narrowed to
	// a set of subjects.
	ListCompleted(ctx context.Context, subjectType, period string, subjectIDs []snowflake.ID) ([]Entry, error)
}
