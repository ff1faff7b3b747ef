// Package domain contains the settlement protocol models shared by the
// generator, workflow, consolidation and timeline services.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProtocolType distinguishes the two settlement flows.
type ProtocolType string

const (
	ProtocolTypeProvider ProtocolType = "provider"
	ProtocolTypeReviewer ProtocolType = "reviewer"
)

// ProtocolStatus is the lifecycle state of an individual protocol.
type ProtocolStatus string

// Provider-type states.
const (
	StatusDraft               ProtocolStatus = "draft"
	StatusAwaitingTier1       ProtocolStatus = "awaiting_tier1"
	StatusAwaitingSubjectData ProtocolStatus = "awaiting_subject_data"
	StatusReturnedToSubject   ProtocolStatus = "returned_to_subject"
	StatusSubjectSubmitted    ProtocolStatus = "subject_submitted"
	StatusAwaitingTier2       ProtocolStatus = "awaiting_tier2"
)

// Reviewer-type states.
const (
	StatusPendingApproval      ProtocolStatus = "pending_approval"
	StatusTier1Approved        ProtocolStatus = "tier1_approved"
	StatusDataInserted         ProtocolStatus = "data_inserted"
	StatusTier2InitialApproved ProtocolStatus = "tier2_initial_approved"
	StatusFinalApproved        ProtocolStatus = "final_approved"
)

// Shared terminal-side states.
const (
	StatusApproved  ProtocolStatus = "approved"
	StatusPaid      ProtocolStatus = "paid"
	StatusCancelled ProtocolStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the state.
func (s ProtocolStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// LineItem is one frozen ledger entry snapshot embedded in a protocol
// at generation time. Later ledger mutation never changes it.
type LineItem struct {
	LedgerEntryID snowflake.ID `json:"ledger_entry_id"`
	Amount        int64        `json:"amount"`
	DocumentCount int64        `json:"document_count"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// Protocol is a per-subject settlement record for one competence period.
type Protocol struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProtocolNumber   int64          `gorm:"not null" json:"protocol_number"`
	Type             ProtocolType   `gorm:"type:text;not null" json:"type"`
	SubjectID        snowflake.ID   `gorm:"not null;index" json:"subject_id"`
	CompetencePeriod string         `gorm:"type:text;not null" json:"competence_period"`
	Status           ProtocolStatus `gorm:"type:text;not null;default:'draft'" json:"status"`
	LineItems        datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"line_items"`
	TotalAmount      int64          `gorm:"not null;default:0" json:"total_amount"`
	ItemCount        int64          `gorm:"not null;default:0" json:"item_count"`
	PaymentDetails   datatypes.JSON `gorm:"type:jsonb" json:"payment_details,omitempty"`
	CreatedBy        snowflake.ID   `gorm:"not null" json:"created_by"`

	// Stage breadcrumbs. Each field is stamped exactly once by the
	// transition that owns it and never overwritten afterwards.
	SubmittedAt        *time.Time    `gorm:"" json:"submitted_at,omitempty"`
	SubmittedBy        *snowflake.ID `gorm:"" json:"submitted_by,omitempty"`
	Tier1ApprovedAt    *time.Time    `gorm:"" json:"tier1_approved_at,omitempty"`
	Tier1ApprovedBy    *snowflake.ID `gorm:"" json:"tier1_approved_by,omitempty"`
	ReturnedAt         *time.Time    `gorm:"" json:"returned_at,omitempty"`
	ReturnedBy         *snowflake.ID `gorm:"" json:"returned_by,omitempty"`
	ReturnReason       *string       `gorm:"type:text" json:"return_reason,omitempty"`
	ResubmittedAt      *time.Time    `gorm:"" json:"resubmitted_at,omitempty"`
	ResubmittedBy      *snowflake.ID `gorm:"" json:"resubmitted_by,omitempty"`
	SubjectSubmittedAt *time.Time    `gorm:"" json:"subject_submitted_at,omitempty"`
	SubjectSubmittedBy *snowflake.ID `gorm:"" json:"subject_submitted_by,omitempty"`
	DataConfirmedAt    *time.Time    `gorm:"" json:"data_confirmed_at,omitempty"`
	DataConfirmedBy    *snowflake.ID `gorm:"" json:"data_confirmed_by,omitempty"`
	AssignedOperatorID *snowflake.ID `gorm:"" json:"assigned_operator_id,omitempty"`
	DataInsertedAt     *time.Time    `gorm:"" json:"data_inserted_at,omitempty"`
	DataInsertedBy     *snowflake.ID `gorm:"" json:"data_inserted_by,omitempty"`
	InitialApprovedAt  *time.Time    `gorm:"" json:"initial_approved_at,omitempty"`
	InitialApprovedBy  *snowflake.ID `gorm:"" json:"initial_approved_by,omitempty"`
	ApprovedAt         *time.Time    `gorm:"" json:"approved_at,omitempty"`
	ApprovedBy         *snowflake.ID `gorm:"" json:"approved_by,omitempty"`
	ManuallyApproved   bool          `gorm:"not null;default:false" json:"manually_approved"`
	ApprovalNote       *string       `gorm:"type:text" json:"approval_note,omitempty"`
	PaidAt             *time.Time    `gorm:"" json:"paid_at,omitempty"`
	PaidBy             *snowflake.ID `gorm:"" json:"paid_by,omitempty"`
	PaymentReference   *string       `gorm:"type:text" json:"payment_reference,omitempty"`
	CancelledAt        *time.Time    `gorm:"" json:"cancelled_at,omitempty"`
	CancelledBy        *snowflake.ID `gorm:"" json:"cancelled_by,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Protocol) TableName() string { return "protocols" }

// ConsolidatedStatus is the two-step consolidated lifecycle.
type ConsolidatedStatus string

const (
	ConsolidatedStatusDraft    ConsolidatedStatus = "draft"
	ConsolidatedStatusApproved ConsolidatedStatus = "approved"
	ConsolidatedStatusPaid     ConsolidatedStatus = "paid"
)

// ConsolidatedLine is one constituent summary row in the snapshot.
type ConsolidatedLine struct {
	ProtocolID     snowflake.ID `json:"protocol_id"`
	ProtocolNumber int64        `json:"protocol_number"`
	SubjectID      snowflake.ID `json:"subject_id"`
	TotalAmount    int64        `json:"total_amount"`
	ItemCount      int64        `json:"item_count"`
}

// ConsolidatedProtocol aggregates the approved individual protocols of
// one type and period into a single settlement unit.
type ConsolidatedProtocol struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	ProtocolNumber         int64              `gorm:"not null" json:"protocol_number"`
	Type                   ProtocolType       `gorm:"type:text;not null" json:"type"`
	CompetencePeriod       string             `gorm:"type:text;not null" json:"competence_period"`
	ConstituentProtocolIDs datatypes.JSON     `gorm:"type:jsonb;not null;default:'[]'" json:"constituent_protocol_ids"`
	TotalAmount            int64              `gorm:"not null;default:0" json:"total_amount"`
	SubjectCount           int64              `gorm:"not null;default:0" json:"subject_count"`
	ItemCount              int64              `gorm:"not null;default:0" json:"item_count"`
	Status                 ConsolidatedStatus `gorm:"type:text;not null;default:'draft'" json:"status"`
	SummarySnapshot        datatypes.JSON     `gorm:"type:jsonb;not null;default:'[]'" json:"summary_snapshot"`
	Superseded             bool               `gorm:"not null;default:false" json:"superseded"`
	ApprovedAt             *time.Time         `gorm:"" json:"approved_at,omitempty"`
	ApprovedBy             *snowflake.ID      `gorm:"" json:"approved_by,omitempty"`
	PaidAt                 *time.Time         `gorm:"" json:"paid_at,omitempty"`
	PaidBy                 *snowflake.ID      `gorm:"" json:"paid_by,omitempty"`
	PaymentReference       *string            `gorm:"type:text" json:"payment_reference,omitempty"`
	CreatedBy              snowflake.ID       `gorm:"not null" json:"created_by"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ConsolidatedProtocol) TableName() string { return "consolidated_protocols" }

// QualifiesForConsolidation reports whether the protocol may enter a
// consolidated settlement record. FinalApproved is the reviewer-flow
// equivalent of the provider-flow approved state.
func (p Protocol) QualifiesForConsolidation() bool {
	return p.Status == StatusApproved || p.Status == StatusFinalApproved || p.Status == StatusPaid
}
