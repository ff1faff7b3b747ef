package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Action is one workflow verb from the per-type transition table.
type Action string

// Provider-flow actions.
const (
	ActionSubmit             Action = "submit"
	ActionTier1Approve       Action = "tier1_approve"
	ActionReturnToSubject    Action = "return_to_subject"
	ActionResubmit           Action = "resubmit"
	ActionSubjectSubmit      Action = "subject_submit"
	ActionConfirmSubjectData Action = "confirm_subject_data"
	ActionTier2Approve       Action = "tier2_approve"
	ActionApproveManual      Action = "approve_manual"
)

// Reviewer-flow actions.
const (
	ActionSubmitForApproval   Action = "submit_for_approval"
	ActionAssignOperator      Action = "assign_operator"
	ActionInsertData          Action = "insert_data"
	ActionTier2InitialApprove Action = "tier2_initial_approve"
	ActionFinalApprove        Action = "final_approve"
)

// Shared actions.
const (
	ActionMarkPaid Action = "mark_paid"
	ActionCancel   Action = "cancel"
)

// GenerateRequest asks for protocols covering one competence period.
type GenerateRequest struct {
	Type       ProtocolType
	Period     string
	SubjectIDs []snowflake.ID
	Preview    bool
	ActorID    snowflake.ID
}

// SubjectOutcome reports one subject's result within a generation batch.
type SubjectOutcome struct {
	SubjectID      snowflake.ID `json:"subject_id"`
	Outcome        string       `json:"outcome"` // created | skipped
	Reason         string       `json:"reason,omitempty"`
	ProtocolID     snowflake.ID `json:"protocol_id,omitempty"`
	ProtocolNumber int64        `json:"protocol_number,omitempty"`
	TotalAmount    int64        `json:"total_amount"`
	ItemCount      int64        `json:"item_count"`
}

const (
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
)

// GenerateResponse is the partial-failure batch summary.
type GenerateResponse struct {
	Created  int              `json:"created"`
	Skipped  int              `json:"skipped"`
	Subjects []SubjectOutcome `json:"subjects"`
}

// GeneratorService creates draft individual protocols from ledger data.
type GeneratorService interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// TransitionRequest advances one protocol through its workflow.
type TransitionRequest struct {
	ProtocolID snowflake.ID
	Action     Action
	ActorID    snowflake.ID

	// Action-specific payloads.
	Reason           string       // return_to_subject
	Note             string       // approve_manual
	AssigneeID       snowflake.ID // assign_operator
	PaymentReference string       // mark_paid
	PaymentDetails   []byte       // subject_submit / approve_manual (JSON)
}

// WorkflowService validates and applies role-gated transitions.
type WorkflowService interface {
	Transition(ctx context.Context, req TransitionRequest) (Protocol, error)
	Get(ctx context.Context, id snowflake.ID) (Protocol, error)
	List(ctx context.Context, req ListProtocolsRequest) ([]Protocol, error)
	// Delete removes a protocol; an explicit administrative action
	// restricted to owners and non-live records.
	Delete(ctx context.Context, id, actorID snowflake.ID) error
}

// ListProtocolsRequest filters the protocol listing.
type ListProtocolsRequest struct {
	Type   ProtocolType
	Period string
	Status ProtocolStatus
}

// Event is one derived workflow history entry. Events are never
// persisted; they are reconstructed from stage timestamps on demand.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// TimelineService derives an ordered event history for a protocol.
type TimelineService interface {
	Reconstruct(ctx context.Context, protocol Protocol) ([]Event, error)
}

// ConsolidationOutcome tags the result of a consolidation attempt.
type ConsolidationOutcome string

const (
	ConsolidationCreated       ConsolidationOutcome = "created"
	ConsolidationAlreadyExists ConsolidationOutcome = "already_exists"
	ConsolidationNotReady      ConsolidationOutcome = "not_ready"
)

// ConsolidateResult is the outcome of AttemptConsolidate.
type ConsolidateResult struct {
	Outcome      ConsolidationOutcome  `json:"outcome"`
	Reason       string                `json:"reason,omitempty"`
	Consolidated *ConsolidatedProtocol `json:"consolidated,omitempty"`
}

// ConsolidationService aggregates approved protocols of a period.
type ConsolidationService interface {
	CanConsolidate(ctx context.Context, protocolType ProtocolType, period string) (bool, error)
	AttemptConsolidate(ctx context.Context, protocolType ProtocolType, period string, actorID snowflake.ID) (ConsolidateResult, error)
	Approve(ctx context.Context, id, actorID snowflake.ID) (ConsolidatedProtocol, error)
	MarkPaid(ctx context.Context, id, actorID snowflake.ID, paymentReference string) (ConsolidatedProtocol, error)
	Supersede(ctx context.Context, id, actorID snowflake.ID) (ConsolidatedProtocol, error)
	Get(ctx context.Context, id snowflake.ID) (ConsolidatedProtocol, error)
	List(ctx context.Context, period string) ([]ConsolidatedProtocol, error)
}
