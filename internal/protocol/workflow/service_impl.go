package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/lingora/internal/audit/domain"
	"github.com/smallbiznis/lingora/internal/clock"
	identitydomain "github.com/smallbiznis/lingora/internal/identity/domain"
	"github.com/smallbiznis/lingora/internal/notifier"
	"github.com/smallbiznis/lingora/internal/observability/metrics"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	IdentitySvc identitydomain.Service
	AuditSvc    auditdomain.Service
	Notifier    notifier.Notifier
	Metrics     *metrics.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	identitySvc identitydomain.Service
	auditSvc    auditdomain.Service
	notifier    notifier.Notifier
	metrics     *metrics.Metrics
}

func NewService(p ServiceParam) domain.WorkflowService {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("protocol.workflow"),
		clock:       p.Clock,
		identitySvc: p.IdentitySvc,
		auditSvc:    p.AuditSvc,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

// Transition applies one workflow action all-or-nothing. The update is
// optimistic: it is guarded on the status read at validation time, so
// the slower of two racing writers re-resolves to ErrInvalidTransition
// instead of silently overwriting.
func (s *Service) Transition(ctx context.Context, req domain.TransitionRequest) (domain.Protocol, error) {
	actor, err := s.identitySvc.Resolve(ctx, req.ActorID)
	if err != nil {
		if errors.Is(err, identitydomain.ErrNotFound) {
			return domain.Protocol{}, domain.ErrNotFound
		}
		return domain.Protocol{}, err
	}

	protocol, err := s.Get(ctx, req.ProtocolID)
	if err != nil {
		return domain.Protocol{}, err
	}

	table, ok := transitionTables[protocol.Type]
	if !ok {
		return domain.Protocol{}, domain.ErrValidation
	}
	r, ok := table[req.Action]
	if !ok {
		return domain.Protocol{}, domain.ErrInvalidTransition
	}

	if !r.allowsRole(actor.Role) {
		return domain.Protocol{}, domain.ErrUnauthorizedAction
	}
	if r.subjectOnly && actor.ID != protocol.SubjectID {
		return domain.Protocol{}, domain.ErrUnauthorizedAction
	}
	if r.assigneeOnly && (protocol.AssignedOperatorID == nil || *protocol.AssignedOperatorID != actor.ID) {
		return domain.Protocol{}, domain.ErrUnauthorizedAction
	}

	if protocol.Status.IsTerminal() || !r.allowsFrom(protocol.Status) {
		return domain.Protocol{}, domain.ErrInvalidTransition
	}

	updates, auditMeta, err := s.buildUpdates(ctx, req, protocol, r)
	if err != nil {
		return domain.Protocol{}, err
	}
	updates["status"] = r.to
	updates["updated_at"] = s.clock.Now()

	result := s.db.WithContext(ctx).
		Model(&domain.Protocol{}).
		Where("id = ? AND status = ?", protocol.ID, protocol.Status).
		Updates(updates)
	if result.Error != nil {
		return domain.Protocol{}, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the race: the row moved under us.
		return domain.Protocol{}, domain.ErrInvalidTransition
	}

	updated, err := s.Get(ctx, protocol.ID)
	if err != nil {
		return domain.Protocol{}, err
	}

	s.metrics.Transitions.WithLabelValues(string(updated.Type), string(req.Action)).Inc()
	s.emitAudit(ctx, req, protocol.Status, updated, auditMeta)
	s.emitNotification(ctx, req.Action, updated)

	s.log.Info("transition applied",
		zap.String("protocol_id", updated.ID.String()),
		zap.String("action", string(req.Action)),
		zap.String("from", string(protocol.Status)),
		zap.String("to", string(updated.Status)),
	)
	return updated, nil
}

// buildUpdates stamps the one timestamp/actor pair owned by the action.
// Stamps are write-once: a field set by an earlier pass through the
// resubmission loop is never overwritten.
func (s *Service) buildUpdates(ctx context.Context, req domain.TransitionRequest, protocol domain.Protocol, r rule) (map[string]any, map[string]any, error) {
	now := s.clock.Now()
	actorID := req.ActorID
	updates := map[string]any{}
	auditMeta := map[string]any{}

	stamp := func(atColumn, byColumn string, atSet bool) {
		if atSet {
			return
		}
		updates[atColumn] = now
		updates[byColumn] = actorID
	}

	switch req.Action {
	case domain.ActionSubmit, domain.ActionSubmitForApproval:
		stamp("submitted_at", "submitted_by", protocol.SubmittedAt != nil)

	case domain.ActionTier1Approve:
		stamp("tier1_approved_at", "tier1_approved_by", protocol.Tier1ApprovedAt != nil)

	case domain.ActionReturnToSubject:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return nil, nil, domain.ErrValidation
		}
		stamp("returned_at", "returned_by", protocol.ReturnedAt != nil)
		if protocol.ReturnReason == nil {
			updates["return_reason"] = reason
		}
		auditMeta["reason"] = reason

	case domain.ActionResubmit:
		stamp("resubmitted_at", "resubmitted_by", protocol.ResubmittedAt != nil)

	case domain.ActionSubjectSubmit:
		stamp("subject_submitted_at", "subject_submitted_by", protocol.SubjectSubmittedAt != nil)
		if len(req.PaymentDetails) > 0 {
			updates["payment_details"] = req.PaymentDetails
		}

	case domain.ActionConfirmSubjectData:
		stamp("data_confirmed_at", "data_confirmed_by", protocol.DataConfirmedAt != nil)

	case domain.ActionTier2Approve:
		stamp("approved_at", "approved_by", protocol.ApprovedAt != nil)

	case domain.ActionApproveManual:
		// The bypassed self-service step normally supplies the payment
		// data, so manual approval demands it up front.
		if len(protocol.PaymentDetails) == 0 && len(req.PaymentDetails) == 0 {
			return nil, nil, domain.ErrValidation
		}
		if len(req.PaymentDetails) > 0 {
			updates["payment_details"] = req.PaymentDetails
		}
		stamp("approved_at", "approved_by", protocol.ApprovedAt != nil)
		updates["manually_approved"] = true
		note := strings.TrimSpace(req.Note)
		if note == "" {
			note = "approved manually by approver, bypassing subject self-service"
		}
		if protocol.ApprovalNote == nil {
			updates["approval_note"] = note
		}
		auditMeta["approver_initiated"] = true
		auditMeta["note"] = note

	case domain.ActionAssignOperator:
		if req.AssigneeID == 0 {
			return nil, nil, domain.ErrValidation
		}
		assignee, err := s.identitySvc.Resolve(ctx, req.AssigneeID)
		if err != nil {
			if errors.Is(err, identitydomain.ErrNotFound) {
				return nil, nil, domain.ErrNotFound
			}
			return nil, nil, err
		}
		if assignee.Role != identitydomain.RoleOperations ||
			assignee.ApprovalStatus != identitydomain.ApprovalStatusApproved {
			return nil, nil, domain.ErrValidation
		}
		stamp("tier1_approved_at", "tier1_approved_by", protocol.Tier1ApprovedAt != nil)
		updates["assigned_operator_id"] = assignee.ID
		auditMeta["assigned_operator_id"] = assignee.ID.String()

	case domain.ActionInsertData:
		stamp("data_inserted_at", "data_inserted_by", protocol.DataInsertedAt != nil)

	case domain.ActionTier2InitialApprove:
		stamp("initial_approved_at", "initial_approved_by", protocol.InitialApprovedAt != nil)

	case domain.ActionFinalApprove:
		stamp("approved_at", "approved_by", protocol.ApprovedAt != nil)

	case domain.ActionMarkPaid:
		// Records that payment already happened operationally; nothing
		// is triggered downstream.
		if protocol.TotalAmount <= 0 {
			return nil, nil, domain.ErrValidation
		}
		stamp("paid_at", "paid_by", protocol.PaidAt != nil)
		if ref := strings.TrimSpace(req.PaymentReference); ref != "" && protocol.PaymentReference == nil {
			updates["payment_reference"] = ref
			auditMeta["payment_reference"] = ref
		}

	case domain.ActionCancel:
		stamp("cancelled_at", "cancelled_by", protocol.CancelledAt != nil)

	default:
		return nil, nil, domain.ErrInvalidTransition
	}

	return updates, auditMeta, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Protocol, error) {
	var protocol domain.Protocol
	err := s.db.WithContext(ctx).First(&protocol, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Protocol{}, domain.ErrNotFound
		}
		return domain.Protocol{}, err
	}
	return protocol, nil
}

func (s *Service) List(ctx context.Context, req domain.ListProtocolsRequest) ([]domain.Protocol, error) {
	stmt := s.db.WithContext(ctx).Order("competence_period, protocol_number")
	if req.Type != "" {
		stmt = stmt.Where("type = ?", req.Type)
	}
	if req.Period != "" {
		stmt = stmt.Where("competence_period = ?", req.Period)
	}
	if req.Status != "" {
		stmt = stmt.Where("status = ?", req.Status)
	}

	var protocols []domain.Protocol
	if err := stmt.Find(&protocols).Error; err != nil {
		return nil, err
	}
	return protocols, nil
}

// Delete is the explicit administrative removal path. It is restricted
// to owners and to records that never went live.
func (s *Service) Delete(ctx context.Context, id, actorID snowflake.ID) error {
	actor, err := s.identitySvc.Resolve(ctx, actorID)
	if err != nil {
		if errors.Is(err, identitydomain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	if actor.Role != identitydomain.RoleOwner {
		return domain.ErrUnauthorizedAction
	}

	protocol, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if protocol.Status != domain.StatusDraft && protocol.Status != domain.StatusCancelled {
		return domain.ErrInvalidTransition
	}

	if err := s.db.WithContext(ctx).Delete(&domain.Protocol{}, "id = ?", id).Error; err != nil {
		return err
	}

	if s.auditSvc == nil {
		return nil
	}
	targetID := id.String()
	_ = s.auditSvc.AuditLog(ctx, &actorID, "protocol.deleted", "protocol", &targetID, map[string]any{
		"type":       string(protocol.Type),
		"subject_id": protocol.SubjectID.String(),
		"period":     protocol.CompetencePeriod,
		"status":     string(protocol.Status),
	})
	return nil
}

func (s *Service) emitAudit(ctx context.Context, req domain.TransitionRequest, from domain.ProtocolStatus, updated domain.Protocol, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"type":            string(updated.Type),
		"subject_id":      updated.SubjectID.String(),
		"period":          updated.CompetencePeriod,
		"previous_status": string(from),
		"status":          string(updated.Status),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	targetID := updated.ID.String()
	actorID := req.ActorID
	_ = s.auditSvc.AuditLog(ctx, &actorID, fmt.Sprintf("protocol.%s", req.Action), "protocol", &targetID, metadata)
}

func (s *Service) emitNotification(ctx context.Context, action domain.Action, protocol domain.Protocol) {
	if s.notifier == nil {
		return
	}
	switch action {
	case domain.ActionReturnToSubject:
		s.notifier.Notify(ctx, notifier.Intent{
			Kind:       notifier.KindResendSubjectLink,
			ProtocolID: protocol.ID,
			SubjectID:  protocol.SubjectID,
			Period:     protocol.CompetencePeriod,
		})
	case domain.ActionMarkPaid:
		s.notifier.Notify(ctx, notifier.Intent{
			Kind:       notifier.KindPaymentRecorded,
			ProtocolID: protocol.ID,
			SubjectID:  protocol.SubjectID,
			Period:     protocol.CompetencePeriod,
		})
	}
}
