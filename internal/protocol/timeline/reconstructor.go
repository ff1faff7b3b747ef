// Package timeline derives a protocol's workflow history from its
// stage timestamps. There is no independent event log; this is the
// single derivation point, so display code never re-implements event
// ordering.
package timeline

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/lingora/internal/identity/domain"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// stage is one entry of the fixed per-type catalog. Declaration order
// breaks timestamp ties, which keeps reconstruction deterministic.
type stage struct {
	label string
	at    func(domain.Protocol) *time.Time
	by    func(domain.Protocol) *snowflake.ID
	note  func(domain.Protocol) string
}

func noNote(domain.Protocol) string { return "" }

var providerCatalog = []stage{
	{label: "generated", at: createdAt, by: createdBy, note: noNote},
	{label: "submitted", at: func(p domain.Protocol) *time.Time { return p.SubmittedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.SubmittedBy }, note: noNote},
	{label: "tier1_approved", at: func(p domain.Protocol) *time.Time { return p.Tier1ApprovedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.Tier1ApprovedBy }, note: noNote},
	{label: "returned_to_subject", at: func(p domain.Protocol) *time.Time { return p.ReturnedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.ReturnedBy }, note: returnNote},
	{label: "resubmitted", at: func(p domain.Protocol) *time.Time { return p.ResubmittedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.ResubmittedBy }, note: noNote},
	{label: "subject_data_submitted", at: func(p domain.Protocol) *time.Time { return p.SubjectSubmittedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.SubjectSubmittedBy }, note: noNote},
	{label: "data_confirmed", at: func(p domain.Protocol) *time.Time { return p.DataConfirmedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.DataConfirmedBy }, note: noNote},
	{label: "approved", at: func(p domain.Protocol) *time.Time { return p.ApprovedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.ApprovedBy }, note: approvalNote},
	{label: "paid", at: func(p domain.Protocol) *time.Time { return p.PaidAt }, by: func(p domain.Protocol) *snowflake.ID { return p.PaidBy }, note: paymentNote},
	{label: "cancelled", at: func(p domain.Protocol) *time.Time { return p.CancelledAt }, by: func(p domain.Protocol) *snowflake.ID { return p.CancelledBy }, note: noNote},
}

var reviewerCatalog = []stage{
	{label: "generated", at: createdAt, by: createdBy, note: noNote},
	{label: "submitted_for_approval", at: func(p domain.Protocol) *time.Time { return p.SubmittedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.SubmittedBy }, note: noNote},
	{label: "tier1_approved", at: func(p domain.Protocol) *time.Time { return p.Tier1ApprovedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.Tier1ApprovedBy }, note: assignmentNote},
	{label: "data_inserted", at: func(p domain.Protocol) *time.Time { return p.DataInsertedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.DataInsertedBy }, note: noNote},
	{label: "tier2_initial_approved", at: func(p domain.Protocol) *time.Time { return p.InitialApprovedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.InitialApprovedBy }, note: noNote},
	{label: "final_approved", at: func(p domain.Protocol) *time.Time { return p.ApprovedAt }, by: func(p domain.Protocol) *snowflake.ID { return p.ApprovedBy }, note: noNote},
	{label: "paid", at: func(p domain.Protocol) *time.Time { return p.PaidAt }, by: func(p domain.Protocol) *snowflake.ID { return p.PaidBy }, note: paymentNote},
	{label: "cancelled", at: func(p domain.Protocol) *time.Time { return p.CancelledAt }, by: func(p domain.Protocol) *snowflake.ID { return p.CancelledBy }, note: noNote},
}

func createdAt(p domain.Protocol) *time.Time { t := p.CreatedAt; return &t }
func createdBy(p domain.Protocol) *snowflake.ID {
	id := p.CreatedBy
	return &id
}

func returnNote(p domain.Protocol) string {
	if p.ReturnReason != nil {
		return *p.ReturnReason
	}
	return ""
}

func approvalNote(p domain.Protocol) string {
	if p.ManuallyApproved && p.ApprovalNote != nil {
		return *p.ApprovalNote
	}
	return ""
}

func paymentNote(p domain.Protocol) string {
	if p.PaymentReference != nil {
		return "payment reference " + *p.PaymentReference
	}
	return ""
}

func assignmentNote(p domain.Protocol) string {
	if p.AssignedOperatorID != nil {
		return "operator " + p.AssignedOperatorID.String() + " assigned"
	}
	return ""
}

type ServiceParam struct {
	fx.In

	Log         *zap.Logger
	IdentitySvc identitydomain.Service
}

type Service struct {
	log         *zap.Logger
	identitySvc identitydomain.Service
}

func NewService(p ServiceParam) domain.TimelineService {
	return &Service{
		log:         p.Log.Named("protocol.timeline"),
		identitySvc: p.IdentitySvc,
	}
}

// Reconstruct emits one event per stamped stage, ascending by
// timestamp with catalog order breaking ties.
func (s *Service) Reconstruct(ctx context.Context, protocol domain.Protocol) ([]domain.Event, error) {
	catalog := providerCatalog
	if protocol.Type == domain.ProtocolTypeReviewer {
		catalog = reviewerCatalog
	}

	events := make([]domain.Event, 0, len(catalog))
	for _, st := range catalog {
		at := st.at(protocol)
		if at == nil {
			continue
		}
		event := domain.Event{
			Timestamp: *at,
			Action:    st.label,
			Note:      st.note(protocol),
		}
		if by := st.by(protocol); by != nil {
			event.Actor = s.resolveActor(ctx, *by)
		}
		events = append(events, event)
	}

	// Events were built in catalog order; a stable sort on timestamp
	// alone preserves that order for ties.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (s *Service) resolveActor(ctx context.Context, id snowflake.ID) string {
	user, err := s.identitySvc.Resolve(ctx, id)
	if err != nil {
		// A purged account still leaves a usable breadcrumb.
		return id.String()
	}
	return user.DisplayName
}
