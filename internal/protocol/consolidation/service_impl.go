package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/lingora/internal/audit/domain"
	"github.com/smallbiznis/lingora/internal/clock"
	identitydomain "github.com/smallbiznis/lingora/internal/identity/domain"
	"github.com/smallbiznis/lingora/internal/observability/metrics"
	"github.com/smallbiznis/lingora/internal/protocol/aggregate"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"github.com/smallbiznis/lingora/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

const (
	reasonNoProtocols = "no qualifying protocols for period"
	reasonNotApproved = "not all qualifying protocols are approved"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	IdentitySvc identitydomain.Service
	AuditSvc    auditdomain.Service
	Metrics     *metrics.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	identitySvc identitydomain.Service
	auditSvc    auditdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p ServiceParam) domain.ConsolidationService {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("protocol.consolidation"),
		clock:       p.Clock,
		genID:       p.GenID,
		identitySvc: p.IdentitySvc,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) CanConsolidate(ctx context.Context, protocolType domain.ProtocolType, period string) (bool, error) {
	if err := validate(protocolType, period); err != nil {
		return false, err
	}

	existing, err := s.findLiveConsolidated(ctx, protocolType, period)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	protocols, err := s.listLiveProtocols(ctx, protocolType, period)
	if err != nil {
		return false, err
	}
	return qualifies(protocols) == "", nil
}

// AttemptConsolidate folds every approved individual protocol of the
// period into one consolidated settlement record, exactly once. A
// repeat call, or the loser of a concurrent race, gets the existing
// record back instead of an error.
func (s *Service) AttemptConsolidate(ctx context.Context, protocolType domain.ProtocolType, period string, actorID snowflake.ID) (domain.ConsolidateResult, error) {
	if err := validate(protocolType, period); err != nil {
		return domain.ConsolidateResult{}, err
	}

	existing, err := s.findLiveConsolidated(ctx, protocolType, period)
	if err != nil {
		return domain.ConsolidateResult{}, err
	}
	if existing != nil {
		return s.alreadyExists(protocolType, existing), nil
	}

	protocols, err := s.listLiveProtocols(ctx, protocolType, period)
	if err != nil {
		return domain.ConsolidateResult{}, err
	}
	if reason := qualifies(protocols); reason != "" {
		s.metrics.Consolidations.WithLabelValues(string(protocolType), string(domain.ConsolidationNotReady)).Inc()
		return domain.ConsolidateResult{Outcome: domain.ConsolidationNotReady, Reason: reason}, nil
	}

	lines := make([]domain.ConsolidatedLine, 0, len(protocols))
	ids := make([]snowflake.ID, 0, len(protocols))
	aggItems := make([]aggregate.Item, 0, len(protocols))
	for _, p := range protocols {
		lines = append(lines, domain.ConsolidatedLine{
			ProtocolID:     p.ID,
			ProtocolNumber: p.ProtocolNumber,
			SubjectID:      p.SubjectID,
			TotalAmount:    p.TotalAmount,
			ItemCount:      p.ItemCount,
		})
		ids = append(ids, p.ID)
		aggItems = append(aggItems, aggregate.Item{Amount: p.TotalAmount, Count: p.ItemCount})
	}
	totals := aggregate.Sum(aggItems)

	snapshot, err := json.Marshal(lines)
	if err != nil {
		return domain.ConsolidateResult{}, err
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return domain.ConsolidateResult{}, err
	}

	now := s.clock.Now()
	consolidated := domain.ConsolidatedProtocol{
		ID:                     s.genID.Generate(),
		Type:                   protocolType,
		CompetencePeriod:       period,
		ConstituentProtocolIDs: idsJSON,
		TotalAmount:            totals.Amount,
		SubjectCount:           int64(len(protocols)),
		ItemCount:              totals.Count,
		Status:                 domain.ConsolidatedStatusDraft,
		SummarySnapshot:        snapshot,
		CreatedBy:              actorID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.nextProtocolNumber(ctx, tx, protocolType, period)
		if err != nil {
			return err
		}
		consolidated.ProtocolNumber = number
		return tx.WithContext(ctx).Create(&consolidated).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent attempt won; hand back its record.
			winner, ferr := s.findLiveConsolidated(ctx, protocolType, period)
			if ferr != nil {
				return domain.ConsolidateResult{}, ferr
			}
			if winner != nil {
				return s.alreadyExists(protocolType, winner), nil
			}
			return domain.ConsolidateResult{}, domain.ErrConflict
		}
		return domain.ConsolidateResult{}, err
	}

	s.metrics.Consolidations.WithLabelValues(string(protocolType), string(domain.ConsolidationCreated)).Inc()
	s.emitAudit(ctx, actorID, "consolidation.created", consolidated)

	s.log.Info("period consolidated",
		zap.String("type", string(protocolType)),
		zap.String("period", period),
		zap.Int("subjects", len(protocols)),
		zap.Int64("total_amount", totals.Amount),
	)
	return domain.ConsolidateResult{Outcome: domain.ConsolidationCreated, Consolidated: &consolidated}, nil
}

// Approve advances draft → approved. The consolidated lifecycle is
// strictly linear: no branching, no cancellation.
func (s *Service) Approve(ctx context.Context, id, actorID snowflake.ID) (domain.ConsolidatedProtocol, error) {
	if err := s.requireApprover(ctx, actorID); err != nil {
		return domain.ConsolidatedProtocol{}, err
	}
	return s.advance(ctx, id, actorID, domain.ConsolidatedStatusDraft, domain.ConsolidatedStatusApproved, map[string]any{
		"approved_at": s.clock.Now(),
		"approved_by": actorID,
	}, "consolidation.approved")
}

// MarkPaid advances approved → paid, recording a payment that already
// happened operationally.
func (s *Service) MarkPaid(ctx context.Context, id, actorID snowflake.ID, paymentReference string) (domain.ConsolidatedProtocol, error) {
	if err := s.requireOwner(ctx, actorID); err != nil {
		return domain.ConsolidatedProtocol{}, err
	}
	updates := map[string]any{
		"paid_at": s.clock.Now(),
		"paid_by": actorID,
	}
	if ref := strings.TrimSpace(paymentReference); ref != "" {
		updates["payment_reference"] = ref
	}
	return s.advance(ctx, id, actorID, domain.ConsolidatedStatusApproved, domain.ConsolidatedStatusPaid, updates, "consolidation.paid")
}

// Supersede retires a consolidated record so the period can be
// consolidated again, e.g. after a constituent correction. Paid
// records are settled history and cannot be superseded.
func (s *Service) Supersede(ctx context.Context, id, actorID snowflake.ID) (domain.ConsolidatedProtocol, error) {
	if err := s.requireOwner(ctx, actorID); err != nil {
		return domain.ConsolidatedProtocol{}, err
	}

	consolidated, err := s.Get(ctx, id)
	if err != nil {
		return domain.ConsolidatedProtocol{}, err
	}
	if consolidated.Status == domain.ConsolidatedStatusPaid || consolidated.Superseded {
		return domain.ConsolidatedProtocol{}, domain.ErrInvalidTransition
	}

	result := s.db.WithContext(ctx).
		Model(&domain.ConsolidatedProtocol{}).
		Where("id = ? AND superseded = ? AND status <> ?", id, false, domain.ConsolidatedStatusPaid).
		Updates(map[string]any{"superseded": true, "updated_at": s.clock.Now()})
	if result.Error != nil {
		return domain.ConsolidatedProtocol{}, result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ConsolidatedProtocol{}, domain.ErrInvalidTransition
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return domain.ConsolidatedProtocol{}, err
	}
	s.emitAudit(ctx, actorID, "consolidation.superseded", updated)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.ConsolidatedProtocol, error) {
	var consolidated domain.ConsolidatedProtocol
	err := s.db.WithContext(ctx).First(&consolidated, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ConsolidatedProtocol{}, domain.ErrNotFound
		}
		return domain.ConsolidatedProtocol{}, err
	}
	return consolidated, nil
}

func (s *Service) List(ctx context.Context, period string) ([]domain.ConsolidatedProtocol, error) {
	stmt := s.db.WithContext(ctx).Order("competence_period, type")
	if period != "" {
		stmt = stmt.Where("competence_period = ?", period)
	}

	var consolidated []domain.ConsolidatedProtocol
	if err := stmt.Find(&consolidated).Error; err != nil {
		return nil, err
	}
	return consolidated, nil
}

func (s *Service) advance(ctx context.Context, id, actorID snowflake.ID, from, to domain.ConsolidatedStatus, updates map[string]any, auditAction string) (domain.ConsolidatedProtocol, error) {
	consolidated, err := s.Get(ctx, id)
	if err != nil {
		return domain.ConsolidatedProtocol{}, err
	}
	if consolidated.Status != from || consolidated.Superseded {
		return domain.ConsolidatedProtocol{}, domain.ErrInvalidTransition
	}

	updates["status"] = to
	updates["updated_at"] = s.clock.Now()

	result := s.db.WithContext(ctx).
		Model(&domain.ConsolidatedProtocol{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return domain.ConsolidatedProtocol{}, result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ConsolidatedProtocol{}, domain.ErrInvalidTransition
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return domain.ConsolidatedProtocol{}, err
	}
	s.emitAudit(ctx, actorID, auditAction, updated)
	return updated, nil
}

func (s *Service) requireApprover(ctx context.Context, actorID snowflake.ID) error {
	actor, err := s.identitySvc.Resolve(ctx, actorID)
	if err != nil {
		if errors.Is(err, identitydomain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	if !actor.Role.IsApprover() {
		return domain.ErrUnauthorizedAction
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, actorID snowflake.ID) error {
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
	return nil
}

func (s *Service) alreadyExists(protocolType domain.ProtocolType, existing *domain.ConsolidatedProtocol) domain.ConsolidateResult {
	s.metrics.Consolidations.WithLabelValues(string(protocolType), string(domain.ConsolidationAlreadyExists)).Inc()
	return domain.ConsolidateResult{Outcome: domain.ConsolidationAlreadyExists, Consolidated: existing}
}

func validate(protocolType domain.ProtocolType, period string) error {
	if protocolType != domain.ProtocolTypeProvider && protocolType != domain.ProtocolTypeReviewer {
		return domain.ErrValidation
	}
	if !periodPattern.MatchString(period) {
		return domain.ErrValidation
	}
	return nil
}

func qualifies(protocols []domain.Protocol) string {
	if len(protocols) == 0 {
		return reasonNoProtocols
	}
	for _, p := range protocols {
		if !p.QualifiesForConsolidation() {
			return reasonNotApproved
		}
	}
	return ""
}

func (s *Service) findLiveConsolidated(ctx context.Context, protocolType domain.ProtocolType, period string) (*domain.ConsolidatedProtocol, error) {
	var consolidated domain.ConsolidatedProtocol
	err := s.db.WithContext(ctx).
		First(&consolidated, "type = ? AND competence_period = ? AND superseded = ?", protocolType, period, false).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &consolidated, nil
}

func (s *Service) listLiveProtocols(ctx context.Context, protocolType domain.ProtocolType, period string) ([]domain.Protocol, error) {
	var protocols []domain.Protocol
	err := s.db.WithContext(ctx).
		Where("type = ? AND competence_period = ? AND status <> ?", protocolType, period, domain.StatusCancelled).
		Order("protocol_number").
		Find(&protocols).Error
	if err != nil {
		return nil, err
	}
	return protocols, nil
}

func (s *Service) nextProtocolNumber(ctx context.Context, tx *gorm.DB, protocolType domain.ProtocolType, period string) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(protocol_number), 0) + 1
		 FROM consolidated_protocols
		 WHERE type = ? AND competence_period = ?`,
		protocolType,
		period,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, action string, consolidated domain.ConsolidatedProtocol) {
	if s.auditSvc == nil {
		return
	}
	targetID := consolidated.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &actorID, action, "consolidated_protocol", &targetID, map[string]any{
		"type":            string(consolidated.Type),
		"period":          consolidated.CompetencePeriod,
		"protocol_number": consolidated.ProtocolNumber,
		"total_amount":    consolidated.TotalAmount,
		"subject_count":   consolidated.SubjectCount,
		"item_count":      consolidated.ItemCount,
		"status":          string(consolidated.Status),
	})
}
