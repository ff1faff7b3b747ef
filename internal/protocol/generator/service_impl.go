package generator

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/lingora/internal/audit/domain"
	"github.com/smallbiznis/lingora/internal/clock"
	ledgerdomain "github.com/smallbiznis/lingora/internal/ledger/domain"
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
	reasonAlreadyGenerated = "already_generated"
	reasonConflict         = "concurrent_generation"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	LedgerRepo ledgerdomain.Repository
	AuditSvc   auditdomain.Service
	Metrics    *metrics.Metrics
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	ledgerRepo ledgerdomain.Repository
	auditSvc   auditdomain.Service
	metrics    *metrics.Metrics
}

func NewService(p ServiceParam) domain.GeneratorService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("protocol.generator"),
		clock:      p.Clock,
		genID:      p.GenID,
		ledgerRepo: p.LedgerRepo,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
	}
}

// Generate scans completed ledger work for the period and creates one
// draft protocol per subject. Re-running for the same period is safe:
// subjects with a live protocol are reported as skipped, and a
// concurrent duplicate insert resolves to a skip via the uniqueness
// constraint rather than an error.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	if err := validate(req); err != nil {
		return domain.GenerateResponse{}, err
	}

	entries, err := s.ledgerRepo.ListCompleted(ctx, string(req.Type), req.Period, req.SubjectIDs)
	if err != nil {
		return domain.GenerateResponse{}, err
	}

	groups := groupBySubject(entries)
	subjectIDs := make([]snowflake.ID, 0, len(groups))
	for subjectID := range groups {
		subjectIDs = append(subjectIDs, subjectID)
	}
	sort.Slice(subjectIDs, func(i, j int) bool { return subjectIDs[i] < subjectIDs[j] })

	resp := domain.GenerateResponse{Subjects: make([]domain.SubjectOutcome, 0, len(subjectIDs))}
	for _, subjectID := range subjectIDs {
		outcome := s.generateForSubject(ctx, req, subjectID, groups[subjectID])
		if outcome.Outcome == domain.OutcomeCreated {
			resp.Created++
		} else {
			resp.Skipped++
		}
		resp.Subjects = append(resp.Subjects, outcome)
	}

	s.log.Info("generation batch finished",
		zap.String("type", string(req.Type)),
		zap.String("period", req.Period),
		zap.Bool("preview", req.Preview),
		zap.Int("created", resp.Created),
		zap.Int("skipped", resp.Skipped),
	)
	return resp, nil
}

func (s *Service) generateForSubject(ctx context.Context, req domain.GenerateRequest, subjectID snowflake.ID, entries []ledgerdomain.Entry) domain.SubjectOutcome {
	snapshot, totals, err := buildSnapshot(subjectID, entries)
	if err != nil {
		s.log.Warn("subject skipped",
			zap.String("subject_id", subjectID.String()),
			zap.Error(err),
		)
		return domain.SubjectOutcome{
			SubjectID: subjectID,
			Outcome:   domain.OutcomeSkipped,
			Reason:    err.Error(),
		}
	}

	existingID, err := s.findLiveProtocol(ctx, req.Type, subjectID, req.Period)
	if err != nil {
		return domain.SubjectOutcome{SubjectID: subjectID, Outcome: domain.OutcomeSkipped, Reason: err.Error()}
	}
	if existingID != 0 {
		return domain.SubjectOutcome{
			SubjectID:  subjectID,
			Outcome:    domain.OutcomeSkipped,
			Reason:     reasonAlreadyGenerated,
			ProtocolID: existingID,
		}
	}

	if req.Preview {
		return domain.SubjectOutcome{
			SubjectID:   subjectID,
			Outcome:     domain.OutcomeCreated,
			TotalAmount: totals.Amount,
			ItemCount:   totals.Count,
		}
	}

	lineItems, err := json.Marshal(snapshot)
	if err != nil {
		return domain.SubjectOutcome{SubjectID: subjectID, Outcome: domain.OutcomeSkipped, Reason: err.Error()}
	}

	now := s.clock.Now()
	protocol := domain.Protocol{
		ID:               s.genID.Generate(),
		Type:             req.Type,
		SubjectID:        subjectID,
		CompetencePeriod: req.Period,
		Status:           domain.StatusDraft,
		LineItems:        lineItems,
		TotalAmount:      totals.Amount,
		ItemCount:        totals.Count,
		CreatedBy:        req.ActorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.nextProtocolNumber(ctx, tx, req.Type, req.Period)
		if err != nil {
			return err
		}
		protocol.ProtocolNumber = number
		return tx.WithContext(ctx).Create(&protocol).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Another instance won the race; the constraint is the
			// source of truth, so report a skip.
			return domain.SubjectOutcome{
				SubjectID: subjectID,
				Outcome:   domain.OutcomeSkipped,
				Reason:    reasonConflict,
			}
		}
		return domain.SubjectOutcome{SubjectID: subjectID, Outcome: domain.OutcomeSkipped, Reason: err.Error()}
	}

	s.metrics.ProtocolsGenerated.WithLabelValues(string(req.Type)).Inc()
	s.emitAudit(ctx, req.ActorID, protocol)

	return domain.SubjectOutcome{
		SubjectID:      subjectID,
		Outcome:        domain.OutcomeCreated,
		ProtocolID:     protocol.ID,
		ProtocolNumber: protocol.ProtocolNumber,
		TotalAmount:    totals.Amount,
		ItemCount:      totals.Count,
	}
}

func validate(req domain.GenerateRequest) error {
	if req.Type != domain.ProtocolTypeProvider && req.Type != domain.ProtocolTypeReviewer {
		return domain.ErrValidation
	}
	if !periodPattern.MatchString(req.Period) {
		return domain.ErrValidation
	}
	return nil
}

func groupBySubject(entries []ledgerdomain.Entry) map[snowflake.ID][]ledgerdomain.Entry {
	groups := make(map[snowflake.ID][]ledgerdomain.Entry)
	for _, entry := range entries {
		groups[entry.SubjectID] = append(groups[entry.SubjectID], entry)
	}
	return groups
}

// buildSnapshot freezes the subject's ledger lines and computes the
// totals that stay on the protocol for good.
func buildSnapshot(subjectID snowflake.ID, entries []ledgerdomain.Entry) ([]domain.LineItem, aggregate.Totals, error) {
	hasContact := false
	items := make([]domain.LineItem, 0, len(entries))
	aggItems := make([]aggregate.Item, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.ContactInfo) != "" {
			hasContact = true
		}
		items = append(items, domain.LineItem{
			LedgerEntryID: entry.ID,
			Amount:        entry.Amount,
			DocumentCount: entry.DocumentCount,
			CompletedAt:   entry.CompletedAt,
		})
		aggItems = append(aggItems, aggregate.Item{Amount: entry.Amount, Count: 1})
	}
	if !hasContact {
		return nil, aggregate.Totals{}, &domain.AggregationError{
			SubjectID: subjectID,
			Reason:    "missing contact data",
		}
	}
	return items, aggregate.Sum(aggItems), nil
}

func (s *Service) findLiveProtocol(ctx context.Context, protocolType domain.ProtocolType, subjectID snowflake.ID, period string) (snowflake.ID, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id
		 FROM protocols
		 WHERE type = ? AND subject_id = ? AND competence_period = ? AND status <> ?
		 LIMIT 1`,
		protocolType,
		subjectID,
		period,
		domain.StatusCancelled,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

// nextProtocolNumber derives the sequence from persisted rows scoped to
// (type, period) so it survives restarts and concurrent instances; the
// unique index on the number is the final guard.
func (s *Service) nextProtocolNumber(ctx context.Context, tx *gorm.DB, protocolType domain.ProtocolType, period string) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(protocol_number), 0) + 1
		 FROM protocols
		 WHERE type = ? AND competence_period = ?`,
		protocolType,
		period,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) emitAudit(ctx context.Context, actorID snowflake.ID, protocol domain.Protocol) {
	if s.auditSvc == nil {
		return
	}
	targetID := protocol.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &actorID, "protocol.generated", "protocol", &targetID, map[string]any{
		"type":            string(protocol.Type),
		"subject_id":      protocol.SubjectID.String(),
		"period":          protocol.CompetencePeriod,
		"protocol_number": protocol.ProtocolNumber,
		"total_amount":    protocol.TotalAmount,
		"item_count":      protocol.ItemCount,
	})
}
