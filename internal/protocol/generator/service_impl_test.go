package generator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/lingora/internal/clock"
	ledgerrepository "github.com/smallbiznis/lingora/internal/ledger/repository"
	"github.com/smallbiznis/lingora/internal/observability/metrics"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	db.Exec(`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGINT PRIMARY KEY,
		subject_id BIGINT NOT NULL,
		subject_type TEXT NOT NULL,
		competence_period TEXT NOT NULL,
		amount BIGINT NOT NULL,
		document_count BIGINT NOT NULL DEFAULT 0,
		completed_at TIMESTAMP,
		contact_info TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	db.Exec(`CREATE TABLE IF NOT EXISTS protocols (
		id BIGINT PRIMARY KEY,
		protocol_number BIGINT NOT NULL,
		type TEXT NOT NULL,
		subject_id BIGINT NOT NULL,
		competence_period TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		line_items TEXT NOT NULL DEFAULT '[]',
		total_amount BIGINT NOT NULL DEFAULT 0,
		item_count BIGINT NOT NULL DEFAULT 0,
		payment_details TEXT,
		created_by BIGINT NOT NULL,
		submitted_at TIMESTAMP, submitted_by BIGINT,
		tier1_approved_at TIMESTAMP, tier1_approved_by BIGINT,
		returned_at TIMESTAMP, returned_by BIGINT, return_reason TEXT,
		resubmitted_at TIMESTAMP, resubmitted_by BIGINT,
		subject_submitted_at TIMESTAMP, subject_submitted_by BIGINT,
		data_confirmed_at TIMESTAMP, data_confirmed_by BIGINT,
		assigned_operator_id BIGINT,
		data_inserted_at TIMESTAMP, data_inserted_by BIGINT,
		initial_approved_at TIMESTAMP, initial_approved_by BIGINT,
		approved_at TIMESTAMP, approved_by BIGINT,
		manually_approved BOOLEAN NOT NULL DEFAULT FALSE,
		approval_note TEXT,
		paid_at TIMESTAMP, paid_by BIGINT, payment_reference TEXT,
		cancelled_at TIMESTAMP, cancelled_by BIGINT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_protocols_subject_period
		ON protocols (type, subject_id, competence_period)
		WHERE status <> 'cancelled'`)
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_protocols_number
		ON protocols (type, competence_period, protocol_number)`)

	return db
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := &Service{
		db:         db,
		log:        zaptest.NewLogger(t),
		clock:      clock.NewFakeClock(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)),
		genID:      node,
		ledgerRepo: ledgerrepository.NewRepository(ledgerrepository.RepositoryParam{DB: db}),
		metrics:    metrics.New(prometheus.NewRegistry()),
	}
	return svc, node
}

func seedEntry(t *testing.T, db *gorm.DB, node *snowflake.Node, subjectID snowflake.ID, subjectType, period string, amount int64, contact string) {
	t.Helper()
	completed := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
	err := db.Exec(`INSERT INTO ledger_entries
		(id, subject_id, subject_type, competence_period, amount, document_count, completed_at, contact_info, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.Generate().Int64(), subjectID.Int64(), subjectType, period, amount, 1, completed, contact, completed).Error
	require.NoError(t, err)
}

func TestGenerateValidation(t *testing.T) {
	db := setupDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	_, err := svc.Generate(ctx, domain.GenerateRequest{Type: "bogus", Period: "2025-05"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Generate(ctx, domain.GenerateRequest{Type: domain.ProtocolTypeProvider, Period: "2025-13"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Generate(ctx, domain.GenerateRequest{Type: domain.ProtocolTypeProvider, Period: "May 2025"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGenerateFreezesLineItems(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-01"

	subjectA := node.Generate()
	subjectB := node.Generate()
	for i := 0; i < 5; i++ {
		seedEntry(t, db, node, subjectA, "provider", period, 100, "a@example.com")
	}
	seedEntry(t, db, node, subjectB, "provider", period, 250, "b@example.com")

	resp, err := svc.Generate(ctx, domain.GenerateRequest{
		Type:    domain.ProtocolTypeProvider,
		Period:  period,
		ActorID: node.Generate(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Created)
	assert.Equal(t, 0, resp.Skipped)
	require.Len(t, resp.Subjects, 2)

	// Outcomes are ordered by subject ID; subjectA was generated first.
	first := resp.Subjects[0]
	assert.Equal(t, subjectA, first.SubjectID)
	assert.Equal(t, domain.OutcomeCreated, first.Outcome)
	assert.Equal(t, int64(500), first.TotalAmount)
	assert.Equal(t, int64(5), first.ItemCount)
	assert.Equal(t, int64(1), first.ProtocolNumber)

	second := resp.Subjects[1]
	assert.Equal(t, subjectB, second.SubjectID)
	assert.Equal(t, int64(250), second.TotalAmount)
	assert.Equal(t, int64(2), second.ProtocolNumber)

	var stored domain.Protocol
	require.NoError(t, db.First(&stored, "id = ?", first.ProtocolID).Error)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Equal(t, int64(500), stored.TotalAmount)

	// Later ledger changes never touch the frozen snapshot.
	seedEntry(t, db, node, subjectA, "provider", period, 9999, "a@example.com")
	require.NoError(t, db.First(&stored, "id = ?", first.ProtocolID).Error)
	assert.Equal(t, int64(500), stored.TotalAmount)
	assert.Equal(t, int64(5), stored.ItemCount)
}

func TestGenerateIsIdempotent(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-02"

	subject := node.Generate()
	seedEntry(t, db, node, subject, "provider", period, 300, "s@example.com")

	req := domain.GenerateRequest{Type: domain.ProtocolTypeProvider, Period: period, ActorID: node.Generate()}

	resp, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)

	resp, err = svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Created)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, resp.Subjects, 1)
	assert.Equal(t, domain.OutcomeSkipped, resp.Subjects[0].Outcome)
	assert.Equal(t, "already_generated", resp.Subjects[0].Reason)

	var count int64
	db.Model(&domain.Protocol{}).Where("competence_period = ?", period).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestGenerateSkipsSubjectWithoutContact(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-03"

	broken := node.Generate()
	healthy := node.Generate()
	seedEntry(t, db, node, broken, "provider", period, 100, "")
	seedEntry(t, db, node, healthy, "provider", period, 200, "ok@example.com")

	resp, err := svc.Generate(ctx, domain.GenerateRequest{
		Type:    domain.ProtocolTypeProvider,
		Period:  period,
		ActorID: node.Generate(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, 1, resp.Skipped)

	for _, outcome := range resp.Subjects {
		if outcome.SubjectID == broken {
			assert.Equal(t, domain.OutcomeSkipped, outcome.Outcome)
			assert.Contains(t, outcome.Reason, "missing contact data")
		} else {
			assert.Equal(t, domain.OutcomeCreated, outcome.Outcome)
		}
	}
}

func TestGeneratePreviewPersistsNothing(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-04"

	subject := node.Generate()
	seedEntry(t, db, node, subject, "provider", period, 150, "p@example.com")
	seedEntry(t, db, node, subject, "provider", period, 150, "p@example.com")

	resp, err := svc.Generate(ctx, domain.GenerateRequest{
		Type:    domain.ProtocolTypeProvider,
		Period:  period,
		Preview: true,
		ActorID: node.Generate(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)
	require.Len(t, resp.Subjects, 1)
	assert.Equal(t, int64(300), resp.Subjects[0].TotalAmount)
	assert.Equal(t, int64(2), resp.Subjects[0].ItemCount)
	assert.Zero(t, resp.Subjects[0].ProtocolID)

	var count int64
	db.Model(&domain.Protocol{}).Where("competence_period = ?", period).Count(&count)
	assert.Zero(t, count)
}

func TestGenerateAfterCancellation(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-05"

	subject := node.Generate()
	seedEntry(t, db, node, subject, "provider", period, 400, "c@example.com")

	req := domain.GenerateRequest{Type: domain.ProtocolTypeProvider, Period: period, ActorID: node.Generate()}

	resp, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Created)
	firstID := resp.Subjects[0].ProtocolID

	require.NoError(t, db.Model(&domain.Protocol{}).
		Where("id = ?", firstID).
		Update("status", domain.StatusCancelled).Error)

	// A cancelled protocol no longer blocks regeneration; the sequence
	// keeps counting past it.
	resp, err = svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)
	assert.Equal(t, int64(2), resp.Subjects[0].ProtocolNumber)
	assert.NotEqual(t, firstID, resp.Subjects[0].ProtocolID)
}

func TestGenerateConcurrentInsertResolvesToSkip(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-07"

	subject := node.Generate()
	seedEntry(t, db, node, subject, "provider", period, 500, "r@example.com")

	// Simulate a second instance winning the race: slip a competing row
	// in between the liveness check and this service's insert, so the
	// insert lands on the uniqueness constraint.
	injected := false
	err := db.Callback().Create().Before("gorm:create").Register("competing_generate", func(tx *gorm.DB) {
		dest, ok := tx.Statement.Dest.(*domain.Protocol)
		if !ok || injected {
			return
		}
		injected = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			`INSERT INTO protocols (id, protocol_number, type, subject_id, competence_period, status, created_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			node.Generate().Int64(), dest.ProtocolNumber, dest.Type, dest.SubjectID.Int64(),
			dest.CompetencePeriod, dest.Status, dest.CreatedBy.Int64(),
		)
	})
	require.NoError(t, err)

	resp, err := svc.Generate(ctx, domain.GenerateRequest{
		Type:    domain.ProtocolTypeProvider,
		Period:  period,
		ActorID: node.Generate(),
	})
	require.NoError(t, err)
	require.True(t, injected)
	assert.Equal(t, 0, resp.Created)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, resp.Subjects, 1)
	assert.Equal(t, domain.OutcomeSkipped, resp.Subjects[0].Outcome)
	assert.Equal(t, "concurrent_generation", resp.Subjects[0].Reason)

	// The constraint stays the source of truth: never two live rows for
	// the same subject and period.
	var count int64
	db.Model(&domain.Protocol{}).
		Where("type = ? AND subject_id = ? AND competence_period = ? AND status <> ?",
			domain.ProtocolTypeProvider, subject, period, domain.StatusCancelled).
		Count(&count)
	assert.LessOrEqual(t, count, int64(1))
}

func TestGenerateSubjectFilter(t *testing.T) {
	db := setupDB(t)
	svc, node := newTestService(t, db)
	ctx := context.Background()
	period := "2031-06"

	wanted := node.Generate()
	other := node.Generate()
	seedEntry(t, db, node, wanted, "reviewer", period, 700, "w@example.com")
	seedEntry(t, db, node, other, "reviewer", period, 800, "o@example.com")

	resp, err := svc.Generate(ctx, domain.GenerateRequest{
		Type:       domain.ProtocolTypeReviewer,
		Period:     period,
		SubjectIDs: []snowflake.ID{wanted},
		ActorID:    node.Generate(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Created)
	require.Len(t, resp.Subjects, 1)
	assert.Equal(t, wanted, resp.Subjects[0].SubjectID)
}
