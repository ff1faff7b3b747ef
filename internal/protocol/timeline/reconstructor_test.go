package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	identitydomain "github.com/smallbiznis/lingora/internal/identity/domain"
	identityservice "github.com/smallbiznis/lingora/internal/identity/service"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		approval_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	svc := &Service{
		log:         zaptest.NewLogger(t),
		identitySvc: identityservice.NewService(identityservice.ServiceParam{DB: db, Log: zaptest.NewLogger(t)}),
	}
	return svc, db, node
}

func seedUser(t *testing.T, db *gorm.DB, node *snowflake.Node, name string) identitydomain.User {
	t.Helper()
	user := identitydomain.User{
		ID:             node.Generate(),
		DisplayName:    name,
		Email:          node.Generate().String() + "@example.com",
		Role:           identitydomain.RoleOperations,
		ApprovalStatus: identitydomain.ApprovalStatusApproved,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func ptrTime(t time.Time) *time.Time      { return &t }
func ptrID(id snowflake.ID) *snowflake.ID { return &id }
func ptrStr(s string) *string             { return &s }

func TestReconstructProviderHistory(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()

	ops := seedUser(t, db, node, "Mira Ops")
	master := seedUser(t, db, node, "Jan Master")

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	protocol := domain.Protocol{
		ID:               node.Generate(),
		Type:             domain.ProtocolTypeProvider,
		SubjectID:        node.Generate(),
		Status:           domain.StatusAwaitingSubjectData,
		CreatedBy:        ops.ID,
		CreatedAt:        base,
		SubmittedAt:      ptrTime(base.Add(time.Hour)),
		SubmittedBy:      ptrID(ops.ID),
		Tier1ApprovedAt:  ptrTime(base.Add(2 * time.Hour)),
		Tier1ApprovedBy:  ptrID(master.ID),
		ReturnedAt:       ptrTime(base.Add(3 * time.Hour)),
		ReturnedBy:       ptrID(master.ID),
		ReturnReason:     ptrStr("missing bank details"),
		ResubmittedAt:    ptrTime(base.Add(4 * time.Hour)),
	}
	protocol.ResubmittedBy = ptrID(protocol.SubjectID)

	events, err := svc.Reconstruct(ctx, protocol)
	require.NoError(t, err)
	require.Len(t, events, 5)

	labels := make([]string, 0, len(events))
	for _, event := range events {
		labels = append(labels, event.Action)
	}
	assert.Equal(t, []string{"generated", "submitted", "tier1_approved", "returned_to_subject", "resubmitted"}, labels)

	assert.Equal(t, "Mira Ops", events[1].Actor)
	assert.Equal(t, "Jan Master", events[2].Actor)
	assert.Equal(t, "missing bank details", events[3].Note)

	// Purged accounts degrade to the raw ID, never an error.
	assert.Equal(t, protocol.SubjectID.String(), events[4].Actor)

	// Reconstruction is a pure function of the row.
	again, err := svc.Reconstruct(ctx, protocol)
	require.NoError(t, err)
	assert.Equal(t, events, again)
}

func TestReconstructBreaksTiesByCatalogOrder(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()

	owner := seedUser(t, db, node, "Owner")
	at := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	// Approval and payment stamped in the same instant must still come
	// out in workflow order.
	protocol := domain.Protocol{
		ID:               node.Generate(),
		Type:             domain.ProtocolTypeProvider,
		SubjectID:        node.Generate(),
		Status:           domain.StatusPaid,
		CreatedBy:        owner.ID,
		CreatedAt:        at.Add(-time.Hour),
		ApprovedAt:       ptrTime(at),
		ApprovedBy:       ptrID(owner.ID),
		PaidAt:           ptrTime(at),
		PaidBy:           ptrID(owner.ID),
		PaymentReference: ptrStr("WIRE-1"),
	}

	events, err := svc.Reconstruct(ctx, protocol)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "approved", events[1].Action)
	assert.Equal(t, "paid", events[2].Action)
	assert.Equal(t, "payment reference WIRE-1", events[2].Note)
}

func TestReconstructReviewerCatalog(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()

	ops := seedUser(t, db, node, "Assigned Ops")
	base := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)

	protocol := domain.Protocol{
		ID:                 node.Generate(),
		Type:               domain.ProtocolTypeReviewer,
		SubjectID:          node.Generate(),
		Status:             domain.StatusTier1Approved,
		CreatedBy:          ops.ID,
		CreatedAt:          base,
		SubmittedAt:        ptrTime(base.Add(time.Hour)),
		SubmittedBy:        ptrID(ops.ID),
		Tier1ApprovedAt:    ptrTime(base.Add(2 * time.Hour)),
		Tier1ApprovedBy:    ptrID(ops.ID),
		AssignedOperatorID: ptrID(ops.ID),
	}

	events, err := svc.Reconstruct(ctx, protocol)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "submitted_for_approval", events[1].Action)
	assert.Equal(t, "tier1_approved", events[2].Action)
	assert.Contains(t, events[2].Note, "operator")
	assert.Contains(t, events[2].Note, "assigned")
}
