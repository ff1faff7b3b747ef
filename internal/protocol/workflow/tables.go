package workflow

import (
	identitydomain "github.com/smallbiznis/lingora/internal/identity/domain"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
)

// rule is one row of the static (role, status) → action table. Both
// graphs share mechanics and differ only in their rule sets.
type rule struct {
	from  []domain.ProtocolStatus
	to    domain.ProtocolStatus
	roles []identitydomain.Role

	// subjectOnly restricts the action to the protocol's own subject.
	subjectOnly bool
	// assigneeOnly restricts the action to the assigned operator.
	assigneeOnly bool
}

func (r rule) allowsFrom(status domain.ProtocolStatus) bool {
	for _, s := range r.from {
		if s == status {
			return true
		}
	}
	return false
}

func (r rule) allowsRole(role identitydomain.Role) bool {
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// providerCancellable lists every provider-type state from which
// cancellation is legal: everything non-paid, non-cancelled.
var providerCancellable = []domain.ProtocolStatus{
	domain.StatusDraft,
	domain.StatusAwaitingTier1,
	domain.StatusAwaitingSubjectData,
	domain.StatusReturnedToSubject,
	domain.StatusSubjectSubmitted,
	domain.StatusAwaitingTier2,
	domain.StatusApproved,
}

var providerRules = map[domain.Action]rule{
	domain.ActionSubmit: {
		from:  []domain.ProtocolStatus{domain.StatusDraft},
		to:    domain.StatusAwaitingTier1,
		roles: []identitydomain.Role{identitydomain.RoleOperations},
	},
	domain.ActionTier1Approve: {
		from:  []domain.ProtocolStatus{domain.StatusAwaitingTier1},
		to:    domain.StatusAwaitingSubjectData,
		roles: []identitydomain.Role{identitydomain.RoleMaster},
	},
	domain.ActionReturnToSubject: {
		from:  []domain.ProtocolStatus{domain.StatusAwaitingSubjectData},
		to:    domain.StatusReturnedToSubject,
		roles: []identitydomain.Role{identitydomain.RoleMaster, identitydomain.RoleOwner},
	},
	domain.ActionResubmit: {
		from:        []domain.ProtocolStatus{domain.StatusReturnedToSubject},
		to:          domain.StatusAwaitingSubjectData,
		roles:       []identitydomain.Role{identitydomain.RoleProvider},
		subjectOnly: true,
	},
	domain.ActionSubjectSubmit: {
		from:        []domain.ProtocolStatus{domain.StatusAwaitingSubjectData},
		to:          domain.StatusSubjectSubmitted,
		roles:       []identitydomain.Role{identitydomain.RoleProvider},
		subjectOnly: true,
	},
	domain.ActionConfirmSubjectData: {
		from:  []domain.ProtocolStatus{domain.StatusSubjectSubmitted},
		to:    domain.StatusAwaitingTier2,
		roles: []identitydomain.Role{identitydomain.RoleOperations, identitydomain.RoleMaster},
	},
	domain.ActionTier2Approve: {
		from:  []domain.ProtocolStatus{domain.StatusAwaitingTier2},
		to:    domain.StatusApproved,
		roles: []identitydomain.Role{identitydomain.RoleOwner},
	},
	// Short-circuit: an approver settles on the subject's behalf,
	// bypassing self-service. Requires payment details already on file.
	domain.ActionApproveManual: {
		from:  []domain.ProtocolStatus{domain.StatusAwaitingSubjectData},
		to:    domain.StatusApproved,
		roles: []identitydomain.Role{identitydomain.RoleMaster, identitydomain.RoleOwner},
	},
	domain.ActionMarkPaid: {
		from:  []domain.ProtocolStatus{domain.StatusApproved},
		to:    domain.StatusPaid,
		roles: []identitydomain.Role{identitydomain.RoleOwner},
	},
	domain.ActionCancel: {
		from:  providerCancellable,
		to:    domain.StatusCancelled,
		roles: []identitydomain.Role{identitydomain.RoleOperations, identitydomain.RoleMaster, identitydomain.RoleOwner},
	},
}

// Reviewer-type protocols carry a stronger commitment once submitted:
// cancellation is legal only from draft.
var reviewerRules = map[domain.Action]rule{
	domain.ActionSubmitForApproval: {
		from:  []domain.ProtocolStatus{domain.StatusDraft},
		to:    domain.StatusPendingApproval,
		roles: []identitydomain.Role{identitydomain.RoleOperations},
	},
	domain.ActionAssignOperator: {
		from:  []domain.ProtocolStatus{domain.StatusPendingApproval},
		to:    domain.StatusTier1Approved,
		roles: []identitydomain.Role{identitydomain.RoleMaster},
	},
	domain.ActionInsertData: {
		from:         []domain.ProtocolStatus{domain.StatusTier1Approved},
		to:           domain.StatusDataInserted,
		roles:        []identitydomain.Role{identitydomain.RoleOperations},
		assigneeOnly: true,
	},
	domain.ActionTier2InitialApprove: {
		from:  []domain.ProtocolStatus{domain.StatusDataInserted},
		to:    domain.StatusTier2InitialApproved,
		roles: []identitydomain.Role{identitydomain.RoleOwner},
	},
	domain.ActionFinalApprove: {
		from:  []domain.ProtocolStatus{domain.StatusTier2InitialApproved},
		to:    domain.StatusFinalApproved,
		roles: []identitydomain.Role{identitydomain.RoleOwner},
	},
	domain.ActionMarkPaid: {
		from:  []domain.ProtocolStatus{domain.StatusFinalApproved},
		to:    domain.StatusPaid,
		roles: []identitydomain.Role{identitydomain.RoleOwner},
	},
	domain.ActionCancel: {
		from:  []domain.ProtocolStatus{domain.StatusDraft},
		to:    domain.StatusCancelled,
		roles: []identitydomain.Role{identitydomain.RoleOperations, identitydomain.RoleMaster, identitydomain.RoleOwner},
	},
}

var transitionTables = map[domain.ProtocolType]map[domain.Action]rule{
	domain.ProtocolTypeProvider: providerRules,
	domain.ProtocolTypeReviewer: reviewerRules,
}
