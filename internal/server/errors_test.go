package server

import (
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", domain.ErrValidation, http.StatusBadRequest, "validation_error"},
		{"aggregation", &domain.AggregationError{SubjectID: snowflake.ID(42), Reason: "missing contact data"}, http.StatusBadRequest, "aggregation_error"},
		{"unauthorized action", domain.ErrUnauthorizedAction, http.StatusForbidden, "unauthorized_action"},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"conflict", domain.ErrConflict, http.StatusConflict, "conflict"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"gorm not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"unknown", assertableErr{}, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantType, payload.Type)
		})
	}
}

type assertableErr struct{}

func (assertableErr) Error() string { return "boom" }
