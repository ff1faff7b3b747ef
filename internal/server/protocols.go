package server

import (
	"encoding/json"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
)

// actorID extracts the acting user from the X-Actor-ID header. The
// portal gateway terminates authentication upstream and forwards the
// resolved identity; this core only authorizes.
func actorID(c *gin.Context) (snowflake.ID, error) {
	raw := c.GetHeader("X-Actor-ID")
	if raw == "" {
		return 0, domain.ErrValidation
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, domain.ErrValidation
	}
	return id, nil
}

func pathID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		return 0, domain.ErrValidation
	}
	return id, nil
}

type generateProtocolsRequest struct {
	Type       domain.ProtocolType `json:"type"`
	Period     string              `json:"period"`
	SubjectIDs []string            `json:"subject_ids,omitempty"`
	Preview    bool                `json:"preview"`
}

func (s *Server) GenerateProtocols(c *gin.Context) {
	actor, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req generateProtocolsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrValidation)
		return
	}

	subjectIDs := make([]snowflake.ID, 0, len(req.SubjectIDs))
	for _, raw := range req.SubjectIDs {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, domain.ErrValidation)
			return
		}
		subjectIDs = append(subjectIDs, id)
	}

	resp, err := s.generatorSvc.Generate(c.Request.Context(), domain.GenerateRequest{
		Type:       req.Type,
		Period:     req.Period,
		SubjectIDs: subjectIDs,
		Preview:    req.Preview,
		ActorID:    actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListProtocols(c *gin.Context) {
	protocols, err := s.workflowSvc.List(c.Request.Context(), domain.ListProtocolsRequest{
		Type:   domain.ProtocolType(c.Query("type")),
		Period: c.Query("period"),
		Status: domain.ProtocolStatus(c.Query("status")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"protocols": protocols})
}

func (s *Server) GetProtocolByID(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	protocol, err := s.workflowSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, protocol)
}

func (s *Server) GetProtocolTimeline(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	protocol, err := s.workflowSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.timelineSvc.Reconstruct(c.Request.Context(), protocol)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

type transitionProtocolRequest struct {
	Action           domain.Action   `json:"action"`
	Reason           string          `json:"reason,omitempty"`
	Note             string          `json:"note,omitempty"`
	AssigneeID       string          `json:"assignee_id,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentDetails   json.RawMessage `json:"payment_details,omitempty"`
}

func (s *Server) TransitionProtocol(c *gin.Context) {
	actor, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req transitionProtocolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrValidation)
		return
	}

	var assigneeID snowflake.ID
	if req.AssigneeID != "" {
		assigneeID, err = snowflake.ParseString(req.AssigneeID)
		if err != nil {
			AbortWithError(c, domain.ErrValidation)
			return
		}
	}

	protocol, err := s.workflowSvc.Transition(c.Request.Context(), domain.TransitionRequest{
		ProtocolID:       id,
		Action:           req.Action,
		ActorID:          actor,
		Reason:           req.Reason,
		Note:             req.Note,
		AssigneeID:       assigneeID,
		PaymentReference: req.PaymentReference,
		PaymentDetails:   req.PaymentDetails,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, protocol)
}

func (s *Server) DeleteProtocol(c *gin.Context) {
	actor, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.workflowSvc.Delete(c.Request.Context(), id, actor); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
