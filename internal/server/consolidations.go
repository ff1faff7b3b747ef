package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
)

func (s *Server) ListConsolidations(c *gin.Context) {
	consolidations, err := s.consolidationSvc.List(c.Request.Context(), c.Query("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"consolidations": consolidations})
}

func (s *Server) GetConsolidationByID(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	consolidated, err := s.consolidationSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, consolidated)
}

func (s *Server) GetConsolidationReadiness(c *gin.Context) {
	ready, err := s.consolidationSvc.CanConsolidate(
		c.Request.Context(),
		domain.ProtocolType(c.Query("type")),
		c.Query("period"),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

type attemptConsolidationRequest struct {
	Type   domain.ProtocolType `json:"type"`
	Period string              `json:"period"`
}

func (s *Server) AttemptConsolidation(c *gin.Context) {
	actor, err := actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req attemptConsolidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrValidation)
		return
	}

	result, err := s.consolidationSvc.AttemptConsolidate(c.Request.Context(), req.Type, req.Period, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ApproveConsolidation(c *gin.Context) {
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

	consolidated, err := s.consolidationSvc.Approve(c.Request.Context(), id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, consolidated)
}

type payConsolidationRequest struct {
	PaymentReference string `json:"payment_reference,omitempty"`
}

func (s *Server) PayConsolidation(c *gin.Context) {
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

	// Body is optional; a bare pay request carries no reference.
	var req payConsolidationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, domain.ErrValidation)
		return
	}

	consolidated, err := s.consolidationSvc.MarkPaid(c.Request.Context(), id, actor, req.PaymentReference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, consolidated)
}

func (s *Server) SupersedeConsolidation(c *gin.Context) {
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

	consolidated, err := s.consolidationSvc.Supersede(c.Request.Context(), id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, consolidated)
}
