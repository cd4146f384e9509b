package calls

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/gateway"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/numbers"
	"github.com/sagar-j-gurav/whatsapp-calling/internal/provider"
	"github.com/sagar-j-gurav/whatsapp-calling/pkg/logger"
)

// Handler exposes the agent-facing call operations.
//
// No business logic here: each handler binds, delegates, and maps errors.

type Handler struct {
	Service *Service
	Store   *Store
}

type placeCallRequest struct {
	To    string `json:"to" binding:"required"`
	Agent string `json:"agent"`
}

func (h Handler) PlaceCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := h.Service.PlaceCall(c.Request.Context(), req.To, req.Agent)
	if err != nil {
		log.Warn("place call failed", "to", req.To, "err", err)
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

type answerRequest struct {
	Agent string `json:"agent"`
}

func (h Handler) Answer(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	// The body is optional; agent attribution is best-effort.
	var req answerRequest
	_ = c.ShouldBindJSON(&req)

	sess, err := h.Service.Answer(c.Request.Context(), callID, req.Agent)
	if err != nil {
		log.Warn("answer failed", "call_id", callID, "err", err)
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handler) Terminate(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	sess, err := h.Service.Terminate(c.Request.Context(), callID, 0)
	if err != nil {
		log.Warn("terminate failed", "call_id", callID, "err", err)
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handler) Get(c *gin.Context) {
	sess, err := h.Service.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handler) List(c *gin.Context) {
	sessions, err := h.Store.ListRecent(c.Request.Context(), 50)
	if err != nil {
		writeCallError(c, err)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": sessions})
}

func writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrMissingNegotiationInput),
		errors.Is(err, numbers.ErrInvalidNumber):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPermissionDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrCapacity):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrRejected),
		errors.Is(err, provider.ErrAcceptRejected),
		errors.Is(err, gateway.ErrUnreachable),
		errors.Is(err, gateway.ErrProtocol),
		errors.Is(err, gateway.ErrNegotiationTimeout),
		errors.Is(err, gateway.ErrNegotiationRejected):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
