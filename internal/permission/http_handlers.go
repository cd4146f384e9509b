package permission

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagar-j-gurav/whatsapp-calling/internal/numbers"
	"github.com/sagar-j-gurav/whatsapp-calling/pkg/logger"
)

type Handler struct {
	Service *Service
}

type requestBody struct {
	CustomerNumber string `json:"customer_number" binding:"required"`
	Lead           string `json:"lead"`
}

// Request triggers a call-permission template to the customer.
func (h Handler) Request(c *gin.Context) {
	log := logger.FromGin(c)

	var req requestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.Service.Request(c.Request.Context(), req.CustomerNumber, req.Lead)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
	case errors.Is(err, ErrRequestLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, numbers.ErrInvalidNumber):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("permission request failed", "customer", req.CustomerNumber, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "permission request failed"})
	}
}

type grantBody struct {
	CustomerNumber string `json:"customer_number" binding:"required"`
	BusinessNumber string `json:"business_number" binding:"required"`
}

// Grant marks a permission as granted. Admin-only; normally driven by the
// provider's opt-in confirmation, exposed here for manual correction.
func (h Handler) Grant(c *gin.Context) {
	log := logger.FromGin(c)

	var req grantBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.Service.Grant(c.Request.Context(), req.CustomerNumber, req.BusinessNumber)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "granted"})
	case errors.Is(err, ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Error("permission grant failed", "customer", req.CustomerNumber, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "grant failed"})
	}
}
