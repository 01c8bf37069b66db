package query

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/position-guard/pkg/response"
)

// GinHandlers contains HTTP handlers for the read API and the explicit
// close endpoint.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ReconciliationStatusHandler handles GET /reconciliation/status
func (h *GinHandlers) ReconciliationStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			response.BadRequest(c, "account_id is required")
			return
		}

		status, err := h.service.ReconciliationStatus(c.Request.Context(), accountID)
		response.Handle(c, status, err)
	}
}

// OpenPositionsHandler handles GET /positions/open
func (h *GinHandlers) OpenPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			response.BadRequest(c, "account_id is required")
			return
		}

		trades, err := h.service.OpenPositions(c.Request.Context(), accountID, c.Query("symbol"))
		response.Handle(c, trades, err)
	}
}

// GetPositionHandler handles GET /positions/:id
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trade, err := h.service.GetPosition(c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				response.NotFound(c, "position not found")
				return
			}
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, trade)
	}
}

// GuardStatusHandler handles GET /guards/status
func (h *GinHandlers) GuardStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			response.BadRequest(c, "account_id is required")
			return
		}

		status, err := h.service.GuardStatus(c.Request.Context(), accountID)
		response.Handle(c, status, err)
	}
}

// ClosePositionHandler handles POST /positions/:id/close
func (h *GinHandlers) ClosePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.ClosePosition(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				response.NotFound(c, "position not found")
				return
			}
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, result)
	}
}

// HealthzHandler handles GET /healthz. No auth required.
func (h *GinHandlers) HealthzHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
