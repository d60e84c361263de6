package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/position"

	"github.com/gin-gonic/gin"
)

const maxTradeLimit = 1000

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}

	if s.health == nil {
		body["database"] = "disabled"
		c.JSON(http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.health.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		body["status"] = "unhealthy"
		body["database"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["database"] = "healthy"
	c.JSON(http.StatusOK, body)
}

// handleStatus returns the driver status
func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		errorResponse(c, http.StatusServiceUnavailable, "no session driver running")
		return
	}
	status := s.status.GetStatus()
	if s.hub != nil {
		status["ws_clients"] = s.hub.GetClientCount()
	}
	successResponse(c, status)
}

// handleTrades returns closed trades, newest first
func (s *Server) handleTrades(c *gin.Context) {
	if s.trades == nil {
		successResponse(c, []position.TradeRecord{})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxTradeLimit)
	}
	symbol := strings.ToUpper(c.Query("symbol"))

	trades, err := s.trades.ListTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to list trades")
		errorResponse(c, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []position.TradeRecord{}
	}
	successResponse(c, trades)
}
