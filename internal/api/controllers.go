package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

type listFillsQuery struct {
	Limit int `form:"limit"`
}

func (q *listFillsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type fillResponse struct {
	TradeID   string          `json:"trade_id"`
	OrderID   uint64          `json:"order_id"`
	ClientID  uint32          `json:"client_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine sentinels onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, exception.ErrUnknownStrategy):
		respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", err.Error())
	case errors.Is(err, exception.ErrServiceUnavailable):
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getPortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetPortfolio(c.Request.Context()))
}

func (s *Server) getVenueMetrics(c *gin.Context) {
	m, err := s.Engine.GetVenueMetrics(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.ListStrategies(c.Request.Context()))
}

func (s *Server) getStrategy(c *gin.Context) {
	info, err := s.Engine.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getStrategyPositions(c *gin.Context) {
	positions, err := s.Engine.GetStrategyPositions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getStrategyOrders(c *gin.Context) {
	orders, err := s.Engine.GetStrategyOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getStrategyFills(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Engine.GetStrategy(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}

	var q listFillsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	out := []fillResponse{}
	if s.Fills == nil {
		c.JSON(http.StatusOK, out)
		return
	}
	fills, err := s.Fills.Fills(c.Request.Context(), id, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	for _, f := range fills {
		out = append(out, fillResponse{
			TradeID:   f.TradeID,
			OrderID:   f.OrderID,
			ClientID:  f.ClientID,
			Symbol:    f.Symbol,
			Side:      f.Side,
			Quantity:  f.Qty,
			Price:     f.Price,
			Timestamp: f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}
