package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// defaultMetricsDays is the metrics window when ?days is absent.
const defaultMetricsDays = 30

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSync runs a sync and returns its result. The request blocks until
// the run finishes.
func (s *Server) handleSync(c *gin.Context) {
	req := driving.SyncRequest{
		Mode:     domain.SyncMode(c.Query("mode")),
		Bookmark: c.GetHeader(BookmarkHeader),
	}

	result, err := s.ports.Sync.Sync(c.Request.Context(), req)
	if result != nil && result.Bookmark != "" {
		c.Header(BookmarkHeader, result.Bookmark)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.ports.Sync.Status(c.Request.Context(), c.GetHeader(BookmarkHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(BookmarkHeader, status.Bookmark)
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleListOrders(c *gin.Context) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", domain.DefaultOrderPageLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	if limit > domain.MaxOrderPageLimit {
		writeError(c, fmt.Errorf("limit must be at most %d: %w", domain.MaxOrderPageLimit, domain.ErrInvalidInput))
		return
	}

	filter := domain.OrderFilter{
		Status: domain.OrderStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	}
	if err := filter.Normalised().Validate(); err != nil {
		writeError(c, err)
		return
	}
	result, bookmark, err := s.ports.Orders.List(c.Request.Context(), c.GetHeader(BookmarkHeader), filter)
	setBookmark(c, bookmark)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, bookmark, err := s.ports.Orders.Get(c.Request.Context(), c.GetHeader(BookmarkHeader), c.Param("id"))
	setBookmark(c, bookmark)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleMetrics(c *gin.Context) {
	days, err := intQuery(c, "days", defaultMetricsDays)
	if err != nil {
		writeError(c, err)
		return
	}

	metrics, bookmark, err := s.ports.Orders.Metrics(c.Request.Context(), c.GetHeader(BookmarkHeader), days)
	setBookmark(c, bookmark)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// remotePage is the JSON shape of a passthrough listing. Orders are the
// records exactly as the CRM returned them.
type remotePage struct {
	Orders []json.RawMessage `json:"orders"`
	Count  int               `json:"count"`
	Offset int               `json:"offset"`
}

func (s *Server) handleRemoteOrders(c *gin.Context) {
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		writeError(c, err)
		return
	}

	page, err := s.ports.Orders.Remote(c.Request.Context(), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := remotePage{Orders: make([]json.RawMessage, 0, page.Received()), Count: page.Total, Offset: offset}
	for i := range page.Orders {
		raw := page.Orders[i].Raw
		if len(raw) == 0 {
			if raw, err = json.Marshal(page.Orders[i]); err != nil {
				writeError(c, err)
				return
			}
		}
		out.Orders = append(out.Orders, raw)
	}
	for _, rec := range page.Invalid {
		out.Orders = append(out.Orders, rec.Raw)
	}
	c.JSON(http.StatusOK, out)
}

func setBookmark(c *gin.Context, bookmark string) {
	if bookmark != "" {
		c.Header(BookmarkHeader, bookmark)
	}
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, domain.ErrInvalidInput)
	}
	return v, nil
}
