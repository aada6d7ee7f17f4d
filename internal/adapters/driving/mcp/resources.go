package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

const (
	uriScheme   = "ordersync://"
	metricsDays = 30
)

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "metrics",
		Name:        "order-metrics",
		Description: "Revenue, order count and top products over the last 30 days",
		MIMEType:    "application/json",
	}, s.handleMetricsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "orders/{orderId}",
		Name:        "order",
		Description: "A synced order with its line items",
		MIMEType:    "application/json",
	}, s.handleOrderResource)
}

func (s *Server) handleMetricsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	metrics, _, err := s.ports.Orders.Metrics(ctx, "", metricsDays)
	if err != nil {
		return nil, fmt.Errorf("computing metrics: %w", err)
	}
	return jsonResource(req.Params.URI, metrics)
}

// handleOrderResource returns one order as JSON.
func (s *Server) handleOrderResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	orderID := extractOrderID(req.Params.URI)
	if orderID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	order, _, err := s.ports.Orders.Get(ctx, "", orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return jsonResource(req.Params.URI, newOrderView(order))
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractOrderID returns the {orderId} segment of an order URI, or "".
func extractOrderID(uri string) string {
	id, ok := strings.CutPrefix(uri, uriScheme+"orders/")
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}
