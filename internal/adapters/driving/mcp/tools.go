package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// SyncInput is the input schema for the sync_orders tool.
type SyncInput struct {
	Full     bool   `json:"full,omitempty" jsonschema:"rebuild from the first page instead of syncing changes since the last run"`
	Bookmark string `json:"bookmark,omitempty" jsonschema:"consistency bookmark returned by an earlier call"`
}

// SyncOutput is the output schema for the sync_orders tool.
type SyncOutput struct {
	Success           bool                 `json:"success"`
	Mode              string               `json:"mode"`
	Fetched           int                  `json:"fetched"`
	Written           int                  `json:"written"`
	Failed            int                  `json:"failed"`
	Skipped           int                  `json:"skipped"`
	SyncedBeforeError int                  `json:"synced_before_error,omitempty"`
	ErrorCode         string               `json:"error_code,omitempty"`
	Message           string               `json:"message,omitempty"`
	Errors            []domain.RecordError `json:"errors,omitempty"`
	Bookmark          string               `json:"bookmark"`
}

// StatusInput is the input schema for the sync_status tool.
type StatusInput struct {
	Bookmark string `json:"bookmark,omitempty" jsonschema:"consistency bookmark returned by an earlier call"`
}

// StatusOutput is the output schema for the sync_status tool.
type StatusOutput struct {
	Running     bool   `json:"running"`
	Phase       string `json:"phase"`
	TotalOrders int    `json:"total_orders"`
	LastSync    string `json:"last_sync,omitempty"`
	Position    string `json:"position,omitempty"`
	Bookmark    string `json:"bookmark"`
}

// GetOrderInput is the input schema for the get_order tool.
type GetOrderInput struct {
	OrderID  string `json:"order_id" jsonschema:"the CRM order id"`
	Bookmark string `json:"bookmark,omitempty" jsonschema:"consistency bookmark returned by an earlier call"`
}

// GetOrderOutput is the output schema for the get_order tool.
type GetOrderOutput struct {
	Order    OrderView `json:"order"`
	Bookmark string    `json:"bookmark"`
}

// OrderView is an order shaped for tool output: amounts are decimals and
// the stored JSON blobs are decoded.
type OrderView struct {
	RemoteID           string         `json:"remote_id"`
	CompanyID          string         `json:"company_id,omitempty"`
	CustomerID         string         `json:"customer_id"`
	CustomerEmail      string         `json:"customer_email,omitempty"`
	CustomerName       string         `json:"customer_name,omitempty"`
	Title              string         `json:"title,omitempty"`
	Status             string         `json:"status"`
	PaymentStatus      string         `json:"payment_status"`
	Total              float64        `json:"total"`
	Currency           string         `json:"currency"`
	OrderTime          string         `json:"order_time,omitempty"`
	ModifiedTime       string         `json:"modified_time,omitempty"`
	TimestampDefaulted bool           `json:"timestamp_defaulted,omitempty"`
	Items              []LineItemView `json:"items"`
	ShippingAddress    any            `json:"shipping_address,omitempty"`
	BillingAddress     any            `json:"billing_address,omitempty"`
	TrackingNumber     string         `json:"tracking_number,omitempty"`
	PromoCodes         []string       `json:"promo_codes,omitempty"`
	LeadAffiliateID    string         `json:"lead_affiliate_id,omitempty"`
	Raw                any            `json:"raw,omitempty"`
	LastSyncedAt       string         `json:"last_synced_at,omitempty"`
}

// LineItemView is a line item shaped for tool output.
type LineItemView struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
	Notes       string  `json:"notes,omitempty"`
}

func newOrderView(o *domain.Order) OrderView {
	v := OrderView{
		RemoteID:           o.RemoteID,
		CompanyID:          o.CompanyID,
		CustomerID:         o.CustomerID,
		CustomerEmail:      o.CustomerEmail,
		CustomerName:       o.CustomerName,
		Title:              o.Title,
		Status:             string(o.Status),
		PaymentStatus:      o.PaymentStatus,
		Total:              o.Total.Float(),
		Currency:           o.Currency,
		OrderTime:          formatTime(o.OrderTime),
		ModifiedTime:       formatTime(o.ModifiedTime),
		TimestampDefaulted: o.TimestampDefaulted,
		Items:              make([]LineItemView, 0, len(o.Items)),
		ShippingAddress:    decodeBlob(o.ShippingAddress),
		BillingAddress:     decodeBlob(o.BillingAddress),
		TrackingNumber:     o.TrackingNumber,
		PromoCodes:         o.PromoCodes,
		LeadAffiliateID:    o.LeadAffiliateID,
		Raw:                decodeBlob(o.Raw),
		LastSyncedAt:       formatTime(o.LastSyncedAt),
	}
	for _, item := range o.Items {
		v.Items = append(v.Items, LineItemView{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Float(),
			Subtotal:    item.Subtotal().Float(),
			Notes:       item.Notes,
		})
	}
	return v
}

// decodeBlob returns the decoded JSON value, or nil for an empty or
// unparseable blob.
func decodeBlob(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sync_orders",
		Description: "Pull orders from the CRM into the local store",
	}, s.handleSync)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report the last sync time, stored order count and any sync in progress",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_order",
		Description: "Fetch one synced order and its line items",
	}, s.handleGetOrder)
}

// handleSync runs a sync. A failed run is reported in the output with its
// partial counts rather than as a tool error.
func (s *Server) handleSync(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SyncInput,
) (*mcp.CallToolResult, SyncOutput, error) {
	mode := domain.SyncModeIncremental
	if input.Full {
		mode = domain.SyncModeFull
	}

	result, err := s.ports.Sync.Sync(ctx, driving.SyncRequest{Mode: mode, Bookmark: input.Bookmark})
	if err != nil {
		var syncErr *domain.SyncError
		if !errors.As(err, &syncErr) || syncErr.Result == nil {
			return nil, SyncOutput{}, err
		}
		result = syncErr.Result
	}

	return nil, SyncOutput{
		Success:           result.Success,
		Mode:              string(result.Mode),
		Fetched:           result.Fetched,
		Written:           result.Written,
		Failed:            result.Failed,
		Skipped:           result.Skipped,
		SyncedBeforeError: result.SyncedBeforeError,
		ErrorCode:         result.ErrorCode,
		Message:           result.Message,
		Errors:            result.Errors,
		Bookmark:          result.Bookmark,
	}, nil
}

// handleStatus reports the sync status.
func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	status, err := s.ports.Sync.Status(ctx, input.Bookmark)
	if err != nil {
		return nil, StatusOutput{}, err
	}

	out := StatusOutput{
		Running:     status.Running,
		Phase:       string(status.Phase),
		TotalOrders: status.TotalOrders,
		LastSync:    formatTime(status.LastSync),
		Bookmark:    status.Bookmark,
	}
	if status.Cursor != nil {
		out.Position = formatTime(status.Cursor.Position)
	}
	return nil, out, nil
}

// handleGetOrder returns one stored order.
func (s *Server) handleGetOrder(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetOrderInput,
) (*mcp.CallToolResult, GetOrderOutput, error) {
	order, bookmark, err := s.ports.Orders.Get(ctx, input.Bookmark, input.OrderID)
	if err != nil {
		return nil, GetOrderOutput{}, err
	}
	return nil, GetOrderOutput{Order: newOrderView(order), Bookmark: bookmark}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
