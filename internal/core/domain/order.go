package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Known order statuses. Anything else normalises to StatusUnknown.
const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
	StatusRefunded  OrderStatus = "refunded"
	StatusUnknown   OrderStatus = "unknown"
)

// AllOrderStatuses returns every known status in display order.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		StatusPending,
		StatusPaid,
		StatusCompleted,
		StatusCancelled,
		StatusRefunded,
		StatusUnknown,
	}
}

// ParseOrderStatus maps an already case-folded status string to an OrderStatus.
// Unrecognised values map to StatusUnknown.
func ParseOrderStatus(folded string) OrderStatus {
	switch OrderStatus(folded) {
	case StatusPending, StatusPaid, StatusCompleted, StatusCancelled, StatusRefunded:
		return OrderStatus(folded)
	case "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// IsValid reports whether s is one of the known statuses.
func (s OrderStatus) IsValid() bool {
	for _, known := range AllOrderStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Money is a non-negative monetary amount in minor units (cents).
type Money int64

// MoneyFromFloat converts a decimal amount to minor units, rounding half away from zero.
func MoneyFromFloat(amount float64) Money {
	if amount < 0 {
		return Money(amount*100 - 0.5)
	}
	return Money(amount*100 + 0.5)
}

// Float returns the amount as a decimal value.
func (m Money) Float() float64 {
	return float64(m) / 100
}

// String formats the amount with two decimal places.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as a decimal number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// Order is a CRM order as stored locally.
type Order struct {
	// ID is the locally generated primary key.
	ID string `json:"id"`

	// RemoteID is the CRM's immutable identifier and the sole idempotency key.
	RemoteID string `json:"remote_id"`

	// CompanyID is an opaque tenant identifier passed through untouched.
	CompanyID string `json:"company_id,omitempty"`

	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	Title         string `json:"title,omitempty"`

	Status        OrderStatus `json:"status"`
	PaymentStatus string      `json:"payment_status"`
	Total         Money       `json:"total"`
	Currency      string      `json:"currency"`

	// OrderTime is when the order was placed.
	OrderTime time.Time `json:"order_time"`

	// ModifiedTime is the CRM's last modification time, zero if not supplied.
	ModifiedTime time.Time `json:"modified_time,omitzero"`

	// TimestampDefaulted is set when OrderTime was not supplied and the
	// processing time was used instead.
	TimestampDefaulted bool `json:"timestamp_defaulted,omitempty"`

	Items []LineItem `json:"items"`

	ShippingAddress json.RawMessage `json:"shipping_address"`
	BillingAddress  json.RawMessage `json:"billing_address"`

	TrackingNumber  string   `json:"tracking_number,omitempty"`
	PromoCodes      []string `json:"promo_codes"`
	LeadAffiliateID string   `json:"lead_affiliate_id,omitempty"`

	// Raw is the untouched remote payload.
	Raw json.RawMessage `json:"raw,omitempty"`

	// LastSyncedAt is when this row was last written by a sync.
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
}

// ChangedAt returns the timestamp used for incremental sync filtering:
// the modification time when known, otherwise the order time.
func (o *Order) ChangedAt() time.Time {
	if !o.ModifiedTime.IsZero() {
		return o.ModifiedTime
	}
	return o.OrderTime
}

// ItemsTotal returns the sum of line item subtotals.
func (o *Order) ItemsTotal() Money {
	var sum Money
	for _, item := range o.Items {
		sum += item.Subtotal()
	}
	return sum
}

// LineItem is a single product line owned by exactly one Order.
type LineItem struct {
	RemoteID    string `json:"remote_id,omitempty"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	Notes       string `json:"notes,omitempty"`
}

// Subtotal returns quantity times unit price.
func (li LineItem) Subtotal() Money {
	return Money(int64(li.Quantity)) * li.UnitPrice
}

// Order listing page sizes.
const (
	DefaultOrderPageLimit = 50
	MaxOrderPageLimit     = 1000
)

// OrderFilter narrows order listings.
type OrderFilter struct {
	// Status filters by normalised status; empty means all.
	Status OrderStatus

	// Page is 1-based.
	Page int

	// Limit is the page size.
	Limit int
}

// Normalised returns the filter with page and limit clamped to valid values.
func (f OrderFilter) Normalised() OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit < 1:
		f.Limit = DefaultOrderPageLimit
	case f.Limit > MaxOrderPageLimit:
		f.Limit = MaxOrderPageLimit
	}
	return f
}

// Validate rejects a normalised filter whose page lies so far out that its
// row offset would overflow.
func (f OrderFilter) Validate() error {
	if f.Limit > 0 && f.Page-1 > math.MaxInt/f.Limit {
		return fmt.Errorf("page %d is out of range: %w", f.Page, ErrInvalidInput)
	}
	return nil
}

// Offset returns the number of rows to skip for the filter's page.
func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// OrderPage is one page of a local order listing.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
	Pages  int     `json:"pages"`
}

// OrderMetrics summarises stored orders over a time window.
type OrderMetrics struct {
	Since           time.Time         `json:"since"`
	TotalRevenue    Money             `json:"total_revenue"`
	OrderCount      int               `json:"order_count"`
	AvgOrderValue   Money             `json:"avg_order_value"`
	StatusBreakdown []StatusBreakdown `json:"status_breakdown"`
	DailySales      []DailySales      `json:"daily_sales"`
	TopProducts     []ProductSales    `json:"top_products"`
}

// StatusBreakdown is the order count and revenue for one status.
type StatusBreakdown struct {
	Status  OrderStatus `json:"status"`
	Count   int         `json:"count"`
	Revenue Money       `json:"revenue"`
}

// DailySales is the order count and revenue for one calendar day (UTC).
type DailySales struct {
	Date    string `json:"date"`
	Orders  int    `json:"orders"`
	Revenue Money  `json:"revenue"`
}

// ProductSales is the revenue attributed to one product name.
type ProductSales struct {
	ProductName string `json:"product_name"`
	OrderCount  int    `json:"order_count"`
	Revenue     Money  `json:"revenue"`
}
