// Package order maps CRM order records onto the local order schema.
//
// All defaulting for missing remote fields happens here, in one place:
//
//	total            0
//	status           unknown
//	order time       processing time, flagged TimestampDefaulted
//	order items      empty list
//	addresses        {}
//	promo codes      empty list
//	payment status   pending
//	currency         USD
//	item quantity    1
//
// Records that cannot be stored (no id, negative amounts, non-positive
// quantities, unparseable timestamps) are rejected with a
// *domain.ValidationError so the caller can skip and count them.
package order

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

// Defaults applied to missing remote fields.
const (
	DefaultPaymentStatus = "pending"
	DefaultCurrency      = "USD"
	DefaultQuantity      = 1
)

// timeLayouts are tried in order when parsing remote timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Ensure Normaliser implements the interface.
var _ driven.OrderNormaliser = (*Normaliser)(nil)

// Normaliser transforms remote orders. It is safe for concurrent use.
type Normaliser struct {
	validate *validator.Validate
}

// New creates a new order normaliser.
func New() *Normaliser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Normaliser{validate: v}
}

// checked is the subset of an order that must satisfy structural rules
// before it is stored.
type checked struct {
	RemoteID string        `json:"id" validate:"required"`
	Total    domain.Money  `json:"total" validate:"gte=0"`
	Items    []checkedItem `json:"order_items" validate:"dive"`
}

type checkedItem struct {
	Quantity  int          `json:"quantity" validate:"gt=0"`
	UnitPrice domain.Money `json:"price" validate:"gte=0"`
}

// Normalise converts a remote order to a local order. now is used for the
// order time when the record carries none.
func (n *Normaliser) Normalise(remote *domain.RemoteOrder, now time.Time) (domain.Order, error) {
	if remote == nil {
		return domain.Order{}, &domain.ValidationError{Field: "id", Reason: "is required"}
	}
	remoteID := strings.TrimSpace(string(remote.ID))

	order := domain.Order{
		RemoteID:        remoteID,
		Title:           deref(remote.Title),
		Status:          FoldStatus(deref(remote.Status)),
		PaymentStatus:   DefaultPaymentStatus,
		Currency:        DefaultCurrency,
		Items:           []domain.LineItem{},
		ShippingAddress: objectOrEmpty(remote.ShippingAddress),
		BillingAddress:  objectOrEmpty(remote.BillingAddress),
		TrackingNumber:  deref(remote.TrackingNumber),
		PromoCodes:      []string{},
		Raw:             remote.Raw,
	}

	if remote.Total != nil {
		order.Total = domain.MoneyFromFloat(remote.Total.Amount)
		if c := strings.TrimSpace(remote.Total.Currency); c != "" {
			order.Currency = strings.ToUpper(c)
		}
	}
	if ps := strings.TrimSpace(deref(remote.PaymentStatus)); ps != "" {
		order.PaymentStatus = cases.Fold().String(ps)
	}
	if len(remote.PromoCodes) > 0 {
		order.PromoCodes = append(order.PromoCodes, remote.PromoCodes...)
	}
	if remote.LeadAffiliateID != nil {
		order.LeadAffiliateID = string(*remote.LeadAffiliateID)
	}

	applyCustomer(&order, remote)

	orderTime, err := firstTimestamp(remoteID, "order_time",
		remote.OrderTime, remote.CreationTime, remote.CreationDate)
	if err != nil {
		return domain.Order{}, err
	}
	if orderTime.IsZero() {
		order.OrderTime = now.UTC()
		order.TimestampDefaulted = true
	} else {
		order.OrderTime = orderTime
	}

	modified, err := firstTimestamp(remoteID, "modification_date", remote.ModificationDate)
	if err != nil {
		return domain.Order{}, err
	}
	order.ModifiedTime = modified

	for _, ri := range remote.OrderItems {
		order.Items = append(order.Items, normaliseItem(ri))
	}

	if err := n.check(&order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// FoldStatus case-folds a remote status and maps it onto the known set.
// Unrecognised and empty values become domain.StatusUnknown.
func FoldStatus(s string) domain.OrderStatus {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.StatusUnknown
	}
	return domain.ParseOrderStatus(cases.Fold().String(s))
}

func applyCustomer(order *domain.Order, remote *domain.RemoteOrder) {
	if remote.ContactID != nil {
		order.CustomerID = string(*remote.ContactID)
	}
	if remote.Contact == nil {
		return
	}
	if order.CustomerID == "" {
		order.CustomerID = string(remote.Contact.ID)
	}
	order.CustomerEmail = remote.Contact.Email
	order.CustomerName = strings.TrimSpace(remote.Contact.GivenName + " " + remote.Contact.FamilyName)
}

func normaliseItem(ri domain.RemoteOrderItem) domain.LineItem {
	item := domain.LineItem{
		RemoteID: string(ri.ID),
		Quantity: DefaultQuantity,
		Notes:    deref(ri.Notes),
	}
	if ri.ProductID != nil {
		item.ProductID = string(*ri.ProductID)
	}
	switch {
	case deref(ri.ProductName) != "":
		item.ProductName = *ri.ProductName
	case ri.Product != nil && ri.Product.Name != "":
		item.ProductName = ri.Product.Name
	default:
		item.ProductName = deref(ri.Name)
	}
	if item.ProductID == "" && ri.Product != nil {
		item.ProductID = string(ri.Product.ID)
	}
	if ri.Quantity != nil {
		item.Quantity = *ri.Quantity
	}
	if ri.Price != nil {
		item.UnitPrice = domain.MoneyFromFloat(ri.Price.Amount)
	}
	return item
}

// check runs the structural rules and converts the first failure to a
// *domain.ValidationError.
func (n *Normaliser) check(order *domain.Order) error {
	c := checked{RemoteID: order.RemoteID, Total: order.Total}
	for _, item := range order.Items {
		c.Items = append(c.Items, checkedItem{Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}

	err := n.validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{RemoteID: order.RemoteID, Field: "record", Reason: err.Error()}
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return &domain.ValidationError{
		RemoteID: order.RemoteID,
		Field:    field,
		Reason:   reason(fe.Tag()),
	}
}

func reason(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "gt":
		return "must be positive"
	case "gte":
		return "must not be negative"
	default:
		return "failed " + tag
	}
}

// firstTimestamp parses the first non-empty candidate. A candidate that is
// present but unparseable is a validation error.
func firstTimestamp(remoteID, field string, candidates ...*string) (time.Time, error) {
	for _, c := range candidates {
		s := strings.TrimSpace(deref(c))
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, &domain.ValidationError{
			RemoteID: remoteID,
			Field:    field,
			Reason:   "is not a valid timestamp",
		}
	}
	return time.Time{}, nil
}

// objectOrEmpty returns raw unless it is missing or null.
func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`)
	}
	return raw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
