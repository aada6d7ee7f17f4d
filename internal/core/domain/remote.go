package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RemoteOrder is an order record as returned by the CRM API.
// Pointer fields are nil when the remote payload omitted them; the order
// normaliser applies defaults for those in one place.
type RemoteOrder struct {
	ID               FlexString        `json:"id"`
	Title            *string           `json:"title,omitempty"`
	Status           *string           `json:"status,omitempty"`
	Total            *FlexAmount       `json:"total,omitempty"`
	OrderTime        *string           `json:"order_time,omitempty"`
	CreationTime     *string           `json:"creation_time,omitempty"`
	CreationDate     *string           `json:"creation_date,omitempty"`
	ModificationDate *string           `json:"modification_date,omitempty"`
	ContactID        *FlexString       `json:"contact_id,omitempty"`
	Contact          *RemoteContact    `json:"contact,omitempty"`
	OrderItems       []RemoteOrderItem `json:"order_items,omitempty"`
	ShippingAddress  json.RawMessage   `json:"shipping_address,omitempty"`
	BillingAddress   json.RawMessage   `json:"billing_address,omitempty"`
	PaymentStatus    *string           `json:"payment_status,omitempty"`
	TrackingNumber   *string           `json:"tracking_number,omitempty"`
	PromoCodes       []string          `json:"promo_codes,omitempty"`
	LeadAffiliateID  *FlexString       `json:"lead_affiliate_id,omitempty"`

	// Raw holds the record exactly as received.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the record and keeps a copy of the original bytes.
func (r *RemoteOrder) UnmarshalJSON(data []byte) error {
	type plain RemoteOrder
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RemoteOrder(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// RemoteContact is the customer embedded in a remote order.
type RemoteContact struct {
	ID         FlexString `json:"id"`
	Email      string     `json:"email,omitempty"`
	GivenName  string     `json:"given_name,omitempty"`
	FamilyName string     `json:"family_name,omitempty"`
}

// RemoteOrderItem is a line item as returned by the CRM API.
type RemoteOrderItem struct {
	ID          FlexString     `json:"id"`
	Name        *string        `json:"name,omitempty"`
	ProductID   *FlexString    `json:"product_id,omitempty"`
	ProductName *string        `json:"product_name,omitempty"`
	Product     *RemoteProduct `json:"product,omitempty"`
	Quantity    *int           `json:"quantity,omitempty"`
	Price       *FlexAmount    `json:"price,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
}

// RemoteProduct is the product embedded in a remote line item.
type RemoteProduct struct {
	ID          FlexString `json:"id"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
}

// FlexString accepts a JSON string or number and stores it as a string.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexAmount accepts a JSON number, a numeric string, or an object of the
// form {"amount": 12.5, "currency_code": "USD"}.
type FlexAmount struct {
	Amount   float64
	Currency string
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = FlexAmount{}
		return nil
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			Amount       json.Number `json:"amount"`
			CurrencyCode string      `json:"currency_code"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		amount, err := parseAmount(obj.Amount.String())
		if err != nil {
			return err
		}
		*f = FlexAmount{Amount: amount, Currency: obj.CurrencyCode}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		amount, err := parseAmount(s)
		if err != nil {
			return err
		}
		*f = FlexAmount{Amount: amount}
		return nil
	default:
		amount, err := parseAmount(string(data))
		if err != nil {
			return err
		}
		*f = FlexAmount{Amount: amount}
		return nil
	}
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// RemotePage is one page of orders from the CRM.
type RemotePage struct {
	Orders []RemoteOrder

	// Invalid holds the records on the page that could not be decoded.
	Invalid []InvalidRecord

	// Total is the number of records the CRM reports as available, zero
	// when the response carried no count.
	Total int
}

// Received is the number of records the CRM returned, decodable or not.
// Offsets advance by this count.
func (p *RemotePage) Received() int {
	return len(p.Orders) + len(p.Invalid)
}

// InvalidRecord is a record whose JSON did not match the order shape.
type InvalidRecord struct {
	Raw json.RawMessage
	Err *ValidationError
}

// PageRequest selects a page of remote orders.
type PageRequest struct {
	Offset int
	Limit  int

	// Since restricts results to orders changed on or after this time; zero means no filter.
	Since time.Time
}
