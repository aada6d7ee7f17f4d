package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteOrder_UnmarshalKeepsRaw(t *testing.T) {
	payload := `{"id": 42, "status": "PAID", "total": {"amount": 19.99, "currency_code": "USD"}, "custom": true}`

	var o RemoteOrder
	require.NoError(t, json.Unmarshal([]byte(payload), &o))

	assert.Equal(t, FlexString("42"), o.ID)
	require.NotNil(t, o.Status)
	assert.Equal(t, "PAID", *o.Status)
	require.NotNil(t, o.Total)
	assert.InDelta(t, 19.99, o.Total.Amount, 0.0001)
	assert.Equal(t, "USD", o.Total.Currency)
	assert.JSONEq(t, payload, string(o.Raw))
}

func TestRemoteOrder_MissingFieldsStayNil(t *testing.T) {
	var o RemoteOrder
	require.NoError(t, json.Unmarshal([]byte(`{"id": "A1"}`), &o))

	assert.Equal(t, FlexString("A1"), o.ID)
	assert.Nil(t, o.Status)
	assert.Nil(t, o.Total)
	assert.Nil(t, o.OrderItems)
	assert.Nil(t, o.ShippingAddress)
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want FlexString
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
		assert.Equal(t, tt.want, f)
	}

	var f FlexString
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &f))
}

func TestFlexAmount(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		amount   float64
		currency string
	}{
		{"number", `10`, 10, ""},
		{"string", `"12.50"`, 12.5, ""},
		{"empty string", `""`, 0, ""},
		{"object", `{"amount": 7.25, "currency_code": "AUD"}`, 7.25, "AUD"},
		{"null", `null`, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexAmount
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.InDelta(t, tt.amount, f.Amount, 0.0001)
			assert.Equal(t, tt.currency, f.Currency)
		})
	}

	var f FlexAmount
	assert.Error(t, json.Unmarshal([]byte(`"ten dollars"`), &f))
}
