package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Money
		wantErr string
	}{
		{name: "whole dollars", input: "20", want: Cents(2000)},
		{name: "one decimal", input: "20.5", want: Cents(2050)},
		{name: "dollar sign", input: "$20.50", want: Cents(2050)},
		{name: "surrounding spaces", input: "  7.05 ", want: Cents(705)},
		{name: "zero", input: "0", want: 0},
		{name: "empty", input: "", wantErr: "amount is required"},
		{name: "only sign", input: "$", wantErr: "amount is required"},
		{name: "letters", input: "ten", wantErr: `amount "ten" is not a valid number`},
		{name: "negative", input: "-1.00", wantErr: "amount must not be negative"},
		{name: "sub cent", input: "1.005", wantErr: "amount must have at most two decimal places"},
		{name: "largest amount", input: "92233720368547758.07", want: Cents(math.MaxInt64)},
		{name: "one cent past int64", input: "92233720368547758.08", wantErr: "amount is too large"},
		{name: "wraps to a dollar", input: "184467440737095517.16", wantErr: "amount is too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMoney(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_Formatting(t *testing.T) {
	assert.Equal(t, "20.00", Dollars(20).String())
	assert.Equal(t, "$0.05", Cents(5).Display())
	assert.Equal(t, "$1234.50", Cents(123450).Display())
}

func TestMoneyFromDecimal_Rounds(t *testing.T) {
	tests := []struct {
		in   string
		want Money
	}{
		{in: "10.005", want: Cents(1001)},
		{in: "10.004", want: Cents(1000)},
		{in: "-92233720368547758.08", want: Cents(math.MinInt64)},
	}

	for _, tt := range tests {
		got, err := MoneyFromDecimal(decimal.RequireFromString(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestMoneyFromDecimal_OutOfRange(t *testing.T) {
	for _, in := range []string{"92233720368547758.08", "184467440737095517.16", "-92233720368547758.09"} {
		_, err := MoneyFromDecimal(decimal.RequireFromString(in))
		assert.ErrorIs(t, err, ErrMoneyOutOfRange, in)
	}
}

func TestMoney_NoFloatDrift(t *testing.T) {
	var total Money
	for range 10 {
		total += Cents(10)
	}
	assert.Equal(t, Dollars(1), total)
}

func TestMoney_JSON(t *testing.T) {
	var item OrderItem
	require.NoError(t, json.Unmarshal([]byte(`{"product_id":"p1","quantity":2,"unit_price":"12.50","line_total":25}`), &item))
	assert.Equal(t, Cents(1250), item.UnitPrice)
	assert.Equal(t, Dollars(25), item.LineTotal)

	data, err := json.Marshal(Cents(2050))
	require.NoError(t, err)
	assert.Equal(t, "20.50", string(data))
}

func TestMoney_JSONRejectsOutOfRange(t *testing.T) {
	for _, raw := range []string{`184467440737095517.16`, `"184467440737095517.16"`} {
		m := Cents(42)
		err := json.Unmarshal([]byte(raw), &m)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrMoneyOutOfRange)
		assert.Equal(t, Cents(42), m, "value must be left untouched")
	}
}

func TestMoney_Scan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan([]byte("19.99")))
	assert.Equal(t, Cents(1999), m)

	require.NoError(t, m.Scan(nil))
	assert.Equal(t, Money(0), m)

	assert.Error(t, m.Scan(true))

	err := m.Scan("184467440737095517.16")
	assert.ErrorIs(t, err, ErrMoneyOutOfRange)
	assert.Equal(t, Money(0), m)
}
