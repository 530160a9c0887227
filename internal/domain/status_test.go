package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToOrderStatus(t *testing.T) {
	tests := []struct {
		input string
		want  OrderStatus
	}{
		{"pending", StatusPending},
		{"CONFIRMED", StatusConfirmed},
		{"canceled", StatusCanceled},
		{"cancelled", StatusCanceled},
		{"refunded", StatusConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ToOrderStatus(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ToOrderStatus("shipped")
	assert.EqualError(t, err, `invalid order status "shipped"`)
}

func TestOrderStatus_UnmarshalJSON(t *testing.T) {
	var o struct {
		Status OrderStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"cancelled"}`), &o))
	assert.Equal(t, StatusCanceled, o.Status)
	assert.True(t, o.Status.IsTerminal())

	assert.Error(t, json.Unmarshal([]byte(`{"status":"lost"}`), &o))
}
