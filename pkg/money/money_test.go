package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundsHalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"100", "100.00"},
		{"12.345", "12.35"},
		{"12.344", "12.34"},
		{"0.005", "0.01"},
		{"-0.005", "-0.01"},
		{"2.675", "2.68"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("ten rupees")
	assert.Error(t, err)
}

func TestPrice(t *testing.T) {
	tests := []struct {
		name   string
		weight string
		rate   string
		want   string
	}{
		{"whole kg", "5", "10", "50.00"},
		{"fractional weight", "2.5", "12.50", "31.25"},
		{"rounds half up", "0.33", "1.5", "0.50"},
		{"tiny", "0.1", "0.05", "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := decimal.RequireFromString(tt.weight)
			rate := MustParse(tt.rate)
			got := Price(w, rate)
			assert.Equal(t, tt.want, got.String())
			assert.True(t, got.Decimal().Equal(w.Mul(rate.Decimal()).Round(2)))
		})
	}
}

func TestPaisaRoundTrip(t *testing.T) {
	m := MustParse("499.99")
	assert.Equal(t, int64(49999), m.Paisa())
	assert.True(t, FromPaisa(49999).Equal(m))
	assert.Equal(t, int64(0), Zero.Paisa())
}

func TestArithmetic(t *testing.T) {
	a := MustParse("100")
	b := MustParse("80")
	assert.Equal(t, "20.00", a.Sub(b).String())
	assert.Equal(t, "180.00", a.Add(b).String())
	assert.Equal(t, "-80.00", b.Neg().String())
	assert.True(t, a.GreaterThanOrEqual(b))
	assert.False(t, b.GreaterThanOrEqual(a))
	assert.Equal(t, "10.00", a.Mul(decimal.RequireFromString("0.10")).String())
	assert.Equal(t, "0.30", Sum(MustParse("0.1"), MustParse("0.1"), MustParse("0.1")).String())
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{MustParse("5")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"5.00"}`, string(b))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.5","b":7.255}`), &in))
	assert.Equal(t, "12.50", in.A.String())
	assert.Equal(t, "7.26", in.B.String())
}

func TestScan(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		want string
	}{
		{"string", "100.00", "100.00"},
		{"bytes", []byte("12.345"), "12.35"},
		{"int64", int64(100), "100.00"},
		{"float64", 0.3, "0.30"},
		{"nil", nil, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Money
			require.NoError(t, m.Scan(tt.src))
			assert.Equal(t, tt.want, m.String())
		})
	}

	v, err := MustParse("9").Value()
	require.NoError(t, err)
	assert.Equal(t, "9.00", v)
}
