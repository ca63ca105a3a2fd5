// Package money implements the fixed-point amount used by every ledger and
// settlement computation. Amounts carry two fractional digits and round half
// up (away from zero) whenever they are canonicalized.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on every persisted amount.
const Places = 2

// Money is an exact decimal amount in NPR. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

var Zero = Money{}

// New canonicalizes d to two decimal places.
func New(d decimal.Decimal) Money {
	return Money{d: d.Round(Places)}
}

func FromInt(n int64) Money {
	return Money{d: decimal.NewFromInt(n)}
}

// Parse accepts strings like "100", "99.5" or "12.345" (rounded to 12.35).
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return New(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromPaisa converts an integer paisa amount (1/100 NPR) used by Khalti.
func FromPaisa(p int64) Money {
	return Money{d: decimal.New(p, -Places)}
}

// Paisa returns the amount in paisa.
func (m Money) Paisa() int64 {
	return m.d.Round(Places).Shift(Places).IntPart()
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return New(m.d.Add(o.d)) }
func (m Money) Sub(o Money) Money { return New(m.d.Sub(o.d)) }
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// Mul multiplies by an arbitrary decimal factor and rounds the product.
func (m Money) Mul(f decimal.Decimal) Money { return New(m.d.Mul(f)) }

func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsZero() bool { return m.d.IsZero() }

// String always renders two fractional digits, e.g. "50.00".
func (m Money) String() string {
	return m.d.StringFixed(Places)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both a quoted decimal and a bare JSON number.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = Zero
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value stores the canonical string so no driver ever sees a float.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(src interface{}) error {
	if src == nil {
		*m = Zero
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	*m = New(d)
	return nil
}

// Price is the one place a settled price is derived: round(weight x rate, 2).
func Price(weight decimal.Decimal, rate Money) Money {
	return New(weight.Mul(rate.d))
}

// Sum adds amounts and canonicalizes the total.
func Sum(ms ...Money) Money {
	total := decimal.Zero
	for _, m := range ms {
		total = total.Add(m.d)
	}
	return New(total)
}
