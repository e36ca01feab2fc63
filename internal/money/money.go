// Package money provides an integer minor-unit money type.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Errors returned by the constructors and JSON decoding.
var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmbiguousAmount = errors.New("ambiguous amount: use a pounds string or {\"minor\": n}")
)

var hundred = decimal.NewFromInt(100)

// Money is an amount of GBP held as an integer number of pence.
// The zero value is zero pounds.
type Money struct {
	minor int64
}

// Zero is £0.00.
var Zero = Money{}

// FromMinor builds an amount from pence.
func FromMinor(pence int64) Money {
	return Money{minor: pence}
}

// FromPounds builds an amount from a pounds value, rounding to the nearest penny.
func FromPounds(pounds float64) Money {
	return fromDecimal(decimal.NewFromFloat(pounds))
}

// ParsePounds parses strings such as "12.34", "£12.34" or "-0.5".
func ParsePounds(s string) (Money, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "£")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return fromDecimal(d), nil
}

// MustParsePounds is ParsePounds for constants in tests and defaults.
func MustParsePounds(s string) Money {
	m, err := ParsePounds(s)
	if err != nil {
		panic(err)
	}
	return m
}

func fromDecimal(d decimal.Decimal) Money {
	return Money{minor: d.Mul(hundred).Round(0).IntPart()}
}

// Minor returns the amount in pence.
func (m Money) Minor() int64 { return m.minor }

// Decimal returns the amount in pounds as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -2)
}

// Pounds returns the amount in pounds. Display only.
func (m Money) Pounds() float64 {
	return m.Decimal().InexactFloat64()
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{minor: m.minor + o.minor} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{minor: m.minor - o.minor} }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.minor > 0 }

// IsZero reports whether m == 0.
func (m Money) IsZero() bool { return m.minor == 0 }

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool { return m.minor < o.minor }

// GreaterOrEqual reports whether m >= o.
func (m Money) GreaterOrEqual(o Money) bool { return m.minor >= o.minor }

// Min returns the smaller of two amounts.
func Min(a, b Money) Money {
	if a.minor < b.minor {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b Money) Money {
	if a.minor > b.minor {
		return a
	}
	return b
}

// Clamp bounds m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	return Max(lo, Min(m, hi))
}

// MulFloor multiplies by a decimal factor and truncates toward zero.
func (m Money) MulFloor(factor decimal.Decimal) Money {
	return Money{minor: decimal.NewFromInt(m.minor).Mul(factor).Truncate(0).IntPart()}
}

// MulDivFloor returns floor(m * num / den) without intermediate rounding.
// A non-positive den yields zero.
func (m Money) MulDivFloor(num, den decimal.Decimal) Money {
	if !den.IsPositive() {
		return Zero
	}
	q, _ := decimal.NewFromInt(m.minor).Mul(num).QuoRem(den, 0)
	return Money{minor: q.IntPart()}
}

// Div splits m into n equal parts, dropping the remainder.
func (m Money) Div(n int) Money {
	if n <= 0 {
		return Zero
	}
	return Money{minor: m.minor / int64(n)}
}

// String renders the amount as £1,234.56.
func (m Money) String() string {
	sign := ""
	v := m.minor
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / 100
	frac := v % 100

	digits := fmt.Sprintf("%d", whole)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s£%s.%02d", sign, b.String(), frac)
}

// MarshalJSON encodes the amount as {"minor": n}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Minor int64 `json:"minor"`
	}{m.minor})
}

// UnmarshalJSON accepts {"minor": n}, a bare JSON integer of pence, or a
// pounds string such as "12.50". Bare JSON numbers with a fractional part
// are rejected because their unit cannot be known.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		var obj struct {
			Minor  *int64  `json:"minor"`
			Pounds *string `json:"pounds"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		switch {
		case obj.Minor != nil && obj.Pounds != nil:
			return fmt.Errorf("%w: both minor and pounds set", ErrInvalidAmount)
		case obj.Minor != nil:
			*m = FromMinor(*obj.Minor)
		case obj.Pounds != nil:
			parsed, err := ParsePounds(*obj.Pounds)
			if err != nil {
				return err
			}
			*m = parsed
		default:
			return fmt.Errorf("%w: expected minor or pounds", ErrInvalidAmount)
		}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		parsed, err := ParsePounds(s)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	default:
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		pence, err := n.Int64()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrAmbiguousAmount, n.String())
		}
		*m = FromMinor(pence)
		return nil
	}
}
