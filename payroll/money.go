/*
Package payroll provides the core payroll computation engine.

PURPOSE:
  This package contains the domain types and algorithms for computing
  monthly payroll: effective-dated salaries, pay components, proration
  over employment segments, statutory assessment, deduction sequencing,
  the run/item state machine, and an append-only posting ledger.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: a monetary amount with a currency (GHS for Ghana payroll)
  - All arithmetic is decimal-based; float64 never enters a computation path
  - RoundPesewa: the single rounding rule (half away from zero, 2dp)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal end to end; rounding happens once, at the
     line level, never on intermediates
  2. Immutability: ledger transactions are never modified, only reversed
  3. Type Safety: strong typing for IDs prevents mixing employee/run/period IDs
  4. Auditability: every posted amount has a reason, reference, and
     idempotency key

USAGE:
  basic := payroll.MustParseMoney("2500.00", payroll.GHS)
  half := basic.Mul(decimal.NewFromFloat(0.5)).RoundPesewa()

SEE ALSO:
  - calendar.go: date arithmetic and proration factors
  - ledger.go: the posting ledger built on Money
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with currency
// =============================================================================

type Currency string

const (
	// GHS is the Ghanaian cedi, the only currency this payroll runs in.
	// The subunit is the pesewa (1/100).
	GHS Currency = "GHS"
)

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MoneyFromDecimal(d decimal.Decimal, currency Currency) Money {
	return Money{Value: d, Currency: currency}
}

func ZeroMoney(currency Currency) Money {
	return Money{Value: decimal.Zero, Currency: currency}
}

// MustParseMoney parses a decimal string. Malformed input yields zero,
// matching the lenient parse used for stored amounts.
func MustParseMoney(s string, currency Currency) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney(currency)
	}
	return Money{Value: d, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Arithmetic takes the left operand's currency. Cross-currency payrolls do
// not exist here; the convention keeps call sites free of error plumbing.

func (m Money) Zero() Money                  { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money            { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money            { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money  { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money  { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                   { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) Abs() Money                   { return Money{Value: m.Value.Abs(), Currency: m.Currency} }
func (m Money) IsNegative() bool             { return m.Value.IsNegative() }
func (m Money) IsZero() bool                 { return m.Value.IsZero() }
func (m Money) IsPositive() bool             { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool     { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool        { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool           { return m.Value.Equal(b.Value) }
func (m Money) Cmp(b Money) int              { return m.Value.Cmp(b.Value) }

func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

func (m Money) Max(b Money) Money {
	if m.GreaterThan(b) {
		return m
	}
	return b
}

// RoundPesewa rounds to two decimal places, half away from zero. This is
// the only rounding rule in the engine: computation keeps full precision
// and rounds once when an amount becomes a payable line.
func (m Money) RoundPesewa() Money {
	return Money{Value: m.Value.Round(2), Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Value.StringFixed(2), m.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RunID string
type ItemID string
type TransactionID string
