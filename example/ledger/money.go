// Package ledger is a worked example built on top of the stream engine:
// a small multi-currency account aggregate, adapted from a teacher
// financial-ledger domain package onto session/fold/engine/registry
// instead of a bespoke event store.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code. Only the three the worked example ships
// exchange rates for are predeclared; callers may use any string value.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// Balance pairs a currency with an amount, used in the AccountCreated
// payload's initial balance list.
type Balance struct {
	Currency Currency        `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Money is a currency-checked decimal value, grounded on the teacher's
// domain.Money.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: cannot add %s and %s", m.Currency, other.Currency)
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: cannot subtract %s from %s", other.Currency, m.Currency)
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

func (m Money) GreaterThanOrEqual(other Money) (bool, error) {
	if m.Currency != other.Currency {
		return false, fmt.Errorf("currency mismatch: cannot compare %s and %s", m.Currency, other.Currency)
	}
	return m.Amount.GreaterThanOrEqual(other.Amount), nil
}
