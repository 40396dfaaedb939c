package ledger

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/fold"
	"github.com/nullstream/eventstream/registry"
)

// Account is the aggregate state folded from one account's stream.
// Version mirrors the document's current_stream_version: -1 means no
// event has been folded yet (account does not exist).
type Account struct {
	ID       string                     `json:"id"`
	Balances map[Currency]decimal.Decimal `json:"balances"`
	Version  int64                      `json:"version"`
}

// NewAccount returns the empty pre-creation state for id.
func NewAccount(id string) *Account {
	return &Account{ID: id, Balances: make(map[Currency]decimal.Decimal), Version: -1}
}

func (a *Account) balance(cur Currency) decimal.Decimal {
	bal, ok := a.Balances[cur]
	if !ok {
		return decimal.Zero
	}
	return bal
}

// NewFold builds the fold host the account stream replays through. reg
// supplies the payload codecs each handler decodes with.
func NewFold(reg *registry.Registry) *fold.Host[*Account] {
	h := fold.New[*Account]()
	h.On(EventAccountCreated, func(a *Account, e event.Event) (*Account, error) {
		var p AccountCreatedPayload
		if err := decodePayload(reg, e, &p); err != nil {
			return a, err
		}
		a.Balances = make(map[Currency]decimal.Decimal, len(p.InitialBalances))
		for _, b := range p.InitialBalances {
			a.Balances[b.Currency] = b.Amount
		}
		a.Version = e.EventVersion
		return a, nil
	})
	h.On(EventDepositMade, func(a *Account, e event.Event) (*Account, error) {
		var p DepositMadePayload
		if err := decodePayload(reg, e, &p); err != nil {
			return a, err
		}
		a.Balances[p.Currency] = a.balance(p.Currency).Add(p.Amount)
		a.Version = e.EventVersion
		return a, nil
	})
	h.On(EventWithdrawalMade, func(a *Account, e event.Event) (*Account, error) {
		var p WithdrawalMadePayload
		if err := decodePayload(reg, e, &p); err != nil {
			return a, err
		}
		next := a.balance(p.Currency).Sub(p.Amount)
		if next.IsNegative() {
			log.Printf("CRITICAL: invariant violation: account %s balance for %s negative after %s@%d: %s - %s = %s",
				a.ID, p.Currency, e.EventType, e.EventVersion, a.balance(p.Currency).String(), p.Amount.String(), next.String())
			return a, fmt.Errorf("invariant violation: negative balance applying %s@%d", e.EventType, e.EventVersion)
		}
		a.Balances[p.Currency] = next
		a.Version = e.EventVersion
		return a, nil
	})
	h.On(EventCurrencyConverted, func(a *Account, e event.Event) (*Account, error) {
		var p CurrencyConvertedPayload
		if err := decodePayload(reg, e, &p); err != nil {
			return a, err
		}
		nextFrom := a.balance(p.FromCurrency).Sub(p.FromAmount)
		if nextFrom.IsNegative() {
			log.Printf("CRITICAL: invariant violation: account %s balance for %s negative after debit half of %s@%d: %s - %s = %s",
				a.ID, p.FromCurrency, e.EventType, e.EventVersion, a.balance(p.FromCurrency).String(), p.FromAmount.String(), nextFrom.String())
			return a, fmt.Errorf("invariant violation: negative balance applying debit half of %s@%d", e.EventType, e.EventVersion)
		}
		a.Balances[p.FromCurrency] = nextFrom
		a.Balances[p.ToCurrency] = a.balance(p.ToCurrency).Add(p.ToAmount)
		a.Version = e.EventVersion
		return a, nil
	})
	h.On(EventMoneyTransferred, func(a *Account, e event.Event) (*Account, error) {
		var p MoneyTransferredPayload
		if err := decodePayload(reg, e, &p); err != nil {
			return a, err
		}
		switch p.Direction {
		case "debit":
			next := a.balance(p.Currency).Sub(p.Amount)
			if next.IsNegative() {
				log.Printf("CRITICAL: invariant violation: account %s balance for %s negative after debit half of transfer %s@%d: %s - %s = %s",
					a.ID, p.Currency, p.TransferID, e.EventVersion, a.balance(p.Currency).String(), p.Amount.String(), next.String())
				return a, fmt.Errorf("invariant violation: negative balance applying transfer debit %s@%d", p.TransferID, e.EventVersion)
			}
			a.Balances[p.Currency] = next
		case "credit":
			a.Balances[p.CounterCurrency] = a.balance(p.CounterCurrency).Add(p.CounterAmount)
		default:
			return a, fmt.Errorf("ledger: unknown transfer direction %q in transfer %s", p.Direction, p.TransferID)
		}
		a.Version = e.EventVersion
		return a, nil
	})
	return h
}

// --- Command validation / event construction ---
// These mirror the teacher's Account.Handle* methods, but build the
// event to stage instead of mutating a private changes buffer; staging
// and folding both happen inside session.Session.Append.

func BuildCreateAccount(reg *registry.Registry, current *Account, initialBalances map[Currency]decimal.Decimal) (event.Event, error) {
	if current.Version >= 0 {
		return event.Event{}, fmt.Errorf("%w: account %s", ErrAccountExists, current.ID)
	}
	if current.ID == "" {
		return event.Event{}, newError("account ID cannot be empty")
	}

	entries := make([]Balance, 0, len(initialBalances))
	for cur, amt := range initialBalances {
		if amt.IsNegative() {
			return event.Event{}, newError("initial balance for %s cannot be negative: %s", cur, amt.String())
		}
		entries = append(entries, Balance{Currency: cur, Amount: amt})
	}

	return encodeEvent(reg, EventAccountCreated, AccountCreatedPayload{InitialBalances: entries})
}

func BuildDeposit(reg *registry.Registry, current *Account, amount decimal.Decimal, currency Currency) (event.Event, error) {
	if current.Version < 0 {
		return event.Event{}, newError("cannot deposit to uninitialized account")
	}
	if !amount.IsPositive() {
		return event.Event{}, newError("deposit amount must be positive: %s", amount.String())
	}
	return encodeEvent(reg, EventDepositMade, DepositMadePayload{Amount: amount, Currency: currency})
}

func BuildWithdrawal(reg *registry.Registry, current *Account, amount decimal.Decimal, currency Currency) (event.Event, error) {
	if current.Version < 0 {
		return event.Event{}, newError("cannot withdraw from uninitialized account")
	}
	if !amount.IsPositive() {
		return event.Event{}, newError("withdrawal amount must be positive: %s", amount.String())
	}
	if sufficient, _ := NewMoney(current.balance(currency), currency).GreaterThanOrEqual(NewMoney(amount, currency)); !sufficient {
		return event.Event{}, fmt.Errorf("%w: requested %s %s, available %s %s",
			ErrInsufficientFunds, amount.String(), currency, current.balance(currency).String(), currency)
	}
	return encodeEvent(reg, EventWithdrawalMade, WithdrawalMadePayload{Amount: amount, Currency: currency})
}

func BuildCurrencyConversion(reg *registry.Registry, current *Account, fromAmount decimal.Decimal, fromCurrency, toCurrency Currency, exchangeRate decimal.Decimal) (event.Event, error) {
	if current.Version < 0 {
		return event.Event{}, newError("cannot convert currency for uninitialized account")
	}
	if !fromAmount.IsPositive() {
		return event.Event{}, newError("conversion amount must be positive: %s", fromAmount.String())
	}
	if fromCurrency == toCurrency {
		return event.Event{}, newError("cannot convert currency %s to itself", fromCurrency)
	}
	if !exchangeRate.IsPositive() {
		return event.Event{}, newError("exchange rate must be positive: %s", exchangeRate.String())
	}
	if sufficient, _ := NewMoney(current.balance(fromCurrency), fromCurrency).GreaterThanOrEqual(NewMoney(fromAmount, fromCurrency)); !sufficient {
		return event.Event{}, fmt.Errorf("%w: requested %s %s, available %s %s for conversion",
			ErrInsufficientFunds, fromAmount.String(), fromCurrency, current.balance(fromCurrency).String(), fromCurrency)
	}

	toAmount := fromAmount.Mul(exchangeRate)
	return encodeEvent(reg, EventCurrencyConverted, CurrencyConvertedPayload{
		FromAmount: fromAmount, FromCurrency: fromCurrency,
		ToAmount: toAmount, ToCurrency: toCurrency,
		ExchangeRate: exchangeRate,
	})
}

// BuildTransferDebit builds the debit-side event staged on the source
// account's stream.
func BuildTransferDebit(reg *registry.Registry, current *Account, transferID, targetAccountID string, amount decimal.Decimal, currency Currency, counterAmount decimal.Decimal, counterCurrency Currency, rate decimal.Decimal) (event.Event, error) {
	if current.Version < 0 {
		return event.Event{}, newError("cannot transfer from uninitialized account")
	}
	if !amount.IsPositive() {
		return event.Event{}, newError("transfer amount must be positive: %s", amount.String())
	}
	if targetAccountID == "" {
		return event.Event{}, newError("target account ID cannot be empty")
	}
	if targetAccountID == current.ID {
		return event.Event{}, newError("cannot transfer funds to the same account")
	}
	if sufficient, _ := NewMoney(current.balance(currency), currency).GreaterThanOrEqual(NewMoney(amount, currency)); !sufficient {
		return event.Event{}, fmt.Errorf("%w: requested %s %s, available %s %s for transfer",
			ErrInsufficientFunds, amount.String(), currency, current.balance(currency).String(), currency)
	}

	return encodeEvent(reg, EventMoneyTransferred, MoneyTransferredPayload{
		TransferID: transferID, Direction: "debit", CounterpartyID: targetAccountID,
		Amount: amount, Currency: currency,
		CounterAmount: counterAmount, CounterCurrency: counterCurrency,
		ExchangeRate: rate,
	})
}

// BuildTransferCredit builds the credit-side event staged on the target
// account's stream. The target account need not already exist; the
// caller decides whether transfers may create one.
func BuildTransferCredit(reg *registry.Registry, sourceAccountID string, transferID string, amount decimal.Decimal, currency Currency, counterAmount decimal.Decimal, counterCurrency Currency, rate decimal.Decimal) (event.Event, error) {
	if !amount.IsPositive() {
		return event.Event{}, newError("transfer amount must be positive: %s", amount.String())
	}
	return encodeEvent(reg, EventMoneyTransferred, MoneyTransferredPayload{
		TransferID: transferID, Direction: "credit", CounterpartyID: sourceAccountID,
		Amount: amount, Currency: currency,
		CounterAmount: counterAmount, CounterCurrency: counterCurrency,
		ExchangeRate: rate,
	})
}
