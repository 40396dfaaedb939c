package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/registry"
)

// Event type names, mirrored from the teacher's events.EventType
// constants.
const (
	EventAccountCreated    = "AccountCreated"
	EventDepositMade       = "DepositMade"
	EventWithdrawalMade    = "WithdrawalMade"
	EventCurrencyConverted = "CurrencyConverted"
	EventMoneyTransferred  = "MoneyTransferred"
)

// AccountCreatedPayload is the payload of EventAccountCreated.
type AccountCreatedPayload struct {
	InitialBalances []Balance `json:"initialBalances"`
}

// DepositMadePayload is the payload of EventDepositMade.
type DepositMadePayload struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// WithdrawalMadePayload is the payload of EventWithdrawalMade.
type WithdrawalMadePayload struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// CurrencyConvertedPayload is the payload of EventCurrencyConverted.
type CurrencyConvertedPayload struct {
	FromAmount   decimal.Decimal `json:"fromAmount"`
	FromCurrency Currency        `json:"fromCurrency"`
	ToAmount     decimal.Decimal `json:"toAmount"`
	ToCurrency   Currency        `json:"toCurrency"`
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
}

// MoneyTransferredPayload is the payload of EventMoneyTransferred.
// Transfers are recorded as one event on each side of the pair;
// Direction picks which half of the fields this account's fold should
// apply. Both halves carry the full pair so either stream's history is
// self-describing.
type MoneyTransferredPayload struct {
	TransferID      string          `json:"transferId"`
	Direction       string          `json:"direction"` // "debit" or "credit"
	CounterpartyID  string          `json:"counterpartyId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        Currency        `json:"currency"`
	CounterAmount   decimal.Decimal `json:"counterAmount"`
	CounterCurrency Currency        `json:"counterCurrency"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
}

// RegisterTypes binds every ledger payload type into b at schema version
// 1, to be frozen into a *registry.Registry before the service starts.
func RegisterTypes(b *registry.Builder) error {
	regs := []struct {
		sample any
		name   string
	}{
		{AccountCreatedPayload{}, EventAccountCreated},
		{DepositMadePayload{}, EventDepositMade},
		{WithdrawalMadePayload{}, EventWithdrawalMade},
		{CurrencyConvertedPayload{}, EventCurrencyConverted},
		{MoneyTransferredPayload{}, EventMoneyTransferred},
	}
	for _, r := range regs {
		if err := b.Register(r.sample, r.name, 1, nil); err != nil {
			return fmt.Errorf("ledger: register %s: %w", r.name, err)
		}
	}
	return nil
}

// encodeEvent looks up name's registered codec and schema version and
// builds an event.Event carrying the encoded payload. EventVersion is
// left zero; the engine assigns it at commit time.
func encodeEvent(reg *registry.Registry, name string, payload any) (event.Event, error) {
	entry, ok := reg.ByName(name)
	if !ok {
		return event.Event{}, fmt.Errorf("ledger: event type %q is not registered", name)
	}
	data, err := entry.Codec.Encode(payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("ledger: encode %s: %w", name, err)
	}
	return event.Event{EventType: name, SchemaVersion: entry.SchemaVersion, Payload: data}, nil
}

// decodePayload decodes e's payload into dest using e's exact
// registered (name, schema version) codec.
func decodePayload(reg *registry.Registry, e event.Event, dest any) error {
	entry, ok := reg.ByNameAndVersion(e.EventType, e.SchemaVersion)
	if !ok {
		return fmt.Errorf("ledger: no codec registered for %s@%d", e.EventType, e.SchemaVersion)
	}
	return entry.Codec.Decode(e.Payload, dest)
}
