package ledger_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/example/ledger"
	"github.com/nullstream/eventstream/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder()
	if err := ledger.RegisterTypes(b); err != nil {
		t.Fatalf("register types: %v", err)
	}
	return b.Freeze()
}

// stamp assigns sequential EventVersion, standing in for what the engine
// does at commit time.
func stamp(events ...event.Event) []event.Event {
	for i := range events {
		events[i].EventVersion = int64(i)
	}
	return events
}

func TestAccountCreationFoldsInitialBalances(t *testing.T) {
	reg := newTestRegistry(t)
	fold := ledger.NewFold(reg)
	account := ledger.NewAccount("acc-1")

	evt, err := ledger.BuildCreateAccount(reg, account, map[ledger.Currency]decimal.Decimal{
		ledger.USD: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, err := fold.Replay(account, stamp(evt))
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if state.Version != 0 {
		t.Fatalf("expected version 0 after first event, got %d", state.Version)
	}
	if got := state.Balances[ledger.USD]; !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected balance 100, got %s", got.String())
	}
}

func TestDoubleCreationRejected(t *testing.T) {
	reg := newTestRegistry(t)
	account := ledger.NewAccount("acc-1")
	account.Version = 0

	if _, err := ledger.BuildCreateAccount(reg, account, nil); !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestWithdrawalRejectsInsufficientFunds(t *testing.T) {
	reg := newTestRegistry(t)
	account := ledger.NewAccount("acc-1")
	account.Version = 0
	account.Balances[ledger.USD] = decimal.NewFromInt(10)

	_, err := ledger.BuildWithdrawal(reg, account, decimal.NewFromInt(50), ledger.USD)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	fold := ledger.NewFold(reg)
	account := ledger.NewAccount("acc-1")

	created, err := ledger.BuildCreateAccount(reg, account, map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.Zero})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state, err := fold.Replay(account, stamp(created))
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}

	deposit, err := ledger.BuildDeposit(reg, state, decimal.NewFromInt(40), ledger.USD)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	depositEvt := deposit
	depositEvt.EventVersion = 1
	state, err = fold.Apply(state, depositEvt)
	if err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
	if got := state.Balances[ledger.USD]; !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 40 after deposit, got %s", got.String())
	}

	withdrawal, err := ledger.BuildWithdrawal(reg, state, decimal.NewFromInt(15), ledger.USD)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	withdrawal.EventVersion = 2
	state, err = fold.Apply(state, withdrawal)
	if err != nil {
		t.Fatalf("apply withdrawal: %v", err)
	}
	if got := state.Balances[ledger.USD]; !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25 after withdrawal, got %s", got.String())
	}
	if state.Version != 2 {
		t.Fatalf("expected version 2, got %d", state.Version)
	}
}

func TestCurrencyConversionMovesBothBalances(t *testing.T) {
	reg := newTestRegistry(t)
	fold := ledger.NewFold(reg)
	account := ledger.NewAccount("acc-1")
	account.Version = 0
	account.Balances[ledger.USD] = decimal.NewFromInt(100)

	evt, err := ledger.BuildCurrencyConversion(reg, account, decimal.NewFromInt(50), ledger.USD, ledger.EUR, decimal.RequireFromString("0.9"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	evt.EventVersion = 1
	state, err := fold.Apply(account, evt)
	if err != nil {
		t.Fatalf("apply convert: %v", err)
	}
	if got := state.Balances[ledger.USD]; !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected USD 50, got %s", got.String())
	}
	if got := state.Balances[ledger.EUR]; !got.Equal(decimal.RequireFromString("45")) {
		t.Fatalf("expected EUR 45, got %s", got.String())
	}
}

func TestTransferDebitAndCreditApplyOnCorrectStreams(t *testing.T) {
	reg := newTestRegistry(t)
	fold := ledger.NewFold(reg)

	source := ledger.NewAccount("acc-src")
	source.Version = 0
	source.Balances[ledger.USD] = decimal.NewFromInt(100)

	debitEvt, err := ledger.BuildTransferDebit(reg, source, "tr-1", "acc-dst", decimal.NewFromInt(30), ledger.USD, decimal.NewFromInt(30), ledger.USD, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	debitEvt.EventVersion = 1
	source, err = fold.Apply(source, debitEvt)
	if err != nil {
		t.Fatalf("apply debit: %v", err)
	}
	if got := source.Balances[ledger.USD]; !got.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected source balance 70, got %s", got.String())
	}

	target := ledger.NewAccount("acc-dst")
	target.Version = 0
	creditEvt, err := ledger.BuildTransferCredit(reg, "acc-src", "tr-1", decimal.NewFromInt(30), ledger.USD, decimal.NewFromInt(30), ledger.USD, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	creditEvt.EventVersion = 1
	target, err = fold.Apply(target, creditEvt)
	if err != nil {
		t.Fatalf("apply credit: %v", err)
	}
	if got := target.Balances[ledger.USD]; !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected target balance 30, got %s", got.String())
	}
}
