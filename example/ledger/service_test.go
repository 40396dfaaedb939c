package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/example/ledger"
)

func newTestService(t *testing.T) *ledger.Service {
	t.Helper()
	store := memstore.New()
	svc, err := ledger.New(ledger.Config{Data: store, Docs: store})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestServiceCreateDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	id, err := svc.CreateAccount(ctx, "alice", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := svc.Deposit(ctx, id, decimal.NewFromInt(50), ledger.USD); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := svc.Withdraw(ctx, id, decimal.NewFromInt(30), ledger.USD); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	balances, err := svc.GetCurrentBalance(ctx, id, nil)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got := balances[ledger.USD]; !got.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected balance 120, got %s", got.String())
	}
}

func TestServiceCreateAccountTwiceFails(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.CreateAccount(ctx, "bob", nil); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := svc.CreateAccount(ctx, "bob", nil); !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestServiceWithdrawInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.CreateAccount(ctx, "carol", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := svc.Withdraw(ctx, "carol", decimal.NewFromInt(100), ledger.USD); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestServiceTransferMoneyBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.CreateAccount(ctx, "src", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if _, err := svc.CreateAccount(ctx, "dst", nil); err != nil {
		t.Fatalf("create target: %v", err)
	}

	if err := svc.TransferMoney(ctx, "src", "dst", decimal.NewFromInt(40), ledger.USD); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	srcBalances, err := svc.GetCurrentBalance(ctx, "src", nil)
	if err != nil {
		t.Fatalf("source balance: %v", err)
	}
	if got := srcBalances[ledger.USD]; !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected source balance 60, got %s", got.String())
	}

	dstBalances, err := svc.GetCurrentBalance(ctx, "dst", nil)
	if err != nil {
		t.Fatalf("target balance: %v", err)
	}
	if got := dstBalances[ledger.USD]; !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected target balance 40, got %s", got.String())
	}
}

func TestServiceGetBalanceForUnknownAccount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.GetCurrentBalance(ctx, "ghost", nil); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestServiceTransactionHistoryPagination(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	id, err := svc.CreateAccount(ctx, "dana", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.Zero})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := svc.Deposit(ctx, id, decimal.NewFromInt(1), ledger.USD); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	all, err := svc.GetTransactionHistory(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 6 { // 1 creation + 5 deposits
		t.Fatalf("expected 6 events, got %d", len(all))
	}

	page, err := svc.GetTransactionHistory(ctx, id, 1, 2)
	if err != nil {
		t.Fatalf("paged history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 events in page, got %d", len(page))
	}
	if page[0].EventVersion != all[1].EventVersion {
		t.Fatalf("expected page to start at skip offset, got version %d", page[0].EventVersion)
	}
}

func TestServiceCurrencyConversion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	id, err := svc.CreateAccount(ctx, "erin", map[ledger.Currency]decimal.Decimal{ledger.USD: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := svc.ConvertCurrency(ctx, id, decimal.NewFromInt(50), ledger.USD, ledger.EUR); err != nil {
		t.Fatalf("convert: %v", err)
	}

	balances, err := svc.GetCurrentBalance(ctx, id, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got := balances[ledger.USD]; !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected USD 50, got %s", got.String())
	}
	if balances[ledger.EUR].IsZero() {
		t.Fatalf("expected nonzero EUR balance after conversion")
	}
}
