package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/engine"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/fold"
	"github.com/nullstream/eventstream/internal/logging"
	"github.com/nullstream/eventstream/registry"
	"github.com/nullstream/eventstream/session"
	"github.com/nullstream/eventstream/snapshot"
)

// SnapshotFrequency is how many committed stream versions elapse between
// automatic snapshots, mirroring the teacher's app.SnapshotFrequency.
const SnapshotFrequency = 100

const objectName = "Account"

func streamID(accountID string) string { return objectName + "/" + accountID }

// ExchangeRateProvider supplies conversion rates for ConvertCurrency.
// TransferMoney moves a single currency and does not consult it. Rate(c,
// c) must always return 1.
type ExchangeRateProvider interface {
	Rate(from, to Currency) (decimal.Decimal, error)
}

// staticRates is the worked example's placeholder provider, grounded on
// the teacher's app.AccountService.getExchangeRate hardcoded table.
type staticRates struct {
	table map[Currency]map[Currency]decimal.Decimal
}

// NewStaticRates builds a provider from the teacher's hardcoded USD/EUR/GBP
// cross-rates. Replace with a real implementation backed by a cache or
// external feed in production use.
func NewStaticRates() ExchangeRateProvider {
	return staticRates{table: map[Currency]map[Currency]decimal.Decimal{
		USD: {EUR: decimal.RequireFromString("0.92"), GBP: decimal.RequireFromString("0.80")},
		EUR: {USD: decimal.RequireFromString("1.08"), GBP: decimal.RequireFromString("0.87")},
		GBP: {USD: decimal.RequireFromString("1.25"), EUR: decimal.RequireFromString("1.15")},
	}}
}

func (r staticRates) Rate(from, to Currency) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if direct, ok := r.table[from][to]; ok {
		return direct, nil
	}
	if inverse, ok := r.table[to][from]; ok {
		if inverse.IsZero() {
			return decimal.Zero, fmt.Errorf("ledger: cannot invert zero rate for %s -> %s", to, from)
		}
		return decimal.NewFromInt(1).Div(inverse), nil
	}
	return decimal.Zero, fmt.Errorf("ledger: exchange rate not found for %s -> %s", from, to)
}

// Config wires a Service to its collaborators. Rates defaults to
// NewStaticRates when nil.
type Config struct {
	Data      datastore.DataStore
	Docs      datastore.DocumentStore
	Snapshots snapshot.Store
	Rates     ExchangeRateProvider
	Hooks     []session.Hook
	Log       logging.Logger
}

// Service is the application layer for the account aggregate, grounded
// on the teacher's app.AccountService but driving session.Session
// instead of owning a raw store.EventStore/store.SnapshotStore pair.
type Service struct {
	data  datastore.DataStore
	docs  datastore.DocumentStore
	eng   *engine.Engine
	snap  *snapshot.Manager
	fold  *fold.Host[*Account]
	reg   *registry.Registry
	rates ExchangeRateProvider
	hooks []session.Hook
	log   logging.Logger
}

// New builds a Service. Data and Docs are required.
func New(cfg Config) (*Service, error) {
	if cfg.Data == nil || cfg.Docs == nil {
		return nil, fmt.Errorf("ledger: Data and Docs stores are required")
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard
	}
	if cfg.Rates == nil {
		cfg.Rates = NewStaticRates()
	}

	builder := registry.NewBuilder()
	if err := RegisterTypes(builder); err != nil {
		return nil, err
	}
	reg := builder.Freeze()

	interval := int64(SnapshotFrequency)
	if cfg.Snapshots == nil {
		// No snapshot store configured: keep the policy permanently
		// inactive rather than wiring a store that is never reachable.
		interval = 0
	}

	return &Service{
		data:  cfg.Data,
		docs:  cfg.Docs,
		eng:   engine.New(cfg.Data, nil, cfg.Log),
		snap:  snapshot.New(cfg.Snapshots, snapshot.Policy{Name: "account", Interval: interval}, nil),
		fold:  NewFold(reg),
		reg:   reg,
		rates: cfg.Rates,
		hooks: cfg.Hooks,
		log:   cfg.Log,
	}, nil
}

// loadSession hydrates accountID's document and aggregate state (via
// snapshot restore plus incremental replay) and returns a session scoped
// to it. A missing document is not an error: it yields a fresh,
// pre-creation session (Version -1), matching the teacher's
// domain.NewAccount fallback in loadAccount.
func (s *Service) loadSession(ctx context.Context, accountID string) (*document.Document, *session.Session[*Account], error) {
	doc, err := s.docs.Load(ctx, objectName, accountID)
	if err != nil {
		if !errors.Is(err, datastore.ErrDocumentNotFound) {
			return nil, nil, fmt.Errorf("ledger: load document for %s: %w", accountID, err)
		}
		doc = document.New(objectName, accountID, streamID(accountID), "account")
	}

	state := NewAccount(accountID)
	fromVersion := int64(0)
	if snapVersion, found := s.snap.Restore(ctx, doc, doc.Active.CurrentStreamVersion, state); found {
		fromVersion = snapVersion + 1
	}

	it, err := s.eng.ReadStream(ctx, doc, fromVersion, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: replay stream for %s: %w", accountID, err)
	}
	defer it.Close()
	var events []event.Event
	for it.Next(ctx) {
		events = append(events, it.Event())
	}
	if err := it.Err(); err != nil {
		return nil, nil, fmt.Errorf("ledger: replay stream for %s: %w", accountID, err)
	}
	state, err = s.fold.Replay(state, events)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: fold stream for %s: %w", accountID, err)
	}

	return doc, session.Begin[*Account](doc, s.eng, state, s.fold.Apply, s.hooks, s.log), nil
}

func (s *Service) commitAndSnapshot(ctx context.Context, doc *document.Document, sess *session.Session[*Account]) (session.CommitResult, error) {
	res, err := sess.Commit(ctx, session.KeepOnFailure)
	if err != nil {
		return res, err
	}
	if err := s.snap.MaterializeIfDue(ctx, doc, res.LastVersion, sess.State()); err != nil {
		s.log.Printf("ledger: warning: snapshot materialize failed for %s/%s: %v", doc.ObjectName, doc.ObjectID, err)
	}
	if err := s.docs.Save(ctx, doc); err != nil {
		return res, fmt.Errorf("ledger: save document for %s: %w", doc.ObjectID, err)
	}
	return res, nil
}

// CreateAccount creates a new account, generating an ID when accountID
// is empty.
func (s *Service) CreateAccount(ctx context.Context, accountID string, initialBalances map[Currency]decimal.Decimal) (string, error) {
	if accountID == "" {
		accountID = uuid.NewString()
		s.log.Printf("ledger: no account id provided, generated %s", accountID)
	}

	doc, sess, err := s.loadSession(ctx, accountID)
	if err != nil {
		return "", err
	}
	if sess.State().Version >= 0 {
		return "", fmt.Errorf("%w: %s", ErrAccountExists, accountID)
	}

	evt, err := BuildCreateAccount(s.reg, sess.State(), initialBalances)
	if err != nil {
		return "", fmt.Errorf("ledger: create account %s: %w", accountID, err)
	}
	if err := sess.Append(evt); err != nil {
		return "", err
	}
	if _, err := s.commitAndSnapshot(ctx, doc, sess); err != nil {
		return "", fmt.Errorf("ledger: failed to save creation events for account %s: %w", accountID, err)
	}

	s.log.Printf("ledger: account %s created, version %d", accountID, sess.State().Version)
	return accountID, nil
}

// Deposit credits amount of currency into accountID.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, currency Currency) error {
	doc, sess, err := s.loadSession(ctx, accountID)
	if err != nil {
		return fmt.Errorf("ledger: load account %s for deposit: %w", accountID, err)
	}
	evt, err := BuildDeposit(s.reg, sess.State(), amount, currency)
	if err != nil {
		return fmt.Errorf("ledger: deposit for %s: %w", accountID, err)
	}
	if err := sess.Append(evt); err != nil {
		return err
	}
	if _, err := s.commitAndSnapshot(ctx, doc, sess); err != nil {
		return fmt.Errorf("ledger: failed to save deposit for account %s: %w", accountID, err)
	}
	s.log.Printf("ledger: deposit of %s %s to %s, new version %d", amount.String(), currency, accountID, sess.State().Version)
	return nil
}

// Withdraw debits amount of currency from accountID.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, currency Currency) error {
	doc, sess, err := s.loadSession(ctx, accountID)
	if err != nil {
		return fmt.Errorf("ledger: load account %s for withdrawal: %w", accountID, err)
	}
	evt, err := BuildWithdrawal(s.reg, sess.State(), amount, currency)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("ledger: withdrawal for %s: %w", accountID, err)
	}
	if err := sess.Append(evt); err != nil {
		return err
	}
	if _, err := s.commitAndSnapshot(ctx, doc, sess); err != nil {
		return fmt.Errorf("ledger: failed to save withdrawal for account %s: %w", accountID, err)
	}
	s.log.Printf("ledger: withdrawal of %s %s from %s, new version %d", amount.String(), currency, accountID, sess.State().Version)
	return nil
}

// ConvertCurrency moves fromAmount of fromCurrency into toCurrency at the
// configured provider's current rate.
func (s *Service) ConvertCurrency(ctx context.Context, accountID string, fromAmount decimal.Decimal, fromCurrency, toCurrency Currency) error {
	doc, sess, err := s.loadSession(ctx, accountID)
	if err != nil {
		return fmt.Errorf("ledger: load account %s for conversion: %w", accountID, err)
	}

	rate, err := s.rates.Rate(fromCurrency, toCurrency)
	if err != nil {
		return fmt.Errorf("ledger: could not get exchange rate for %s -> %s: %w", fromCurrency, toCurrency, err)
	}

	evt, err := BuildCurrencyConversion(s.reg, sess.State(), fromAmount, fromCurrency, toCurrency, rate)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("ledger: conversion for %s: %w", accountID, err)
	}
	if err := sess.Append(evt); err != nil {
		return err
	}
	if _, err := s.commitAndSnapshot(ctx, doc, sess); err != nil {
		return fmt.Errorf("ledger: failed to save conversion for account %s: %w", accountID, err)
	}
	s.log.Printf("ledger: conversion %s %s -> %s for %s at rate %s, new version %d",
		fromAmount.String(), fromCurrency, toCurrency, accountID, rate.String(), sess.State().Version)
	return nil
}

// TransferMoney debits amount of currency from sourceAccountID and
// credits it to targetAccountID as two independently committed events,
// one per account stream.
func (s *Service) TransferMoney(ctx context.Context, sourceAccountID, targetAccountID string, amount decimal.Decimal, currency Currency) error {
	transferID := uuid.NewString()

	sourceDoc, sourceSess, err := s.loadSession(ctx, sourceAccountID)
	if err != nil {
		return fmt.Errorf("ledger: load source account %s for transfer: %w", sourceAccountID, err)
	}
	debitEvt, err := BuildTransferDebit(s.reg, sourceSess.State(), transferID, targetAccountID, amount, currency, amount, currency, decimal.NewFromInt(1))
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		return fmt.Errorf("ledger: transfer debit for %s: %w", sourceAccountID, err)
	}
	if err := sourceSess.Append(debitEvt); err != nil {
		return err
	}
	if _, err := s.commitAndSnapshot(ctx, sourceDoc, sourceSess); err != nil {
		return fmt.Errorf("ledger: failed to save transfer debit for account %s (transfer %s): %w", sourceAccountID, transferID, err)
	}
	s.log.Printf("ledger: transfer %s debited %s %s from %s", transferID, amount.String(), currency, sourceAccountID)

	targetDoc, targetSess, err := s.loadSession(ctx, targetAccountID)
	if err != nil {
		s.log.Printf("CRITICAL: transfer %s partially failed: source %s debited but could not load target %s: %v. manual intervention required",
			transferID, sourceAccountID, targetAccountID, err)
		return fmt.Errorf("ledger: transfer %s: source %s debited, target %s load failed: %w", transferID, sourceAccountID, targetAccountID, err)
	}
	creditEvt, err := BuildTransferCredit(s.reg, sourceAccountID, transferID, amount, currency, amount, currency, decimal.NewFromInt(1))
	if err != nil {
		s.log.Printf("CRITICAL: transfer %s partially failed: source %s debited but credit event for %s rejected: %v. manual intervention required",
			transferID, sourceAccountID, targetAccountID, err)
		return fmt.Errorf("ledger: transfer %s: source %s debited, target %s credit rejected: %w", transferID, sourceAccountID, targetAccountID, err)
	}
	if err := targetSess.Append(creditEvt); err != nil {
		return err
	}
	if _, err := s.commitAndSnapshot(ctx, targetDoc, targetSess); err != nil {
		s.log.Printf("CRITICAL: transfer %s partially failed: source %s debited but credit commit for %s failed: %v. manual intervention required",
			transferID, sourceAccountID, targetAccountID, err)
		return fmt.Errorf("ledger: transfer %s: source %s debited, target %s credit failed: %w", transferID, sourceAccountID, targetAccountID, err)
	}

	s.log.Printf("ledger: transfer %s completed: %s %s from %s to %s", transferID, amount.String(), currency, sourceAccountID, targetAccountID)
	return nil
}

// GetCurrentBalance returns accountID's balances, or just one currency's
// balance when currency is non-nil.
func (s *Service) GetCurrentBalance(ctx context.Context, accountID string, currency *Currency) (map[Currency]decimal.Decimal, error) {
	_, sess, err := s.loadSession(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load account %s for balance query: %w", accountID, err)
	}
	if sess.State().Version < 0 {
		return nil, fmt.Errorf("%w: cannot get balance for %s", ErrAccountNotFound, accountID)
	}

	out := make(map[Currency]decimal.Decimal)
	if currency != nil {
		out[*currency] = sess.State().balance(*currency)
		return out, nil
	}
	for cur, bal := range sess.State().Balances {
		out[cur] = bal
	}
	return out, nil
}

// GetTransactionHistory returns accountID's committed events in
// [skip, skip+limit), or all remaining events when limit <= 0.
func (s *Service) GetTransactionHistory(ctx context.Context, accountID string, skip, limit int) ([]event.Event, error) {
	doc, err := s.docs.Load(ctx, objectName, accountID)
	if err != nil {
		if errors.Is(err, datastore.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: cannot get history: account %s not found", ErrAccountNotFound, accountID)
		}
		return nil, fmt.Errorf("ledger: load document for %s: %w", accountID, err)
	}

	it, err := s.eng.ReadStream(ctx, doc, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("ledger: get event history for account %s: %w", accountID, err)
	}
	defer it.Close()
	var history []event.Event
	for it.Next(ctx) {
		history = append(history, it.Event())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("ledger: get event history for account %s: %w", accountID, err)
	}

	total := len(history)
	start := skip
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []event.Event{}, nil
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}
	return history[start:end], nil
}
