package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nullstream/eventstream/datastore"
	"github.com/nullstream/eventstream/datastore/memstore"
	"github.com/nullstream/eventstream/document"
	"github.com/nullstream/eventstream/engine"
	"github.com/nullstream/eventstream/event"
	"github.com/nullstream/eventstream/session"
)

type balance struct{ cents int64 }

func foldBalance(s balance, e event.Event) (balance, error) {
	switch e.EventType {
	case "Deposited":
		s.cents += 100
	case "Withdrawn":
		s.cents -= 100
	}
	return s, nil
}

func TestAppendFoldsImmediately(t *testing.T) {
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Account", "acc-1", "main", "ledger")

	sess := session.Begin(doc, eng, balance{}, foldBalance, nil, nil)
	if err := sess.Append(event.Event{EventType: "Deposited"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.State().cents != 100 {
		t.Fatalf("expected fold to apply before commit, got %d", sess.State().cents)
	}
	if len(sess.Staged()) != 1 {
		t.Fatalf("expected 1 staged event, got %d", len(sess.Staged()))
	}
}

func TestCommitAppendsAndRunsHooks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Account", "acc-1", "main", "ledger")

	var seen []string
	hook := func(ctx context.Context, e event.Event) error {
		seen = append(seen, e.EventType)
		return nil
	}

	sess := session.Begin(doc, eng, balance{}, foldBalance, []session.Hook{hook}, nil)
	_ = sess.Append(event.Event{EventType: "Deposited"})
	_ = sess.Append(event.Event{EventType: "Deposited"})

	res, err := sess.Commit(ctx, session.KeepOnFailure)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Committed || res.FirstVersion != 0 || res.LastVersion != 1 {
		t.Fatalf("unexpected commit result: %+v", res)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 hook invocations, got %d", len(seen))
	}
	if len(sess.Staged()) != 0 {
		t.Fatalf("expected staged buffer cleared after commit")
	}

	events, _, err := eng.Read(ctx, doc, 0, -1)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 committed events, got %d", len(events))
	}
}

func TestCommitFailureHonorsDiscardPolicy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Account", "acc-1", "main", "ledger")
	doc.Active.CurrentStreamVersion = 5 // stale ExpectedTip of 5 conflicts with memstore's actual tip of -1

	sess := session.Begin(doc, eng, balance{}, foldBalance, nil, nil)
	_ = sess.Append(event.Event{EventType: "Deposited"})

	_, err := sess.Commit(ctx, session.KeepOnFailure)
	if err == nil {
		t.Fatalf("expected a concurrency conflict")
	}
	if len(sess.Staged()) != 1 {
		t.Fatalf("expected staged buffer kept on failure, got %d", len(sess.Staged()))
	}

	_, err = sess.Commit(ctx, session.DiscardOnFailure)
	if err == nil {
		t.Fatalf("expected a concurrency conflict")
	}
	if len(sess.Staged()) != 0 {
		t.Fatalf("expected staged buffer discarded on failure")
	}

	var conflict *datastore.ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected a concurrency conflict, got %v", err)
	}
}

func TestHookFailureDoesNotUndoCommit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := engine.New(store, nil, nil)
	doc := document.New("Account", "acc-1", "main", "ledger")

	boom := errors.New("webhook unreachable")
	failingHook := func(ctx context.Context, e event.Event) error { return boom }

	sess := session.Begin(doc, eng, balance{}, foldBalance, []session.Hook{failingHook}, nil)
	_ = sess.Append(event.Event{EventType: "Deposited"})

	res, err := sess.Commit(ctx, session.KeepOnFailure)
	if err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	if !res.Committed {
		t.Fatalf("expected commit to succeed despite hook failure")
	}
	if len(res.HookFailures) != 1 {
		t.Fatalf("expected 1 hook failure recorded, got %d", len(res.HookFailures))
	}
}
