package token_test

import (
	"errors"
	"testing"

	"github.com/nullstream/eventstream/errcode"
	"github.com/nullstream/eventstream/token"
)

func TestFormatParseRoundTrip(t *testing.T) {
	cases := []struct {
		object, id, stream string
		version            uint64
	}{
		{"Order", "42", "main", 0},
		{"Order", "42", "main", 19},
		{"Account", "acc-1", "stream-a", 123456789},
	}
	for _, c := range cases {
		s := token.Format(c.object, c.id, c.stream, c.version)
		got, err := token.Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if got.Object != c.object || got.ID != c.id || got.Stream != c.stream || got.Version != c.version {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestFormatIsLexicographicallyMonotonic(t *testing.T) {
	prev := ""
	for v := uint64(0); v < 25; v++ {
		cur := token.Format("Order", "42", "main", v)
		if prev != "" && prev >= cur {
			t.Fatalf("expected %q < %q", prev, cur)
		}
		prev = cur
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"too__few__parts",
		"Order__42__main__short",
		"Order__42__main__not-a-number000000",
	}
	for _, s := range cases {
		_, err := token.Parse(s)
		if err == nil {
			t.Fatalf("expected error parsing %q", s)
		}
		var ec *errcode.Error
		if !errors.As(err, &ec) || ec.Code != errcode.CodeMalformedToken {
			t.Fatalf("expected malformed token error, got %v", err)
		}
	}
}

func TestOrderRequiresMatchingStream(t *testing.T) {
	a, _ := token.Parse(token.Format("Order", "42", "main", 1))
	b, _ := token.Parse(token.Format("Order", "42", "other", 1))
	if _, err := token.Order(a, b); err == nil {
		t.Fatalf("expected stream mismatch error")
	}

	c, _ := token.Parse(token.Format("Order", "42", "main", 2))
	ord, err := token.Order(a, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ord != token.Less {
		t.Fatalf("expected Less, got %v", ord)
	}
}

func TestToLatest(t *testing.T) {
	tk, _ := token.Parse(token.Format("Order", "42", "main", 5))
	latest := tk.ToLatest()
	if !latest.AdvanceLatest {
		t.Fatalf("expected AdvanceLatest to be set")
	}
	if tk.AdvanceLatest {
		t.Fatalf("original token must not be mutated")
	}
}
