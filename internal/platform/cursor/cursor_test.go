package cursor

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := "ord_abc123"

	c := Encode(now, id)
	decodedTime, decodedID, err := Parse(c)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !decodedTime.Equal(now) {
		t.Fatalf("decoded time mismatch: got %s want %s", decodedTime, now)
	}
	if decodedID != id {
		t.Fatalf("decoded id mismatch: got %s want %s", decodedID, id)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, c := range []string{"nocolon", "abc:id", "123:"} {
		if _, _, err := Parse(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
	ts, id, err := Parse("")
	if err != nil || !ts.IsZero() || id != "" {
		t.Fatalf("empty cursor should decode to zero values, got %v %q %v", ts, id, err)
	}
}

func TestPage(t *testing.T) {
	type row struct {
		id string
		at time.Time
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{{"c", base.Add(3)}, {"b", base.Add(2)}, {"a", base.Add(1)}}
	key := func(r row) (time.Time, string) { return r.at, r.id }

	got, next := Page(rows, 2, key)
	if len(got) != 2 || next != Encode(base.Add(2), "b") {
		t.Fatalf("unexpected page %v next=%q", got, next)
	}
	got, next = Page(rows, 3, key)
	if len(got) != 3 || next != "" {
		t.Fatalf("unexpected last page %v next=%q", got, next)
	}
}
