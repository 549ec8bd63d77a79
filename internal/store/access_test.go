package store

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func defaultCollectionTx(userID int64, table string, exists bool) *mockTx {
	tx := &mockTx{
		execs: []execExpectation{
			{expect: regexp.MustCompile("pg_advisory_xact_lock"), args: []any{userID}},
		},
		queries: []queryExpectation{
			{expect: regexp.MustCompile("SELECT EXISTS \\(SELECT 1 FROM " + table), args: []any{userID}, value: exists},
		},
	}
	if !exists {
		tx.execs = append(tx.execs, execExpectation{expect: regexp.MustCompile("INSERT INTO " + table), args: []any{userID}})
	}
	return tx
}

func TestEnsureDefaultCollections(t *testing.T) {
	cases := []struct {
		name        string
		hasCalendar bool
		hasBook     bool
	}{
		{name: "new user", hasCalendar: false, hasBook: false},
		{name: "calendar only", hasCalendar: true, hasBook: false},
		{name: "both present", hasCalendar: true, hasBook: true},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			userID := int64(i + 1)
			calTx := defaultCollectionTx(userID, "calendars", tc.hasCalendar)
			bookTx := defaultCollectionTx(userID, "address_books", tc.hasBook)
			pool := &mockPool{t: t, txs: []*mockTx{calTx, bookTx}}

			s := &Store{pool: pool}
			if err := s.EnsureDefaultCollections(context.Background(), userID); err != nil {
				t.Fatalf("EnsureDefaultCollections returned error: %v", err)
			}

			pool.assertDone()
			calTx.assertDone()
			bookTx.assertDone()
			if !calTx.committed || !bookTx.committed {
				t.Fatalf("expected both transactions to commit")
			}
		})
	}
}

func TestEnsureDefaultCollectionsStopsOnCalendarFailure(t *testing.T) {
	tx := &mockTx{
		execs: []execExpectation{
			{expect: regexp.MustCompile("pg_advisory_xact_lock"), args: []any{int64(7)}, err: errors.New("lock timeout")},
		},
	}
	pool := &mockPool{t: t, txs: []*mockTx{tx}}

	s := &Store{pool: pool}
	err := s.EnsureDefaultCollections(context.Background(), 7)
	if err == nil || !strings.Contains(err.Error(), "lock timeout") {
		t.Fatalf("expected lock error, got %v", err)
	}
	if !tx.rolled {
		t.Fatalf("expected rollback")
	}
	pool.assertDone()
}

func TestCheckWritable(t *testing.T) {
	for _, allowed := range []bool{true, false} {
		tx := &mockTx{
			queries: []queryExpectation{
				{expect: regexp.MustCompile(`(?s)FROM address_books w WHERE w.id=\$1 AND w.id IN .*s.editor`), args: []any{int64(20), int64(3)}, value: allowed},
			},
		}
		err := checkWritable(context.Background(), tx, addressBookAccess, 20, 3)
		switch {
		case allowed && err != nil:
			t.Fatalf("expected access, got %v", err)
		case !allowed && !errors.Is(err, ErrNotFoundOrForbidden):
			t.Fatalf("expected ErrNotFoundOrForbidden, got %v", err)
		}
	}
}

func TestObjectFilterNumbersArguments(t *testing.T) {
	f := Filter{ContainerID: 5, UIDs: []string{"a"}, FileNames: []string{"a.ics"}}
	where, args := objectFilter(f, 9, calendarAccess, "o", "calendar_id")

	for _, want := range []string{
		"o.calendar_id = $1 AND o.calendar_id IN (SELECT c.id FROM calendars c WHERE c.user_id = $2",
		"calendar_shares s WHERE s.calendar_id = c.id AND s.user_id = $2",
		"o.uid = ANY($3)",
		"o.file_name = ANY($4)",
	} {
		if !strings.Contains(where, want) {
			t.Fatalf("filter %q missing %q", where, want)
		}
	}
	if strings.Contains(where, "s.editor") {
		t.Fatalf("read filter must not require an editor share: %q", where)
	}
	wantArgs := []any{int64(5), int64(9), []string{"a"}, []string{"a.ics"}}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("args = %#v, want %#v", args, wantArgs)
	}
}
