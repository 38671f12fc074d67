package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/USC-NSL/IMC-25-Artifact/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, dbopen.SQLite)
}

func seed(t *testing.T, s *Store, entries ...Entry) {
	t.Helper()
	for _, e := range entries {
		if err := s.Record(context.Background(), e); err != nil {
			t.Fatalf("record %s: %v", e.ID, err)
		}
	}
}

func TestRecordGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := Entry{
		ID: "job_1", Collection: "col", Archive: "example.com_1a2b3c",
		Status: StatusPatched, Output: "/a/x.patched.warc",
		Pairs: 4, Applied: 3, StartedAt: 1000, FinishedAt: 2000,
	}
	seed(t, s, e)

	got, err := s.Get(ctx, "job_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(e, *got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}

	// Re-recording the same id replaces the outcome.
	e.Status, e.Reason, e.Output = StatusFailed, "boom", ""
	seed(t, s, e)
	got, err = s.Get(ctx, "job_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.Reason != "boom" {
		t.Errorf("after upsert: %+v", got)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := testStore(t)
	seed(t, s,
		Entry{ID: "a", Collection: "c1", Archive: "x", Status: StatusPatched, FinishedAt: 1},
		Entry{ID: "b", Collection: "c1", Archive: "y", Status: StatusSkipped, Reason: "no metadata", FinishedAt: 2},
		Entry{ID: "c", Collection: "c2", Archive: "z", Status: StatusPatched, FinishedAt: 3},
	)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"c", "b", "a"}},
		{"status", Filter{Status: StatusPatched}, []string{"c", "a"}},
		{"collection", Filter{Collection: "c1"}, []string{"b", "a"}},
		{"both", Filter{Status: StatusSkipped, Collection: "c1"}, []string{"b"}},
		{"limit", Filter{Limit: 1}, []string{"c"}},
		{"none", Filter{Collection: "c3"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := s.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	seed(t, s,
		Entry{ID: "a", Collection: "c", Archive: "x", Status: StatusPatched},
		Entry{ID: "b", Collection: "c", Archive: "y", Status: StatusPatched},
		Entry{ID: "c", Collection: "c", Archive: "z", Status: StatusFailed},
	)
	got, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Total: 3, ByStatus: map[Status]int{StatusPatched: 2, StatusFailed: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	s, err := Open(dbopen.SQLite, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	seed(t, s, Entry{ID: "a", Collection: "c", Archive: "x", Status: StatusPatched})
	if _, err := s.Get(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: dbopen.Postgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &Store{driver: dbopen.SQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("done"); err == nil {
		t.Error("expected error")
	}
	if st, err := ParseStatus("skipped"); err != nil || st != StatusSkipped {
		t.Errorf("ParseStatus(skipped) = %q, %v", st, err)
	}
}
