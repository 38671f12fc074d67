package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/USC-NSL/IMC-25-Artifact/capture/capturetest"
	"github.com/USC-NSL/IMC-25-Artifact/dbopen"
	"github.com/USC-NSL/IMC-25-Artifact/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	collection = "col"
	dynSuffix  = "js-0"
	statSuffix = "nojs-0"
)

func writeArchive(t *testing.T, root, name string) capturetest.Paths {
	t.Helper()
	url := "https://" + name + "/"
	return capturetest.Write(t, capturetest.Archive{
		Root:          root,
		Collection:    collection,
		Name:          name,
		DynamicSuffix: dynSuffix,
		StaticSuffix:  statSuffix,
		Dynamic: capturetest.Page{URL: url, TS: "20250202000800",
			HTML: `<html><head><script src="/app.bZq9.js"></script></head><body><div></div></body></html>`},
		Static: capturetest.Page{URL: url, TS: "20250120020200",
			HTML: `<html><head><script src="/app.aHx3.js"></script></head><body><div></div></body></html>`},
	})
}

// fixture lays out three archives: one patchable, one without its static
// WARC and one whose static WARC lacks the page.
func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeArchive(t, root, "a.example")
	skipped := writeArchive(t, root, "b.example")
	if err := os.Remove(skipped.StaticWARC); err != nil {
		t.Fatal(err)
	}
	failed := writeArchive(t, root, "c.example")
	if err := os.WriteFile(failed.StaticWARC, []byte(capturetest.Record("warcinfo", "", "x")), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func config(root string) Config {
	return Config{
		ArchiveDir:    root,
		DynamicSuffix: dynSuffix,
		StaticSuffix:  statSuffix,
		Workers:       2,
	}
}

func counter() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job_%d", n)
	}
}

func TestRun(t *testing.T) {
	root := fixture(t)
	store := ledger.New(dbopen.OpenMemory(t, dbopen.WithSchema(ledger.Schema)), dbopen.SQLite)
	r := New(config(root), WithRecorder(store), WithIDGenerator(counter()))

	sum, err := r.Run(context.Background(), collection)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Total != 3 || sum.Patched != 1 || sum.Skipped != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	var got []string
	for _, e := range sum.Jobs {
		got = append(got, e.Archive+":"+string(e.Status))
	}
	want := []string{"a.example:patched", "b.example:skipped", "c.example:failed"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}

	patched := sum.Jobs[0]
	if !strings.HasSuffix(patched.Output, "a.example_nojs-0.static.patched.warc") || patched.Pairs != 1 {
		t.Errorf("patched entry = %+v", patched)
	}
	if _, err := os.Stat(patched.Output); err != nil {
		t.Errorf("output missing: %v", err)
	}
	if !strings.Contains(sum.Jobs[1].Reason, "no input warc file") {
		t.Errorf("skip reason = %q", sum.Jobs[1].Reason)
	}
	if !strings.Contains(sum.Jobs[2].Reason, "record not found") {
		t.Errorf("fail reason = %q", sum.Jobs[2].Reason)
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("ledger total = %d, want 3", stats.Total)
	}
	for _, e := range sum.Jobs {
		if _, err := store.Get(context.Background(), e.ID); err != nil {
			t.Errorf("ledger entry %s: %v", e.ID, err)
		}
	}
}

func TestRun_RateLimited(t *testing.T) {
	root := fixture(t)
	cfg := config(root)
	cfg.Rate, cfg.Burst = 1000, 1
	sum, err := New(cfg).Run(context.Background(), collection)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 {
		t.Errorf("total = %d, want 3", sum.Total)
	}
}

func TestRun_Cancelled(t *testing.T) {
	root := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config(root)
	cfg.Rate = 1
	sum, err := New(cfg).Run(ctx, collection)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Total != 0 {
		t.Errorf("no job should start, got %d", sum.Total)
	}
}

func TestRun_UnknownCollection(t *testing.T) {
	r := New(config(t.TempDir()))
	if _, err := r.Run(context.Background(), "missing"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.Run(context.Background(), "../etc"); err == nil {
		t.Fatal("expected error for traversal")
	}
}

func TestPreflight(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root, "a.example")

	t.Run("ok", func(t *testing.T) {
		job, err := New(config(root)).Preflight(collection, "a.example")
		if err != nil {
			t.Fatalf("Preflight: %v", err)
		}
		if !strings.HasSuffix(job.StaticPrefix, "record-nojs-0") || !strings.HasSuffix(job.DynamicWARC, "a.example_js-0.warc") {
			t.Errorf("job = %+v", job)
		}
	})

	t.Run("missing dynamic warc", func(t *testing.T) {
		cfg := config(root)
		cfg.DynamicSuffix = "js-9"
		_, err := New(cfg).Preflight(collection, "a.example")
		if !errors.Is(err, ErrSkip) || !strings.Contains(err.Error(), "dynamic=false static=true") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("suffix absent from metadata", func(t *testing.T) {
		root := t.TempDir()
		p := writeArchive(t, root, "a.example")
		// A WARC exists for js-1 but metadata knows only js-0 and nojs-0.
		if err := os.Link(p.DynamicWARC, strings.Replace(p.DynamicWARC, dynSuffix, "js-1", 1)); err != nil {
			t.Fatal(err)
		}
		cfg := config(root)
		cfg.DynamicSuffix = "js-1"
		_, err := New(cfg).Preflight(collection, "a.example")
		if !errors.Is(err, ErrSkip) || !strings.Contains(err.Error(), "no file suffix in metadata") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("metadata missing", func(t *testing.T) {
		root := t.TempDir()
		p := writeArchive(t, root, "a.example")
		if err := os.Remove(p.WritesDir + "/metadata.json"); err != nil {
			t.Fatal(err)
		}
		_, err := New(config(root)).Preflight(collection, "a.example")
		if !errors.Is(err, ErrSkip) || !strings.Contains(err.Error(), "no metadata") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestRunOne_DeadlineExceeded(t *testing.T) {
	root := fixture(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	e := New(config(root)).RunOne(ctx, collection, "a.example")
	if e.Status != ledger.StatusFailed || !strings.Contains(e.Reason, "deadline exceeded") {
		t.Errorf("entry = %+v", e)
	}
}
