package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/armorclaw/errsink/pkg/errchain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(StoreConfig{Path: filepath.Join(t.TempDir(), "reports.db")})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func criticalReport(msg string) *Report {
	return New(errchain.Wrap(errchain.KindUnknown, msg, errchain.New(errchain.KindInvalidState, "closed")))
}

func TestOpenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.db")

	store, err := OpenStore(StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	if _, err := OpenStore(StoreConfig{}); err == nil {
		t.Error("OpenStore() with empty path should fail")
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := criticalReport("sync feed")
	id, err := store.Save(ctx, r)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if id != r.TraceID {
		t.Errorf("Save() = %s, want %s", id, r.TraceID)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != errchain.KindInvalidState {
		t.Errorf("Kind = %s, want invalid_state", got.Kind)
	}
	if got.Occurrences != 1 {
		t.Errorf("Occurrences = %d, want 1", got.Occurrences)
	}
	if got.Report == nil || len(got.Report.Chain) != 2 {
		t.Errorf("Report chain not round-tripped: %+v", got.Report)
	}
	if got.Resolved {
		t.Error("new report should be unresolved")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(\"\") error = %v, want ErrNotFound", err)
	}
}

func TestStore_Save_DuplicateFingerprint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := criticalReport("first")
	firstID, _ := store.Save(ctx, first)

	second := criticalReport("second")
	secondID, err := store.Save(ctx, second)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if secondID != firstID {
		t.Errorf("duplicate stored under %s, want %s", secondID, firstID)
	}
	if second.TraceID != firstID {
		t.Errorf("duplicate TraceID = %s, want %s", second.TraceID, firstID)
	}

	results, _ := store.Query(ctx, ReportQuery{})
	if len(results) != 1 {
		t.Fatalf("Query() returned %d reports, want 1", len(results))
	}
	if results[0].Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", results[0].Occurrences)
	}
	if results[0].Message != "second: closed" {
		t.Errorf("Message = %q, want latest", results[0].Message)
	}
}

func TestStore_Save_AfterResolveInsertsNew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	firstID, _ := store.Save(ctx, criticalReport("first"))
	if err := store.Resolve(ctx, firstID, "ops"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	secondID, _ := store.Save(ctx, criticalReport("again"))
	if secondID == firstID {
		t.Error("resolved report should not absorb new occurrences")
	}
}

func TestStore_Query(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, criticalReport("a"))
	store.Save(ctx, New(errchain.New(errchain.KindNullReference, "b")))
	panicID, _ := store.Save(ctx, New(errchain.FromPanic("c")))

	tests := []struct {
		name string
		q    ReportQuery
		want int
	}{
		{"all", ReportQuery{}, 3},
		{"by kind", ReportQuery{Kind: errchain.KindNullReference}, 1},
		{"by origin", ReportQuery{Origin: OriginPanic}, 1},
		{"by trace", ReportQuery{TraceID: panicID}, 1},
		{"limit", ReportQuery{Limit: 2}, 2},
		{"offset", ReportQuery{Offset: 2}, 1},
		{"future", ReportQuery{Since: time.Now().Add(time.Hour)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("Query() returned %d, want %d", len(results), tt.want)
			}
		})
	}

	unresolved := false
	store.Resolve(ctx, panicID, "ops")
	results, _ := store.Query(ctx, ReportQuery{Resolved: &unresolved})
	if len(results) != 2 {
		t.Errorf("unresolved Query() returned %d, want 2", len(results))
	}
}

func TestStore_ResolveUnresolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.Save(ctx, criticalReport("x"))

	if err := store.Resolve(ctx, id, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	got, _ := store.Get(ctx, id)
	if !got.Resolved || got.ResolvedBy != "alice" || got.ResolvedAt == nil {
		t.Errorf("after Resolve: resolved=%v by=%q at=%v", got.Resolved, got.ResolvedBy, got.ResolvedAt)
	}

	if err := store.Unresolve(ctx, id); err != nil {
		t.Fatalf("Unresolve() error = %v", err)
	}
	got, _ = store.Get(ctx, id)
	if got.Resolved || got.ResolvedBy != "" || got.ResolvedAt != nil {
		t.Errorf("after Unresolve: resolved=%v by=%q at=%v", got.Resolved, got.ResolvedBy, got.ResolvedAt)
	}

	if err := store.Resolve(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(missing) = %v, want ErrNotFound", err)
	}
	if err := store.Unresolve(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unresolve(missing) = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.Save(ctx, criticalReport("x"))
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestStore_Cleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	resolvedID, _ := store.Save(ctx, criticalReport("old"))
	store.Resolve(ctx, resolvedID, "ops")
	openID, _ := store.Save(ctx, New(errchain.New(errchain.KindNullReference, "open")))

	removed, err := store.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("Cleanup() removed %d fresh reports, want 0", removed)
	}

	removed, err = store.cleanupBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("cleanupBefore() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("cleanupBefore() removed %d, want 1", removed)
	}
	if _, err := store.Get(ctx, openID); err != nil {
		t.Errorf("unresolved report was removed: %v", err)
	}
}

func TestStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, criticalReport("a"))
	store.Save(ctx, criticalReport("b"))
	id, _ := store.Save(ctx, New(errchain.FromPanic("c")))
	store.Resolve(ctx, id, "ops")

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.TotalReports != 2 {
		t.Errorf("TotalReports = %d, want 2", stats.TotalReports)
	}
	if stats.UnresolvedReports != 1 {
		t.Errorf("UnresolvedReports = %d, want 1", stats.UnresolvedReports)
	}
	if stats.TotalOccurrences != 3 {
		t.Errorf("TotalOccurrences = %d, want 3", stats.TotalOccurrences)
	}
	if stats.UniqueFingerprint != 2 {
		t.Errorf("UniqueFingerprint = %d, want 2", stats.UniqueFingerprint)
	}
	if stats.ByOrigin["panic"] != 1 || stats.ByOrigin["undeliverable"] != 1 {
		t.Errorf("ByOrigin = %v", stats.ByOrigin)
	}
	if stats.ByKind["invalid_state"] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
}
