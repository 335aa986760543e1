package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

func testDB(t *testing.T) *Store {
	t.Helper()
	db, err := Open("file:" + filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func sampleTurn(prospect string) domain.TurnRecord {
	return domain.TurnRecord{
		Prospect:        prospect,
		CompletionCalls: 2,
		ToolCalls:       1,
		StopReason:      domain.StopEndTurn,
		Duration:        1200 * time.Millisecond,
	}
}

// =============================================================================
// Open
// =============================================================================

func TestOpen_WhenEmptyURL_ShouldReturnError(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestOpen_WhenDriverUnknown_ShouldReturnError(t *testing.T) {
	old := driverName
	driverName = "nonexistent_driver"
	defer func() { driverName = old }()

	if _, err := Open("file:whatever.db"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_WhenBarePath_ShouldTreatAsLocalFile(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpen_WhenValidFileURL_ShouldPing(t *testing.T) {
	db, err := Open("file:" + filepath.Join(t.TempDir(), "ping.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

// =============================================================================
// NewStore
// =============================================================================

func TestNewStore_WhenDBIsNil_ShouldReturnError(t *testing.T) {
	if _, err := NewStore(nil, nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestNewStore_ShouldBeRerunnable(t *testing.T) {
	db, err := Open("file:" + filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if _, err := NewStore(db, nil); err != nil {
			t.Fatalf("migration pass %d: %v", i+1, err)
		}
	}
}

// =============================================================================
// Record / RecentTurns
// =============================================================================

func TestStore_Record_ShouldRoundTripThroughRecentTurns(t *testing.T) {
	s := testDB(t)
	fixed := time.Date(2026, 8, 21, 8, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	rec := sampleTurn("acme")
	rec.LimitHit = true
	rec.Err = "anthropic status 529: overloaded"
	s.Record(context.Background(), rec)

	got, err := s.RecentTurns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 turn, got %d", len(got))
	}
	turn := got[0]
	if turn.Prospect != "acme" || turn.CompletionCalls != 2 || turn.ToolCalls != 1 {
		t.Errorf("unexpected counters: %+v", turn)
	}
	if turn.StopReason != domain.StopEndTurn {
		t.Errorf("unexpected stop reason: %q", turn.StopReason)
	}
	if turn.Duration != 1200*time.Millisecond {
		t.Errorf("unexpected duration: %v", turn.Duration)
	}
	if !turn.LimitHit {
		t.Error("limit_hit should round trip")
	}
	if turn.Err != "anthropic status 529: overloaded" {
		t.Errorf("unexpected error text: %q", turn.Err)
	}
	if !turn.CreatedAt.Equal(fixed) {
		t.Errorf("created_at should round trip, got %v", turn.CreatedAt)
	}
}

func TestStore_Record_WhenRequestContextCancelled_ShouldStillInsert(t *testing.T) {
	s := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Record(ctx, sampleTurn("acme"))

	got, err := s.RecentTurns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("insert should detach from request cancellation, got %d rows", len(got))
	}
}

func TestStore_Record_WhenDatabaseClosed_ShouldNotPanic(t *testing.T) {
	db, err := Open("file:" + filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	db.Close()

	// Best effort: the dropped record is logged, nothing explodes.
	s.Record(context.Background(), sampleTurn("acme"))
}

func TestStore_RecentTurns_ShouldReturnNewestFirstWithLimit(t *testing.T) {
	s := testDB(t)
	for _, id := range []string{"first", "second", "third"} {
		s.Record(context.Background(), sampleTurn(id))
	}

	got, err := s.RecentTurns(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 turns, got %d", len(got))
	}
	if got[0].Prospect != "third" || got[1].Prospect != "second" {
		t.Errorf("want newest first, got %q then %q", got[0].Prospect, got[1].Prospect)
	}
}

func TestStore_RecentTurns_WhenLimitNotPositive_ShouldUseDefault(t *testing.T) {
	s := testDB(t)
	s.Record(context.Background(), sampleTurn("acme"))

	got, err := s.RecentTurns(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("default limit should return rows, got %d", len(got))
	}
}

// =============================================================================
// Prune
// =============================================================================

func TestStore_Prune_ShouldDeleteOnlyOlderTurns(t *testing.T) {
	s := testDB(t)

	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	oldRec := sampleTurn("ancient")
	oldRec.CreatedAt = old
	s.Record(context.Background(), oldRec)

	freshRec := sampleTurn("recent")
	freshRec.CreatedAt = fresh
	s.Record(context.Background(), freshRec)

	n, err := s.Prune(context.Background(), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 pruned row, got %d", n)
	}

	got, err := s.RecentTurns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 1 || got[0].Prospect != "recent" {
		t.Errorf("only the recent turn should survive: %+v", got)
	}
}

func TestStore_Prune_WhenNothingOld_ShouldReportZero(t *testing.T) {
	s := testDB(t)
	s.Record(context.Background(), sampleTurn("acme"))

	n, err := s.Prune(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("want 0 pruned rows, got %d", n)
	}
}
