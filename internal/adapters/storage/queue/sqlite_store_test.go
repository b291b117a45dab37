package queue

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"assocmail/internal/adapters/http/perf"
	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/queue"
)

var fixedTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, ":memory:"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLiteStore(db)
}

func newMessage(key string, p domain.Priority, created time.Time) domain.Message {
	return domain.Message{
		RecipientEmail: "laia@example.com",
		RecipientName:  "Laia Puig",
		Subject:        "Subject " + key,
		Body:           "Body",
		TemplateKey:    key,
		MemberID:       42,
		Priority:       p,
		Status:         domain.StatusPending,
		MaxRetries:     domain.DefaultMaxRetries,
		CreatedAt:      created,
	}
}

// TestSQLiteStore_ListDue_Order tests priority bands then FIFO.
func TestSQLiteStore_ListDue_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted := []struct {
		key string
		p   domain.Priority
	}{
		{"low", domain.PriorityLow},
		{"high1", domain.PriorityHigh},
		{"normal", domain.PriorityNormal},
		{"high2", domain.PriorityHigh},
	}
	for _, m := range inserted {
		// identical timestamps: the autoincrement ID breaks the tie
		if _, err := s.Insert(ctx, newMessage(m.key, m.p, fixedTime)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	due, err := s.ListDue(ctx, fixedTime, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	want := []string{"high1", "high2", "normal", "low"}
	if len(due) != len(want) {
		t.Fatalf("got %d messages, want %d", len(due), len(want))
	}
	for i, w := range want {
		if due[i].TemplateKey != w {
			t.Errorf("position %d = %s, want %s", i, due[i].TemplateKey, w)
		}
	}

	limited, _ := s.ListDue(ctx, fixedTime, 2)
	if len(limited) != 2 || limited[1].TemplateKey != "high2" {
		t.Errorf("limit 2 = %+v", limited)
	}
}

// TestSQLiteStore_ListDue_Schedule tests that future messages are skipped.
func TestSQLiteStore_ListDue_Schedule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	later := newMessage("later", domain.PriorityHigh, fixedTime)
	later.ScheduledFor = fixedTime.Add(2 * time.Minute)
	s.Insert(ctx, later)
	past := newMessage("past", domain.PriorityLow, fixedTime)
	past.ScheduledFor = fixedTime.Add(-time.Hour)
	s.Insert(ctx, past)

	due, _ := s.ListDue(ctx, fixedTime, 10)
	if len(due) != 1 || due[0].TemplateKey != "past" {
		t.Errorf("due = %+v, want only past", due)
	}
	due, _ = s.ListDue(ctx, fixedTime.Add(2*time.Minute), 10)
	if len(due) != 2 || due[0].TemplateKey != "later" {
		t.Errorf("due after schedule = %+v", due)
	}
}

// TestSQLiteStore_ClaimAndComplete tests the conditional transitions.
func TestSQLiteStore_ClaimAndComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Insert(ctx, newMessage("k", domain.PriorityNormal, fixedTime))

	m, err := s.Claim(ctx, id, fixedTime)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if m.Status != domain.StatusProcessing || m.MemberID != 42 || !m.CreatedAt.Equal(fixedTime) || !m.ClaimedAt.Equal(fixedTime) {
		t.Errorf("claimed message: %+v", m)
	}
	if _, err := s.Claim(ctx, id, fixedTime); !errors.Is(err, domain.ErrNotClaimed) {
		t.Errorf("second Claim = %v, want ErrNotClaimed", err)
	}
	if due, _ := s.ListDue(ctx, fixedTime, 10); len(due) != 0 {
		t.Errorf("processing message listed as due")
	}

	if err := m.MarkSent(fixedTime.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, m); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := s.Complete(ctx, m); !errors.Is(err, domain.ErrNotClaimed) {
		t.Errorf("Complete on terminal row = %v, want ErrNotClaimed", err)
	}

	got, _ := s.GetByID(ctx, id)
	if got.Status != domain.StatusSent || !got.SentAt.Equal(fixedTime.Add(time.Second)) || !got.ClaimedAt.IsZero() {
		t.Errorf("after Complete: %+v", got)
	}
	if _, err := s.GetByID(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Claim(ctx, 999, fixedTime); !errors.Is(err, domain.ErrNotClaimed) {
		t.Errorf("Claim of a missing row = %v, want ErrNotClaimed", err)
	}
}

// TestSQLiteStore_Complete_Retry tests that a retry returns the row to the due set later.
func TestSQLiteStore_Complete_Retry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Insert(ctx, newMessage("k", domain.PriorityNormal, fixedTime))
	m, _ := s.Claim(ctx, id, fixedTime)
	m.RegisterFailure(errors.New("timeout"), fixedTime)
	if err := s.Complete(ctx, m); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if due, _ := s.ListDue(ctx, fixedTime.Add(time.Minute), 10); len(due) != 0 {
		t.Error("message should wait out its backoff")
	}
	due, _ := s.ListDue(ctx, fixedTime.Add(2*time.Minute), 10)
	if len(due) != 1 || due[0].RetryCount != 1 || due[0].ErrorMessage != "timeout" {
		t.Errorf("due after backoff = %+v", due)
	}
}

// TestSQLiteStore_Claim_StaleSnapshot tests that a worker holding a list
// taken before another worker's failed attempt cannot skip the backoff or
// overwrite the attempt count.
func TestSQLiteStore_Claim_StaleSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Insert(ctx, newMessage("k", domain.PriorityNormal, fixedTime))

	snapshot, _ := s.ListDue(ctx, fixedTime, 10)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	first, err := s.Claim(ctx, id, fixedTime)
	if err != nil {
		t.Fatal(err)
	}
	first.RegisterFailure(errors.New("timeout"), fixedTime)
	if err := s.Complete(ctx, first); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Claim(ctx, snapshot[0].ID, fixedTime.Add(time.Second)); !errors.Is(err, domain.ErrNotClaimed) {
		t.Fatalf("claim inside backoff = %v, want ErrNotClaimed", err)
	}

	second, err := s.Claim(ctx, id, fixedTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("claim after backoff: %v", err)
	}
	if second.RetryCount != 1 {
		t.Errorf("claimed RetryCount = %d, want 1", second.RetryCount)
	}
	second.RegisterFailure(errors.New("timeout"), fixedTime.Add(2*time.Minute))
	if err := s.Complete(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetByID(ctx, id)
	if got.RetryCount != 2 || !got.ScheduledFor.Equal(fixedTime.Add(6*time.Minute)) {
		t.Errorf("after two failures: retry=%d scheduled=%v, want 2 at +6m", got.RetryCount, got.ScheduledFor)
	}
}

// TestSQLiteStore_ListStale tests stale claim listing and the claim stamp
// guard on Complete.
func TestSQLiteStore_ListStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	oldID, _ := s.Insert(ctx, newMessage("old", domain.PriorityNormal, fixedTime))
	newID, _ := s.Insert(ctx, newMessage("new", domain.PriorityNormal, fixedTime))
	s.Insert(ctx, newMessage("pending", domain.PriorityNormal, fixedTime))

	old, _ := s.Claim(ctx, oldID, fixedTime)
	s.Claim(ctx, newID, fixedTime.Add(20*time.Minute))

	stale, err := s.ListStale(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != oldID || !stale[0].ClaimedAt.Equal(fixedTime) {
		t.Fatalf("stale = %+v, want only %d", stale, oldID)
	}

	// Recovery settles the row first; the original worker's late write loses.
	recovered := stale[0]
	recovered.RegisterFailure(errors.New("claim expired"), fixedTime.Add(10*time.Minute))
	if err := s.Complete(ctx, recovered); err != nil {
		t.Fatalf("Complete recovered: %v", err)
	}
	old.MarkSent(fixedTime.Add(11 * time.Minute))
	if err := s.Complete(ctx, old); !errors.Is(err, domain.ErrNotClaimed) {
		t.Errorf("late Complete = %v, want ErrNotClaimed", err)
	}
}

// TestSQLiteStore_Claim_Concurrent races many claimers on one row against a
// file-backed database with several connections.
func TestSQLiteStore_Claim_Concurrent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db")+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := storage.MigrateDB(db, ""); err != nil {
		t.Fatal(err)
	}
	s := NewSQLiteStore(db)
	ctx := context.Background()
	id, _ := s.Insert(ctx, newMessage("k", domain.PriorityNormal, fixedTime))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Claim(ctx, id, fixedTime)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrNotClaimed) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("claims won = %d, want 1", wins)
	}
}

// TestSQLiteStore_ExistsForMember tests the same-day window.
func TestSQLiteStore_ExistsForMember(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, newMessage("membership_expiring_7d", domain.PriorityHigh, fixedTime))

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	tests := []struct {
		name     string
		memberID int64
		key      string
		from, to time.Time
		want     bool
	}{
		{"same day", 42, "membership_expiring_7d", start, end, true},
		{"other template", 42, "membership_expiring_3d", start, end, false},
		{"other member", 7, "membership_expiring_7d", start, end, false},
		{"next day", 42, "membership_expiring_7d", end, end.AddDate(0, 0, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ExistsForMember(ctx, tt.memberID, tt.key, tt.from, tt.to)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ExistsForMember = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSQLiteStore_CountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Insert(ctx, newMessage("a", domain.PriorityNormal, fixedTime))
	s.Insert(ctx, newMessage("b", domain.PriorityNormal, fixedTime))
	s.Claim(ctx, id, fixedTime)

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.StatusPending] != 1 || counts[domain.StatusProcessing] != 1 || counts[domain.StatusSent] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

// TestSQLiteStore_TimedByOperation tests that each store call is timed under
// its own operation label.
func TestSQLiteStore_TimedByOperation(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, ":memory:"); err != nil {
		t.Fatal(err)
	}
	collector := perf.NewCollector(100)
	s := NewSQLiteStore(storage.NewTimedDB(db, collector, 0))
	ctx := context.Background()

	id, err := s.Insert(ctx, newMessage("member_approved", domain.PriorityHigh, fixedTime))
	if err != nil {
		t.Fatal(err)
	}
	m, err := s.Claim(ctx, id, fixedTime)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkSent(fixedTime); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(ctx, m); err != nil {
		t.Fatal(err)
	}

	got := map[string]int{}
	for _, q := range collector.Snapshot(time.Time{}, 20).SlowestQueries {
		got[q.Path] = q.Count
	}
	for _, label := range []string{"queue.insert", "queue.claim", "queue.complete"} {
		if got[label] != 1 {
			t.Errorf("%s recorded %d times, want 1 (all: %v)", label, got[label], got)
		}
	}
	if got["unlabelled"] != 0 {
		t.Errorf("unlabelled statements: %v", got)
	}
}
