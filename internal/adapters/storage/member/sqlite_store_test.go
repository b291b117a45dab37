package member

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"assocmail/internal/adapters/storage"
	domain "assocmail/internal/domain/member"
	"assocmail/internal/domain/tax"
)

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

func sampleMember(email string, mtype domain.MembershipType, end time.Time) domain.Member {
	return domain.Member{
		FirstName:         "Laia",
		LastName:          "Puig",
		Email:             email,
		Country:           "España",
		MembershipType:    mtype,
		Status:            domain.StatusApproved,
		MembershipEndDate: end,
		PaymentAmount:     tax.Euros(1000, 0),
	}
}

// TestSQLiteStore_SaveAndGet tests round-tripping a member.
func TestSQLiteStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	id, err := s.Save(ctx, sampleMember("laia@example.com", domain.TypeSponsor, end))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Email != "laia@example.com" || got.MembershipType != domain.TypeSponsor || got.PaymentAmount != tax.Euros(1000, 0) {
		t.Errorf("unexpected member: %+v", got)
	}
	if !got.MembershipEndDate.Equal(end) {
		t.Errorf("end date = %v, want %v", got.MembershipEndDate, end)
	}

	got.Status = domain.StatusInactive
	got.MembershipEndDate = time.Time{}
	if _, err := s.Save(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := s.GetByID(ctx, id)
	if updated.Status != domain.StatusInactive || updated.HasEndDate() {
		t.Errorf("update not applied: %+v", updated)
	}
}

// TestSQLiteStore_GetByID_NotFound tests the sentinel error.
func TestSQLiteStore_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetByID(context.Background(), 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSQLiteStore_ListExpiringOn tests status, date and type filters.
func TestSQLiteStore_ListExpiringOn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)

	match, _ := s.Save(ctx, sampleMember("a@example.com", domain.TypeIndividual, day))
	s.Save(ctx, sampleMember("b@example.com", domain.TypeHonorary, day))
	s.Save(ctx, sampleMember("c@example.com", domain.TypeFamily, day.AddDate(0, 0, 1)))
	pending := sampleMember("d@example.com", domain.TypeFamily, day)
	pending.Status = domain.StatusPending
	s.Save(ctx, pending)

	got, err := s.ListExpiringOn(ctx, day, domain.DuesPayingTypes())
	if err != nil {
		t.Fatalf("ListExpiringOn: %v", err)
	}
	if len(got) != 1 || got[0].ID != match {
		t.Errorf("got %+v, want only member %d", got, match)
	}

	none, err := s.ListExpiringOn(ctx, day, nil)
	if err != nil || none != nil {
		t.Errorf("empty types = %v, %v", none, err)
	}
}

// TestSQLiteStore_RenewalTimes tests renewal history and year bucketing.
func TestSQLiteStore_RenewalTimes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Save(ctx, sampleMember("a@example.com", domain.TypeSponsor, time.Time{}))

	for _, at := range []time.Time{
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	} {
		if ok, err := s.RecordRenewal(ctx, id, at); err != nil || !ok {
			t.Fatalf("RecordRenewal(%v) = %v, %v", at, ok, err)
		}
	}
	times, err := s.RenewalTimes(ctx, id)
	if err != nil {
		t.Fatalf("RenewalTimes: %v", err)
	}
	if len(times) != 4 || !times[0].Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("times = %v, want four, newest first", times)
	}
	if got := domain.ConsecutiveYears(domain.RenewalYearsIn(times, time.UTC), 2026); got != 3 {
		t.Errorf("ConsecutiveYears = %d, want 3", got)
	}
}

// TestSQLiteStore_RenewalAfterLocalNewYear tests that a renewal just after
// midnight on 1 January in Madrid counts toward the new year.
func TestSQLiteStore_RenewalAfterLocalNewYear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Save(ctx, sampleMember("a@example.com", domain.TypeSponsor, time.Time{}))
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}

	if _, err := s.RecordRenewal(ctx, id, time.Date(2026, 1, 1, 0, 30, 0, 0, madrid)); err != nil {
		t.Fatal(err)
	}
	times, err := s.RenewalTimes(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if times[0].Year() != 2025 {
		t.Fatalf("stored instant should be 2025 in UTC, got %v", times[0])
	}
	years := domain.RenewalYearsIn(times, madrid)
	if got := domain.ConsecutiveYears(years, 2026); got != 1 {
		t.Errorf("years in Madrid = %v, streak = %d, want 1", years, got)
	}
}

// TestSQLiteStore_RecordRenewalOncePerDay tests that a redelivered renewal
// event on the same local day does not add a second row.
func TestSQLiteStore_RecordRenewalOncePerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.Save(ctx, sampleMember("a@example.com", domain.TypeSponsor, time.Time{}))
	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}

	first := time.Date(2026, 3, 10, 9, 0, 0, 0, madrid)
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"first renewal", first, true},
		{"same day again", first.Add(3 * time.Hour), false},
		{"late evening same day", time.Date(2026, 3, 10, 23, 59, 0, 0, madrid), false},
		{"next day", time.Date(2026, 3, 11, 0, 1, 0, 0, madrid), true},
	}
	for _, tt := range tests {
		got, err := s.RecordRenewal(ctx, id, tt.at)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: recorded = %v, want %v", tt.name, got, tt.want)
		}
	}
	times, _ := s.RenewalTimes(ctx, id)
	if len(times) != 2 {
		t.Errorf("renewal rows = %d, want 2", len(times))
	}
}
