package calendar

import (
	"errors"
	"testing"
	"time"
)

func mustTime(t *testing.T, year int, month time.Month, day, hour, min, sec int) time.Time {
	t.Helper()
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

//
// ParseLocal
//

func TestParseLocal_MinutesAndSeconds(t *testing.T) {
	got, err := ParseLocal("2025-03-10", "14:30", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(mustTime(t, 2025, 3, 10, 14, 30, 0)) {
		t.Fatalf("got %v", got)
	}

	got, err = ParseLocal("2025-03-10", "14:30:15", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(mustTime(t, 2025, 3, 10, 14, 30, 15)) {
		t.Fatalf("got %v", got)
	}
}

func TestParseLocal_UsesBusinessZone(t *testing.T) {
	loc := mustLocation(t, "America/Santiago")

	got, err := ParseLocal("2025-01-15", "09:00", loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// В январе в Сантьяго летнее время, UTC-3.
	if !got.UTC().Equal(mustTime(t, 2025, 1, 15, 12, 0, 0)) {
		t.Fatalf("expected 12:00 UTC, got %v", got.UTC())
	}
}

func TestParseLocal_Invalid(t *testing.T) {
	if _, err := ParseLocal("15/01/2025", "09:00", time.UTC); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if _, err := ParseLocal("2025-01-15", "9am", time.UTC); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("expected ErrInvalidTime, got %v", err)
	}
}

//
// Правила переходов
//

func TestShouldComplete_StrictBoundary(t *testing.T) {
	r := DefaultRules()
	now := mustTime(t, 2025, 5, 1, 12, 0, 0)

	if !r.ShouldComplete(now.Add(-time.Second), now) {
		t.Fatalf("end = now-1s must complete")
	}
	if r.ShouldComplete(now, now) {
		t.Fatalf("end = now must not complete (strictly in the past only)")
	}
	if r.ShouldComplete(now.Add(time.Second), now) {
		t.Fatalf("end = now+1s must not complete")
	}
}

func TestShouldConfirm_WithLead(t *testing.T) {
	r := DefaultRules()
	now := mustTime(t, 2025, 5, 1, 12, 0, 0)

	if !r.ShouldConfirm(now, now) {
		t.Fatalf("start = now must confirm")
	}
	if r.ShouldConfirm(now.Add(time.Minute), now) {
		t.Fatalf("future start must not confirm without lead")
	}

	r.AutoConfirmLead = 2 * time.Hour
	if !r.ShouldConfirm(now.Add(90*time.Minute), now) {
		t.Fatalf("start within lead window must confirm")
	}
	if r.ShouldConfirm(now.Add(3*time.Hour), now) {
		t.Fatalf("start beyond lead window must not confirm")
	}
}

func TestShouldArchive_RetentionWindow(t *testing.T) {
	r := DefaultRules()
	now := mustTime(t, 2025, 5, 10, 12, 0, 0)

	if !r.ShouldArchive(now.Add(-r.ArchiveAfter-time.Second), now) {
		t.Fatalf("completed beyond retention must archive")
	}
	if r.ShouldArchive(now.Add(-r.ArchiveAfter+time.Hour), now) {
		t.Fatalf("completed within retention must not archive")
	}
}

func TestTrialExpired_Boundary(t *testing.T) {
	r := DefaultRules()
	r.TrialLength = 14 * 24 * time.Hour
	now := mustTime(t, 2025, 6, 1, 0, 0, 0)

	if r.TrialExpired(now.Add(-r.TrialLength+time.Minute), now) {
		t.Fatalf("created TRIAL_DAYS-1m ago must stay trial")
	}
	if !r.TrialExpired(now.Add(-r.TrialLength-time.Minute), now) {
		t.Fatalf("created TRIAL_DAYS+1m ago must expire")
	}
	if !r.TrialExpired(now.Add(-r.TrialLength), now) {
		t.Fatalf("elapsed == TRIAL_DAYS must expire")
	}
}

func TestRenewalDate_FromNow(t *testing.T) {
	r := DefaultRules()
	now := mustTime(t, 2025, 6, 1, 8, 0, 0)

	got := r.RenewalDate(now)
	if !got.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Fatalf("renewal = %v", got)
	}
}

func TestWindow_DefaultDuration(t *testing.T) {
	r := DefaultRules()

	w, err := r.Window("2025-06-01", "10:00", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.End.Sub(w.Start) != time.Hour {
		t.Fatalf("expected default 1h duration, got %v", w.End.Sub(w.Start))
	}

	w, err = r.Window("2025-06-01", "10:00", 45*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.End.Equal(mustTime(t, 2025, 6, 1, 10, 45, 0)) {
		t.Fatalf("end = %v", w.End)
	}
}

func TestDateKey_LocalDate(t *testing.T) {
	r := DefaultRules()
	r.Location = mustLocation(t, "America/Santiago")

	// 02:00 UTC, в Сантьяго ещё предыдущий день.
	got := r.DateKey(mustTime(t, 2025, 1, 16, 2, 0, 0))
	if got != "2025-01-15" {
		t.Fatalf("date key = %s, want 2025-01-15", got)
	}
}

func TestFormatForUser(t *testing.T) {
	got := FormatForUser("2025-01-15", "09:05", time.UTC)
	if got != "15.01.2025 09:05" {
		t.Fatalf("got %q", got)
	}
	// Невалидные значения отдаём как есть.
	if got := FormatForUser("bad", "x", time.UTC); got != "bad x" {
		t.Fatalf("got %q", got)
	}
}
