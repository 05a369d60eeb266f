package scheduler

import (
	"testing"
	"time"
)

func TestNextRunOnceReturnsAt(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	next, ok := NextRun(Schedule{Kind: KindOnce, At: at}, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	if !ok || !next.Equal(at) {
		t.Fatalf("NextRun(Once) = %v, %v; want %v, true", next, ok, at)
	}
}

func TestNextRunIntervalAddsSeconds(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next, ok := NextRun(Schedule{Kind: KindInterval, EverySecs: 60}, now)
	if !ok || !next.Equal(now.Add(60*time.Second)) {
		t.Fatalf("NextRun(Interval) = %v, %v", next, ok)
	}
}

func TestNextRunDailyRollsToTomorrowIfPast(t *testing.T) {
	now := time.Date(2026, 7, 31, 14, 30, 0, 0, time.UTC)
	next, ok := NextRun(Schedule{Kind: KindDaily, Hour: 9, Minute: 0}, now)
	if !ok {
		t.Fatalf("NextRun(Daily) ok = false")
	}
	want := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextRun(Daily) = %v, want %v", next, want)
	}
}

func TestNextRunDailyStaysTodayIfFuture(t *testing.T) {
	now := time.Date(2026, 7, 31, 5, 0, 0, 0, time.UTC)
	next, ok := NextRun(Schedule{Kind: KindDaily, Hour: 9, Minute: 0}, now)
	if !ok {
		t.Fatalf("NextRun(Daily) ok = false")
	}
	want := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextRun(Daily) = %v, want %v", next, want)
	}
}

func TestNextRunWeeklyFindsNextOccurrence(t *testing.T) {
	// 2026-07-31 is a Friday (spec weekday 4, Mon=0). Ask for Monday (0) at 09:00.
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next, ok := NextRun(Schedule{Kind: KindWeekly, Weekday: 0, Hour: 9, Minute: 0}, now)
	if !ok {
		t.Fatalf("NextRun(Weekly) ok = false")
	}
	want := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) // next Monday
	if !next.Equal(want) {
		t.Fatalf("NextRun(Weekly) = %v, want %v", next, want)
	}
}

func TestNextRunCronParsesExpression(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next, ok := NextRun(Schedule{Kind: KindCron, CronExpr: "0 9 * * *"}, now)
	if !ok {
		t.Fatalf("NextRun(Cron) ok = false")
	}
	want := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextRun(Cron) = %v, want %v", next, want)
	}
}

func TestNextRunCronInvalidExpression(t *testing.T) {
	_, ok := NextRun(Schedule{Kind: KindCron, CronExpr: "not a cron expr"}, time.Now())
	if ok {
		t.Fatalf("NextRun(Cron) with invalid expr should return ok=false")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := Schedule{Kind: KindInterval, EverySecs: 30}
	encoded, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded != s {
		t.Fatalf("Decode(Encode(s)) = %+v, want %+v", decoded, s)
	}
}
