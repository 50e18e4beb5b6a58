package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sphinx-bot/ledger"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DayLayout, s)
	require.NoError(t, err)
	return d.Add(15 * time.Hour) // time of day must not matter
}

func TestCheckIn_FirstCreatesRecord(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	rec, changed, err := e.CheckIn(context.Background(), "alice", day(t, "2024-01-01"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ledger.AttendanceRecord{Username: "alice", Dates: []string{"2024-01-01"}, Last: "2024-01-01", Streak: 1}, rec)
}

func TestCheckIn_SameDayIsIdempotent(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	ctx := context.Background()
	first, _, err := e.CheckIn(ctx, "alice", day(t, "2024-01-01"))
	require.NoError(t, err)

	again, changed, err := e.CheckIn(ctx, "alice", day(t, "2024-01-01").Add(5*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, again)
}

func TestCheckIn_StreakExtendsAndResets(t *testing.T) {
	store := ledger.NewMemoryAttendance()
	ctx := context.Background()
	_, err := store.Update(ctx, "bob", func(rec *ledger.AttendanceRecord, exists bool) (bool, error) {
		rec.Dates = []string{"2024-01-01", "2024-01-02"}
		rec.Last = "2024-01-02"
		rec.Streak = 2
		return true, nil
	})
	require.NoError(t, err)
	e := NewEngine(store)

	rec, changed, err := e.CheckIn(ctx, "bob", day(t, "2024-01-03"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 3, rec.Streak)
	assert.Equal(t, "2024-01-03", rec.Last)

	rec, _, err = e.CheckIn(ctx, "bob", day(t, "2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Streak)
	assert.Equal(t, "2024-01-10", rec.Last)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-10"}, rec.Dates)
}

func TestCheckIn_CalendarDayNotElapsedTime(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	ctx := context.Background()
	late := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	early := time.Date(2024, 3, 2, 0, 1, 0, 0, time.UTC) // two minutes later, next day
	_, _, err := e.CheckIn(ctx, "cy", late)
	require.NoError(t, err)
	rec, changed, err := e.CheckIn(ctx, "cy", early)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, rec.Streak)
}

func TestCheckIn_UsesUTCDay(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	loc := time.FixedZone("UTC-8", -8*3600)
	// 20:00 local on Jan 1 is 04:00 UTC on Jan 2.
	rec, _, err := e.CheckIn(context.Background(), "di", time.Date(2024, 1, 1, 20, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", rec.Last)
}

func TestCheckIn_MonthBoundary(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	ctx := context.Background()
	_, _, err := e.CheckIn(ctx, "ed", day(t, "2024-02-29"))
	require.NoError(t, err)
	rec, _, err := e.CheckIn(ctx, "ed", day(t, "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Streak)
}

func TestCheckIn_PastDayKeepsHistorySorted(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	ctx := context.Background()
	_, _, err := e.CheckIn(ctx, "fi", day(t, "2024-01-05"))
	require.NoError(t, err)
	rec, changed, err := e.CheckIn(ctx, "fi", day(t, "2024-01-03"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"2024-01-03", "2024-01-05"}, rec.Dates)
	assert.Equal(t, "2024-01-05", rec.Last)
	assert.Equal(t, 1, rec.Streak)
}

func TestCheckIn_ConcurrentSameUserSameDayCountsOnce(t *testing.T) {
	store := ledger.NewMemoryAttendance()
	ctx := context.Background()
	_, err := store.Update(ctx, "gus", func(rec *ledger.AttendanceRecord, exists bool) (bool, error) {
		rec.Dates = []string{"2024-01-01"}
		rec.Last = "2024-01-01"
		rec.Streak = 1
		return true, nil
	})
	require.NoError(t, err)
	e := NewEngine(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.CheckIn(ctx, "gus", day(t, "2024-01-02"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := e.Lookup(ctx, "gus")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Streak)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, rec.Dates)
}

func TestLookup_NotFound(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	_, err := e.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMonthlyCounts_OnlyCurrentMonth(t *testing.T) {
	e := NewEngine(ledger.NewMemoryAttendance())
	ctx := context.Background()
	for _, d := range []string{"2024-01-30", "2024-01-31", "2024-02-01", "2024-02-02"} {
		_, _, err := e.CheckIn(ctx, "hal", day(t, d))
		require.NoError(t, err)
	}
	_, _, err := e.CheckIn(ctx, "ivy", day(t, "2024-01-15"))
	require.NoError(t, err)
	// Same month number, previous year.
	_, _, err = e.CheckIn(ctx, "jo", day(t, "2023-02-10"))
	require.NoError(t, err)

	counts, err := e.MonthlyCounts(ctx, day(t, "2024-02-20"))
	require.NoError(t, err)
	assert.Equal(t, []ledger.Entry{
		{Username: "hal", Value: 2},
		{Username: "ivy", Value: 0},
		{Username: "jo", Value: 0},
	}, counts)
}
