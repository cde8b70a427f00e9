package rollover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		n     int
		want  int
	}{
		{name: "no terms", start: date(2024, 9, 1), end: date(2025, 7, 1), want: 0},
		{name: "negative terms", start: date(2024, 9, 1), end: date(2025, 7, 1), n: -1, want: 0},
		{name: "304 days over 3", start: date(2024, 9, 1), end: date(2024, 9, 1).AddDate(0, 0, 304), n: 3, want: 101},
		{name: "exact division", start: date(2024, 1, 1), end: date(2024, 1, 31), n: 3, want: 10},
		{name: "shorter than n days", start: date(2024, 1, 1), end: date(2024, 1, 2), n: 3, want: 1},
		{name: "same day", start: date(2024, 1, 1), end: date(2024, 1, 1), n: 2, want: 1},
		{name: "times are truncated", start: date(2024, 1, 1).Add(23 * time.Hour), end: date(2024, 1, 11).Add(time.Hour), n: 2, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.start, tt.end, tt.n); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProrate(t *testing.T) {
	t.Run("school year example", func(t *testing.T) {
		start := date(2024, 9, 1)
		end := start.AddDate(0, 0, 304)

		got := Prorate(start, end, 3)
		want := []Window{
			{Start: date(2024, 9, 1), End: date(2024, 12, 11)},
			{Start: date(2024, 12, 11), End: date(2025, 3, 22)},
			{Start: date(2025, 3, 22), End: date(2025, 7, 1)},
		}
		assert.Equal(t, want, got)
		assert.True(t, got[2].End.Before(end), "the remainder is not redistributed")
		assert.Equal(t, 1, int(end.Sub(got[2].End)/day))
	})

	t.Run("no terms", func(t *testing.T) {
		assert.Empty(t, Prorate(date(2024, 9, 1), date(2025, 7, 1), 0))
	})

	spans := []struct {
		start time.Time
		end   time.Time
	}{
		{date(2024, 9, 1), date(2025, 6, 30)},
		{date(2023, 1, 1), date(2023, 1, 2)},
		{date(2024, 2, 28), date(2024, 3, 1)}, // leap day
		{date(2025, 3, 29), date(2025, 10, 27)},
		{date(2020, 1, 1), date(2030, 1, 1)},
	}
	for _, span := range spans {
		for n := 1; n <= 7; n++ {
			windows := Prorate(span.start, span.end, n)
			d := Duration(span.start, span.end, n)

			if !assert.Len(t, windows, n) {
				continue
			}
			assert.True(t, windows[0].Start.Equal(span.start))
			assert.True(t, windows[n-1].End.Equal(span.start.AddDate(0, 0, n*d)), "windows tile [S, S+n*d)")
			for i, w := range windows {
				assert.Equal(t, d, int(w.End.Sub(w.Start)/day), "equal width")
				if i > 0 {
					assert.True(t, w.Start.Equal(windows[i-1].End), "contiguous, no overlap")
				}
			}
		}
	}
}
