package rollover

import (
	"time"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const day = 24 * time.Hour

type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the width, in whole days, of each of the n windows tiling [start, end):
// floor((end - start) / n), never less than one day.
func Duration(start, end time.Time, n int) int {
	if n < 1 {
		return 0
	}
	days := int(core.TruncateDate(end).Sub(core.TruncateDate(start)) / day)
	d := days / n
	if d < 1 {
		d = 1
	}
	return d
}

// Prorate splits [start, end) into n contiguous equal windows of Duration days.
// The remainder of the division is not redistributed: the last window may end before `end`.
func Prorate(start, end time.Time, n int) []Window {
	if n < 1 {
		return nil
	}
	start = core.TruncateDate(start)
	d := Duration(start, end, n)

	windows := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		windows = append(windows, Window{
			Start: start.AddDate(0, 0, i*d),
			End:   start.AddDate(0, 0, (i+1)*d),
		})
	}
	return windows
}
