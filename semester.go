package memberid

import (
	"fmt"
	"time"
)

// Semester is the validity window a wallet credential is bound to.
type Semester struct {
	Label     string
	LongLabel string
	End       time.Time
}

// CurrentSemester maps now onto the summer band (Mar 15 - Sep 30) or the winter
// band (Oct 1 - Mar 14). Dates are evaluated in UTC.
func CurrentSemester(now time.Time) Semester {
	now = now.UTC()
	year, month, day := now.Date()
	today := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	summerStart := time.Date(year, time.March, 15, 0, 0, 0, 0, time.UTC)
	summerEnd := time.Date(year, time.September, 30, 0, 0, 0, 0, time.UTC)

	switch {
	case !today.Before(summerStart) && !today.After(summerEnd):
		return Semester{
			Label:     fmt.Sprintf("SS%02d", year%100),
			LongLabel: fmt.Sprintf("Sommersemester %d", year),
			End:       endOfDay(year, time.September, 30),
		}
	case today.After(summerEnd):
		return Semester{
			Label:     fmt.Sprintf("WS%02d", year%100),
			LongLabel: fmt.Sprintf("Wintersemester %d/%02d", year, (year+1)%100),
			End:       endOfDay(year+1, time.March, 14),
		}
	default:
		return Semester{
			Label:     fmt.Sprintf("WS%02d", (year-1)%100),
			LongLabel: fmt.Sprintf("Wintersemester %d/%02d", year-1, year%100),
			End:       endOfDay(year, time.March, 14),
		}
	}
}

// RemainingSeconds returns the whole seconds between now and the semester end,
// or 0 once the end has passed.
func (s Semester) RemainingSeconds(now time.Time) uint64 {
	end, cur := s.End.Unix(), now.Unix()
	if end <= cur {
		return 0
	}
	return uint64(end - cur)
}

func endOfDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
}
