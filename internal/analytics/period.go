package analytics

import (
	"strings"
	"time"
)

// Period is the time window applied to a trade's open time before aggregation.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// ParsePeriod maps a query value to a Period; anything unknown means all.
func ParsePeriod(s string) Period {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodWeek, PeriodMonth, PeriodYear:
		return p
	}
	return PeriodAll
}

// Since returns the inclusive lower bound of the window ending at now, or the
// zero time for PeriodAll.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	case PeriodYear:
		return now.AddDate(-1, 0, 0)
	}
	return time.Time{}
}
