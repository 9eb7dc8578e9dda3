// Package period infers the reporting window of a message from its
// text and a reference date. Detection is pure and never fails.
package period

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

// Keyword sets cover both Chinese and English phrasing. Matching is
// case-insensitive substring containment.
var (
	dailyKeywords   = []string{"日报", "日報", "daily", "today", "当日", "本日"}
	weeklyKeywords  = []string{"周报", "週報", "weekly", "this week", "本周", "本週"}
	monthlyKeywords = []string{"月报", "月度", "monthly", "this month", "本月"}
)

// Detect returns the period type and its inclusive date window.
// Precedence is monthly > weekly > daily; a message matching no keyword
// is treated as a weekly report near the end of the week (Fri/Sat/Sun)
// and a daily report otherwise.
func Detect(text string, reference time.Time) (report.PeriodType, time.Time, time.Time) {
	ref := truncateDay(reference)
	lower := strings.ToLower(text)

	if containsAny(lower, monthlyKeywords) {
		start, end := monthWindow(ref)
		return report.PeriodMonthly, start, end
	}
	if containsAny(lower, weeklyKeywords) {
		start, end := weekWindow(ref)
		return report.PeriodWeekly, start, end
	}
	if containsAny(lower, dailyKeywords) {
		return report.PeriodDaily, ref, ref
	}

	switch ref.Weekday() {
	case time.Friday, time.Saturday, time.Sunday:
		start, end := weekWindow(ref)
		return report.PeriodWeekly, start, end
	}
	return report.PeriodDaily, ref, ref
}

// WindowFor computes the window for a known period type, used when the
// cadence comes from a report rule instead of the message text.
func WindowFor(periodType report.PeriodType, reference time.Time) (time.Time, time.Time) {
	ref := truncateDay(reference)
	switch periodType {
	case report.PeriodMonthly:
		return monthWindow(ref)
	case report.PeriodWeekly:
		return weekWindow(ref)
	default:
		return ref, ref
	}
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// weekWindow returns Monday..Sunday of the ISO week containing ref.
func weekWindow(ref time.Time) (time.Time, time.Time) {
	offset := (int(ref.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
	start := ref.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 6)
}

// monthWindow returns the first and last day of ref's month.
func monthWindow(ref time.Time) (time.Time, time.Time) {
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	return start, start.AddDate(0, 1, -1)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
