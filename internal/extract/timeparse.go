// internal/extract/timeparse.go
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The portals stamp events three ways: an absolute dd/mm/yyyy date-time, a
// "hoy/ayer a las HH:MM" phrasing, or a relative "hace N minutos/horas/dias"
// phrasing. Anything unparseable falls back to the capture time; a fuzzy
// timestamp does not invalidate a coordinate fix.

var (
	reAbsolute = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})\s+(\d{1,2}):(\d{2})(?::(\d{2}))?`)
	reTodayAt  = regexp.MustCompile(`(?i)(hoy|ayer)\s+a\s+las?\s+(\d{1,2}):(\d{2})`)
	reAgo      = regexp.MustCompile(`(?i)hace\s+(\d+)\s+(minutos?|horas?|d[ií]as?|segundos?)`)
)

// parseEventTime extracts the event timestamp from popup text relative to
// the capture instant; when nothing parses it returns the capture instant.
func parseEventTime(rawText string, captured time.Time) time.Time {
	if t, ok := parseAbsolute(rawText, captured.Location()); ok {
		return t
	}
	if t, ok := parseTodayYesterday(rawText, captured); ok {
		return t
	}
	if t, ok := parseAgo(rawText, captured); ok {
		return t
	}
	return captured
}

func parseAbsolute(text string, loc *time.Location) (time.Time, bool) {
	m := reAbsolute.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second := 0
	if m[6] != "" {
		second, _ = strconv.Atoi(m[6])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), true
}

func parseTodayYesterday(text string, captured time.Time) (time.Time, bool) {
	m := reTodayAt.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(m[2])
	minute, _ := strconv.Atoi(m[3])
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	day := captured
	if strings.EqualFold(m[1], "ayer") {
		day = captured.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, captured.Location()), true
}

func parseAgo(text string, captured time.Time) (time.Time, bool) {
	m := reAgo.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "segundo"):
		return captured.Add(-time.Duration(n) * time.Second), true
	case strings.HasPrefix(unit, "minuto"):
		return captured.Add(-time.Duration(n) * time.Minute), true
	case strings.HasPrefix(unit, "hora"):
		return captured.Add(-time.Duration(n) * time.Hour), true
	default: // dias
		return captured.AddDate(0, 0, -n), true
	}
}
