package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date is a calendar date with optional month and day precision. Zero Month or Day means absent.
type Date struct {
	Year  int
	Month int
	Day   int
}

// ISO formats the date with its own precision: YYYY, YYYY-MM or YYYY-MM-DD.
func (d Date) ISO() string {
	switch {
	case d.Month == 0:
		return fmt.Sprintf("%04d", d.Year)
	case d.Day == 0:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	}
}

// DateRange is a parsed date or interval. End is nil for single dates.
type DateRange struct {
	Start Date
	End   *Date
}

// ISO formats the range as an ISO 8601 interval when it has an end.
func (r DateRange) ISO() string {
	if r.End == nil {
		return r.Start.ISO()
	}
	return r.Start.ISO() + "/" + r.End.ISO()
}

type datePattern struct {
	re               *regexp.Regexp
	year, month, day int
}

// Capture group positions per pattern; 0 means the part is absent.
var datePatterns = []datePattern{
	{re: regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`), year: 1, month: 2, day: 3},
	{re: regexp.MustCompile(`^(\d{1,2})\.\s?(\d{1,2})\.\s?(\d{4})$`), year: 3, month: 2, day: 1},
	{re: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`), year: 3, month: 1, day: 2},
	{re: regexp.MustCompile(`^(\d{4})-(\d{1,2})$`), year: 1, month: 2},
	{re: regexp.MustCompile(`^(\d{1,2})\.(\d{4})$`), year: 2, month: 1},
	{re: regexp.MustCompile(`^(\d{4})$`), year: 1},
}

var rangeSeparators = []string{" - ", " – ", "–", "/", "-"}

// genericLayouts are tried last, for machine-written timestamps.
var genericLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02",
	"20060102",
}

// ParseDate parses the date notations found in collection records. It returns false when
// nothing matches; callers keep the verbatim text in that case.
func ParseDate(s string) (DateRange, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateRange{}, false
	}

	if d, ok := parseSingle(s); ok {
		return DateRange{Start: d}, true
	}

	for _, sep := range rangeSeparators {
		if strings.Count(s, sep) != 1 {
			continue
		}
		left, right, _ := strings.Cut(s, sep)
		start, ok := parseSingle(strings.TrimSpace(left))
		if !ok {
			continue
		}
		end, ok := parseSingle(strings.TrimSpace(right))
		if !ok {
			continue
		}
		return DateRange{Start: start, End: &end}, true
	}

	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateRange{Start: Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}}, true
		}
	}
	return DateRange{}, false
}

func parseSingle(s string) (Date, bool) {
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		d := Date{Year: atoi(m, p.year), Month: atoi(m, p.month), Day: atoi(m, p.day)}
		if valid(d) {
			return d, true
		}
	}
	return Date{}, false
}

func atoi(m []string, group int) int {
	if group == 0 {
		return 0
	}
	n, _ := strconv.Atoi(m[group])
	return n
}

func valid(d Date) bool {
	if d.Year < 1000 || d.Year > 9999 {
		return false
	}
	if d.Month == 0 {
		return d.Day == 0
	}
	if d.Month < 1 || d.Month > 12 {
		return false
	}
	if d.Day == 0 {
		return true
	}
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Day() == d.Day
}
