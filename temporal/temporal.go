// Package temporal resolves natural-language date/time phrases ("next week
// in the mornings", "Friday between two and four") into structured ranges.
// Resolution is anchored at a caller-supplied instant and never consults the
// wall clock, so results are reproducible.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// TimeOfDay is either a single clock time (At) or a clock range (From/To).
// Values are 24-hour "HH:MM" strings.
type TimeOfDay struct {
	At   string
	From string
	To   string
}

// Result is the outcome of resolving a phrase: nothing, a single date, or a
// date range, each optionally carrying a time component. Dates are
// "YYYY-MM-DD" strings.
type Result struct {
	Date     string
	FromDate string
	ToDate   string
	Time     *TimeOfDay
}

// IsEmpty reports whether neither a date nor a time component was resolved.
func (r Result) IsEmpty() bool {
	return r.Date == "" && r.FromDate == "" && r.Time == nil
}

// ToMap renders the result in the shape expression contexts and step outputs
// use: {date} or {fromDate, toDate}, plus time as either a string or a
// {fromTime, toTime} object.
func (r Result) ToMap() map[string]any {
	m := map[string]any{}
	if r.Date != "" {
		m["date"] = r.Date
	}
	if r.FromDate != "" {
		m["fromDate"] = r.FromDate
		m["toDate"] = r.ToDate
	}
	if r.Time != nil {
		if r.Time.At != "" {
			m["time"] = r.Time.At
		} else {
			m["time"] = map[string]any{
				"fromTime": r.Time.From,
				"toTime":   r.Time.To,
			}
		}
	}
	return m
}

// parser handles the phrases the explicit rules below don't. It is built once
// and never mutated afterwards, so concurrent Parse calls are safe.
var parser = newParser()

func newParser() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}

// Parse resolves phrase against anchor. Date and time portions are resolved
// independently; the time component is attached to whichever date result
// wins. With businessHourBias set, ambiguous clock hours outside 06:00-17:00
// are shifted into business hours ("two" means 14:00, not 02:00).
func Parse(phrase string, anchor time.Time, businessHourBias bool) Result {
	lower := strings.ToLower(phrase)
	tod := parseTimeOfDay(lower, businessHourBias)
	result := parseDate(lower, anchor)
	result.Time = tod
	return result
}

var monthRe = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var rangeSeparators = []string{" to ", " through ", " until "}

// parseDate applies the date rules in order; the first match wins.
func parseDate(lower string, anchor time.Time) Result {
	// Rule 1: the week starting the next Sunday after the anchor.
	if strings.Contains(lower, "next week") || strings.Contains(lower, "the following week") {
		start := nextSunday(anchor)
		return Result{
			FromDate: formatDate(start),
			ToDate:   formatDate(start.AddDate(0, 0, 7)),
		}
	}

	// Rule 2: a bare month name means the whole month nearest the anchor.
	if m := monthRe.FindString(lower); m != "" {
		first := time.Date(anchor.Year(), months[m], 1, 0, 0, 0, 0, anchor.Location())
		last := first.AddDate(0, 1, -1)
		return Result{
			FromDate: formatDate(first),
			ToDate:   formatDate(last),
		}
	}

	// Rule 3: explicit date range ("monday to wednesday").
	for _, sep := range rangeSeparators {
		left, right, found := strings.Cut(lower, sep)
		if !found {
			continue
		}
		from, okFrom := parseSingleDate(left, anchor)
		to, okTo := parseSingleDate(right, anchor)
		if okFrom && okTo {
			return Result{
				FromDate: formatDate(from),
				ToDate:   formatDate(to),
			}
		}
	}

	// Rule 4: generic single date with a forward bias.
	if d, ok := parseSingleDate(lower, anchor); ok {
		return Result{Date: formatDate(d)}
	}

	return Result{}
}

// parseSingleDate resolves one date mention. Weekday names are handled
// explicitly so that ambiguous ones land on the next future occurrence (the
// anchor's own day counts as future); everything else goes through the
// natural-language parser.
func parseSingleDate(lower string, anchor time.Time) (time.Time, bool) {
	for name, wd := range weekdays {
		if !containsWord(lower, name) {
			continue
		}
		ahead := (int(wd) - int(anchor.Weekday()) + 7) % 7
		if ahead == 0 && containsWord(lower, "next "+name) {
			ahead = 7
		}
		return anchor.AddDate(0, 0, ahead), true
	}

	r, err := parser.Parse(lower, anchor)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	return r.Time, true
}

func nextSunday(from time.Time) time.Time {
	days := (7 - int(from.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	return from.AddDate(0, 0, days)
}

var (
	betweenRe = regexp.MustCompile(`\bbetween\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?\s+and\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?`)
	afterRe   = regexp.MustCompile(`\bafter\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?`)
	beforeRe  = regexp.MustCompile(`\bbefore\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?`)
	clockRe   = regexp.MustCompile(`\bat\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?|\b(\d{1,2}:\d{2})\s*(am|pm)?\b|\b(\d{1,2})\s*(am|pm)\b`)
)

// spelled maps spelled-out clock digits to their numeric form.
var spelled = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9", "ten": "10",
	"eleven": "11", "twelve": "12",
}

var spelledRe = regexp.MustCompile(`\b(one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b`)

func normalizeDigits(s string) string {
	return spelledRe.ReplaceAllStringFunc(s, func(w string) string {
		return spelled[w]
	})
}

// parseTimeOfDay extracts the time component, independent of any date rule.
func parseTimeOfDay(lower string, bias bool) *TimeOfDay {
	norm := normalizeDigits(lower)
	hasDigit := strings.ContainsAny(norm, "0123456789")

	halfday := ""
	for _, w := range []string{"morning", "afternoon", "evening"} {
		if strings.Contains(norm, w) {
			halfday = w
			break
		}
	}

	// A half-day word with no clock digits means the whole half-day range.
	if halfday != "" && !hasDigit {
		switch halfday {
		case "morning":
			return &TimeOfDay{From: "00:00", To: "12:00"}
		case "afternoon":
			return &TimeOfDay{From: "12:00", To: "18:00"}
		default:
			return &TimeOfDay{From: "18:00", To: "00:00"}
		}
	}

	if m := betweenRe.FindStringSubmatch(norm); m != nil {
		from := resolveClock(m[1], m[2], halfday, bias)
		to := resolveClock(m[3], m[4], halfday, bias)
		return &TimeOfDay{From: from, To: to}
	}
	if m := afterRe.FindStringSubmatch(norm); m != nil {
		return &TimeOfDay{From: resolveClock(m[1], m[2], halfday, bias), To: "23:59"}
	}
	if m := beforeRe.FindStringSubmatch(norm); m != nil {
		return &TimeOfDay{From: "00:00", To: resolveClock(m[1], m[2], halfday, bias)}
	}
	if m := clockRe.FindStringSubmatch(norm); m != nil {
		raw, meridiem := clockMatch(m)
		return &TimeOfDay{At: resolveClock(raw, meridiem, halfday, bias)}
	}
	return nil
}

// clockMatch picks the populated alternative out of clockRe's submatches.
func clockMatch(m []string) (raw, meridiem string) {
	switch {
	case m[1] != "":
		return m[1], m[2]
	case m[3] != "":
		return m[3], m[4]
	default:
		return m[5], m[6]
	}
}

// resolveClock turns "2", "2:30", "2 pm" style fragments into "HH:MM".
// An explicit or half-day-implied meridiem fixes the hour; otherwise the
// business-hour bias shifts hours outside 06:00-17:00 into business hours.
func resolveClock(raw, meridiem, halfday string, bias bool) string {
	hh, mm, _ := strings.Cut(raw, ":")
	hour, _ := strconv.Atoi(hh)
	minute := 0
	if mm != "" {
		minute, _ = strconv.Atoi(mm)
	}

	if meridiem == "" {
		switch halfday {
		case "morning":
			meridiem = "am"
		case "afternoon", "evening":
			meridiem = "pm"
		}
	}

	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		if bias {
			if hour < 6 {
				hour += 12
			} else if hour > 17 {
				hour -= 12
			}
		}
	}

	return fmt.Sprintf("%02d:%02d", hour%24, minute)
}

func containsWord(s, word string) bool {
	idx := strings.Index(s, word)
	for idx >= 0 {
		before := idx == 0 || !isLetter(s[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx == len(s) || !isLetter(s[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
