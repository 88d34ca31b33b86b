// Package quota detects assistant quota exhaustion and turns it into a pause
// whose resume time is always in the future.
package quota

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones named in reset hints

	"github.com/dustin/go-humanize"
)

// DefaultResumeDelay is used when a reset hint is missing, unparseable or stale
const DefaultResumeDelay = time.Hour

// markers are matched case-insensitively against assistant stdout and stderr
var markers = []string{
	"out of extra usage",
	"usage limit reached",
	"you've hit your limit",
	"you have hit your limit",
	"you've reached your usage limit",
	"claude ai usage limit",
	"quota exceeded",
	"credit balance is too low",
}

var (
	// resets 10am (Europe/Paris)
	hintZonedRegex = regexp.MustCompile(`(?i)\breset(?:s)?\s+(?:at\s+)?[^()\n·|]*?\(\s*[A-Za-z][A-Za-z0-9_+\-/]*\s*\)`)
	// resets in 2h, resets Jan 5 at 3pm
	hintPlainRegex = regexp.MustCompile(`(?i)\breset(?:s)?\s+(?:at\s+)?[^\n.!;·|()]+`)

	zoneRegex     = regexp.MustCompile(`\(\s*([^)]+?)\s*\)`)
	relativeRegex = regexp.MustCompile(`(?i)^in\s+(.+)$`)
	durationPart  = regexp.MustCompile(`(?i)(\d+)\s*([a-z]+)`)
	weekdayRegex  = regexp.MustCompile(`(?i)^(sun|mon|tue|wed|thu|fri|sat)[a-z]*\.?,?\s+(?:at\s+)?`)
	monthDayRegex = regexp.MustCompile(`(?i)^([a-z]{3,9})\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s*(?:at\s+)?`)
	clockRegex    = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// Detect reports whether any text carries an exhaustion marker
func Detect(texts ...string) bool {
	for _, text := range texts {
		lower := strings.ToLower(normalizeApostrophes(text))
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// ExtractResetHint returns the first "resets <time> (<zone>)" substring,
// falling back to a bare "resets <time>"; empty when none is present
func ExtractResetHint(texts ...string) string {
	for _, text := range texts {
		if m := hintZonedRegex.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	for _, text := range texts {
		if m := hintPlainRegex.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

// ComputeResumeTimestamp parses hint relative to now. The result is always
// strictly after now: unparseable or non-future hints fall back to
// now + fallback. The second value is a human display of the result.
func ComputeResumeTimestamp(hint string, now time.Time, fallback time.Duration) (time.Time, string) {
	if fallback <= 0 {
		fallback = DefaultResumeDelay
	}

	resumeAt, loc, ok := parseHint(hint, now)
	if !ok || !resumeAt.After(now) {
		resumeAt = now.Add(fallback)
		loc = now.Location()
	}
	return resumeAt, display(resumeAt, now, loc)
}

func display(at, now time.Time, loc *time.Location) string {
	local := at.In(loc)
	layout := "15:04 MST"
	if !sameDay(local, now.In(loc)) {
		layout = "Mon Jan 2 15:04 MST"
	}
	return local.Format(layout) + " (" + humanize.RelTime(at, now, "ago", "from now") + ")"
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func parseHint(hint string, now time.Time) (time.Time, *time.Location, bool) {
	s := strings.TrimSpace(hint)
	if s == "" {
		return time.Time{}, nil, false
	}

	loc := now.Location()
	if m := zoneRegex.FindStringSubmatch(s); m != nil {
		if l, err := time.LoadLocation(m[1]); err == nil {
			loc = l
		}
		s = strings.TrimSpace(zoneRegex.ReplaceAllString(s, ""))
	}

	lower := strings.ToLower(s)
	for _, prefix := range []string{"resets", "reset"} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			lower = strings.ToLower(s)
			break
		}
	}
	if strings.HasPrefix(lower, "at ") {
		s = strings.TrimSpace(s[3:])
	}

	if m := relativeRegex.FindStringSubmatch(s); m != nil {
		d, ok := parseRelative(m[1])
		if !ok {
			return time.Time{}, nil, false
		}
		return now.Add(d), loc, true
	}

	t, ok := parseAbsolute(s, now.In(loc))
	return t, loc, ok
}

func parseRelative(s string) (time.Duration, bool) {
	var total time.Duration
	for _, m := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		switch strings.ToLower(m[2]) {
		case "d", "day", "days":
			total += time.Duration(n) * 24 * time.Hour
		case "h", "hr", "hrs", "hour", "hours":
			total += time.Duration(n) * time.Hour
		case "m", "min", "mins", "minute", "minutes":
			total += time.Duration(n) * time.Minute
		case "s", "sec", "secs", "second", "seconds":
			total += time.Duration(n) * time.Second
		default:
			return 0, false
		}
	}
	return total, total > 0
}

// parseAbsolute reads "[Weekday|Mon DD[,]] clock" in the location of now
func parseAbsolute(s string, now time.Time) (time.Time, bool) {
	year, month, day := now.Date()
	explicitDate := false
	weekday := -1

	if m := weekdayRegex.FindStringSubmatch(s); m != nil {
		weekday = parseWeekday(m[1])
		s = strings.TrimSpace(s[len(m[0]):])
	} else if m := monthDayRegex.FindStringSubmatch(s); m != nil {
		mon, ok := parseMonth(m[1])
		if !ok {
			return time.Time{}, false
		}
		d, _ := strconv.Atoi(m[2])
		if d < 1 || d > 31 {
			return time.Time{}, false
		}
		month, day = mon, d
		explicitDate = true
		s = strings.TrimSpace(s[len(m[0]):])
	}

	m := clockRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch meridiem := strings.ToLower(m[3]); meridiem {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		hour %= 12
		if meridiem == "pm" {
			hour += 12
		}
	default:
		// a bare number is too ambiguous to act on
		if m[2] == "" || hour > 23 {
			return time.Time{}, false
		}
	}
	if minute > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, now.Location())
	if weekday >= 0 {
		t = t.AddDate(0, 0, (weekday-int(now.Weekday())+7)%7)
		if !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
		return t, true
	}
	if !t.After(now) {
		if explicitDate {
			// a date more than a day behind most likely means next year
			if now.Sub(t) > 24*time.Hour {
				t = t.AddDate(1, 0, 0)
			}
		} else {
			t = t.AddDate(0, 0, 1)
		}
	}
	return t, true
}

func parseWeekday(s string) int {
	s = strings.ToLower(s)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.HasPrefix(strings.ToLower(d.String()), s) {
			return int(d)
		}
	}
	return -1
}

func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(s)
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if s == name || s == name[:3] || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return m, true
		}
	}
	return 0, false
}

func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}
