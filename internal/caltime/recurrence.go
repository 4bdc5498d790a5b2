package caltime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
)

// Rule is a parsed subset of an RFC-5545 RRULE: the handful of
// FREQ/INTERVAL/COUNT/UNTIL/BYDAY/BYMONTHDAY fields that appointment
// recurrences in this system actually use. There is no ecosystem
// library for this in the retrieval pack, so the subset is hand
// rolled. A FREQ outside DAILY/WEEKLY/MONTHLY/YEARLY (SECONDLY, ...)
// is rejected; other components outside the subset (WKST, BYSETPOS,
// ...) are ignored.
type Rule struct {
	Freq       string // DAILY, WEEKLY, MONTHLY, YEARLY
	Interval   int
	Count      int        // 0 means unbounded
	Until      *time.Time // nil means unbounded
	ByDay      []time.Weekday
	ByMonthDay []int
}

// ParseRRule parses an RFC-5545 RRULE string such as
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE,FR;COUNT=10".
func ParseRRule(s string) (*Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	if s == "" {
		return nil, fmt.Errorf("empty recurrence rule")
	}

	rule := &Rule{Interval: 1}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed recurrence rule component: %q", part)
		}
		key, value := strings.ToUpper(kv[0]), kv[1]

		switch key {
		case "FREQ":
			switch strings.ToUpper(value) {
			case "DAILY", "WEEKLY", "MONTHLY", "YEARLY":
				rule.Freq = strings.ToUpper(value)
			default:
				return nil, fmt.Errorf("unsupported recurrence frequency: %q", value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid recurrence interval: %q", value)
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid recurrence count: %q", value)
			}
			rule.Count = n
		case "UNTIL":
			until, err := parseUntil(value)
			if err != nil {
				return nil, err
			}
			rule.Until = &until
		case "BYDAY":
			for _, day := range strings.Split(value, ",") {
				wd, err := parseWeekday(day)
				if err != nil {
					return nil, err
				}
				rule.ByDay = append(rule.ByDay, wd)
			}
		case "BYMONTHDAY":
			for _, day := range strings.Split(value, ",") {
				n, err := strconv.Atoi(day)
				if err != nil {
					return nil, fmt.Errorf("invalid BYMONTHDAY value: %q", day)
				}
				rule.ByMonthDay = append(rule.ByMonthDay, n)
			}
		default:
			// Unrecognized components (WKST, BYSETPOS, ...) are ignored
			// rather than rejected, matching how most consumers treat
			// RRULE strings produced by calendar providers we don't
			// fully model.
		}
	}

	if rule.Freq == "" {
		return nil, fmt.Errorf("recurrence rule missing FREQ")
	}
	return rule, nil
}

func parseUntil(value string) (time.Time, error) {
	layouts := []string{"20060102T150405Z", "20060102T150405", "20060102"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid UNTIL value: %q", value)
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

func parseWeekday(code string) (time.Weekday, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) > 2 {
		code = code[len(code)-2:]
	}
	wd, ok := weekdayCodes[code]
	if !ok {
		return 0, fmt.Errorf("invalid BYDAY value: %q", code)
	}
	return wd, nil
}

// OccursOnDate reports whether a recurring appointment, whose
// recurrence is an RFC-5545 RRULE string, has an occurrence on
// targetDate. A non-recurring appointment occurs only on the UTC day
// of its start.
func OccursOnDate(appt *models.Appointment, targetDate time.Time) (bool, error) {
	if appt.Recurrence == "" {
		return StartOfDay(appt.StartTime).Equal(StartOfDay(targetDate)), nil
	}
	rule, err := ParseRRule(appt.Recurrence)
	if err != nil {
		return false, err
	}

	dtstart := ToUTC(appt.StartTime)
	rangeStart := StartOfDay(targetDate)
	rangeEnd := EndOfDay(targetDate)

	if dtstart.After(rangeEnd) {
		return false, nil
	}
	if rule.Until != nil && dtstart.After(*rule.Until) {
		return false, nil
	}

	occurrences := 0
	for occ := dtstart; ; {
		if rule.Until != nil && occ.After(*rule.Until) {
			return false, nil
		}
		if rule.Count > 0 {
			occurrences++
			if occurrences > rule.Count {
				return false, nil
			}
		}

		if matchesByParts(rule, occ) && !occ.Before(rangeStart) && !occ.After(rangeEnd) {
			return true, nil
		}
		if occ.After(rangeEnd) && !hasFinerGrain(rule) {
			return false, nil
		}

		next, ok := advance(rule, occ)
		if !ok {
			return false, nil
		}
		if next.After(rangeEnd) && !hasFinerGrain(rule) {
			return false, nil
		}
		occ = next

		if occ.Sub(dtstart) > 10*365*24*time.Hour {
			return false, nil // runaway guard; matches no reasonable calendar rule
		}
	}
}

// hasFinerGrain reports whether BYDAY/BYMONTHDAY filtering means
// successive occurrences within one FREQ step can still land inside
// the target window even after the base cadence date has passed it
// (e.g. a WEEKLY;BYDAY=MO,WE,FR rule advancing day by day).
func hasFinerGrain(rule *Rule) bool {
	return rule.Freq == "WEEKLY" && len(rule.ByDay) > 0
}

func matchesByParts(rule *Rule, occ time.Time) bool {
	if len(rule.ByDay) > 0 {
		found := false
		for _, wd := range rule.ByDay {
			if occ.Weekday() == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(rule.ByMonthDay) > 0 {
		found := false
		for _, day := range rule.ByMonthDay {
			if occ.Day() == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func advance(rule *Rule, occ time.Time) (time.Time, bool) {
	switch rule.Freq {
	case "DAILY":
		return occ.AddDate(0, 0, rule.Interval), true
	case "WEEKLY":
		if len(rule.ByDay) > 0 {
			return occ.AddDate(0, 0, 1), true
		}
		return occ.AddDate(0, 0, 7*rule.Interval), true
	case "MONTHLY":
		return occ.AddDate(0, rule.Interval, 0), true
	case "YEARLY":
		return occ.AddDate(rule.Interval, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// ExpandRecurringEventsRange expands every recurring appointment in
// appointments into one non-recurring instance per occurrence within
// [startDate, endDate] (inclusive), and passes non-recurring
// appointments through unchanged if their start falls in range.
func ExpandRecurringEventsRange(appointments []*models.Appointment, startDate, endDate time.Time) ([]*models.Appointment, error) {
	var expanded []*models.Appointment
	start := StartOfDay(startDate)
	end := StartOfDay(endDate)

	for _, appt := range appointments {
		if appt.Recurrence == "" {
			apptDay := StartOfDay(appt.StartTime)
			if !apptDay.Before(start) && !apptDay.After(end) {
				expanded = append(expanded, appt)
			}
			continue
		}

		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			occurs, err := OccursOnDate(appt, day)
			if err != nil {
				return nil, err
			}
			if occurs {
				expanded = append(expanded, CreateNonRecurringInstance(appt, day))
			}
		}
	}
	return expanded, nil
}

// CreateNonRecurringInstance materializes a single occurrence of a
// recurring appointment on targetDate, preserving its time-of-day and
// duration but clearing Recurrence and provider/surrogate identity.
func CreateNonRecurringInstance(appt *models.Appointment, targetDate time.Time) *models.Appointment {
	duration := appt.Duration()
	newStart := time.Date(
		targetDate.Year(), targetDate.Month(), targetDate.Day(),
		appt.StartTime.Hour(), appt.StartTime.Minute(), appt.StartTime.Second(), appt.StartTime.Nanosecond(),
		appt.StartTime.Location(),
	)

	instance := appt.Clone()
	instance.StartTime = newStart
	instance.EndTime = newStart.Add(duration)
	instance.Recurrence = ""
	return instance
}
