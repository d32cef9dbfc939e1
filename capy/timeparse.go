package capy

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // named zones must resolve on hosts without a zoneinfo db
)

var (
	eventDatePattern = regexp.MustCompile(`^(0?[1-9]|1[0-2])/(0?[1-9]|[12][0-9]|3[01])/(\d{2}|\d{4})$`)
	eventTimePattern = regexp.MustCompile(`^(0?[1-9]|1[0-2]):([0-5][0-9])\s*([AP]M)(?:\s+(\S+))?$`)

	errInvalidEventDate = errors.New("date must look like mm/dd/yy, ex: 10/23/26")
	errInvalidEventTime = errors.New("time must look like HH:MM AM/PM [timezone], ex: 07:00 PM EDT")
	errUnknownTimezone  = errors.New("unknown timezone")
	errEventInPast      = errors.New("event can't start in the past")

	// timezoneAbbreviations maps the abbreviations people actually type to
	// a zone. The zone decides whether DST applies on the event's date, so
	// "EST" in July is still daylight time.
	timezoneAbbreviations = map[string]string{
		"EDT": "America/New_York",
		"EST": "America/New_York",
		"ET":  "America/New_York",
		"CDT": "America/Chicago",
		"CST": "America/Chicago",
		"CT":  "America/Chicago",
		"MDT": "America/Denver",
		"MST": "America/Denver",
		"MT":  "America/Denver",
		"PDT": "America/Los_Angeles",
		"PST": "America/Los_Angeles",
		"PT":  "America/Los_Angeles",
		"UTC": "UTC",
		"GMT": "UTC",
	}
)

// eventDate is a calendar date, without a time or zone
type eventDate struct {
	Year  int
	Month time.Month
	Day   int
}

// eventClock is a wall clock time in a specific zone
type eventClock struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// parseEventDate parses "mm/dd/yy" (or "mm/dd/yyyy"). Two-digit years are
// in the 2000s.
func parseEventDate(s string) (eventDate, error) {
	m := eventDatePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return eventDate{}, errInvalidEventDate
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}

	// time.Date normalizes Feb 30 to Mar 2, which we'd rather reject
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != time.Month(month) {
		return eventDate{}, fmt.Errorf("%w: %s doesn't exist", errInvalidEventDate, s)
	}
	return eventDate{Year: year, Month: time.Month(month), Day: day}, nil
}

// parseEventTime parses "HH:MM AM/PM [timezone]". The timezone may be
// an abbreviation (EDT, PST, ...) or an IANA name (America/Chicago), and
// defaults to defaultTZ.
func parseEventTime(s string, defaultTZ string) (eventClock, error) {
	s = strings.TrimSpace(s)
	m := eventTimePattern.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return eventClock{}, errInvalidEventTime
	}
	zone := m[4]
	if zone != "" {
		// IANA names are case-sensitive, so take the zone as typed
		fields := strings.Fields(s)
		zone = fields[len(fields)-1]
	}
	return buildEventClock(m[1], m[2], m[3], zone, defaultTZ)
}

func buildEventClock(
	hourStr string,
	minuteStr string,
	meridiem string,
	zone string,
	defaultTZ string,
) (eventClock, error) {
	hour, _ := strconv.Atoi(hourStr)
	minute, _ := strconv.Atoi(minuteStr)
	hour %= 12
	if meridiem == "PM" {
		hour += 12
	}

	if zone == "" {
		zone = defaultTZ
	}
	loc, err := lookupTimezone(zone)
	if err != nil {
		return eventClock{}, err
	}
	return eventClock{Hour: hour, Minute: minute, Location: loc}, nil
}

// lookupTimezone resolves an abbreviation or IANA zone name
func lookupTimezone(name string) (*time.Location, error) {
	if iana, ok := timezoneAbbreviations[strings.ToUpper(name)]; ok {
		name = iana
	}
	// LoadLocation treats "" and "Local" as valid, neither of which is
	// useful for an event
	if name == "" || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: %q", errUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errUnknownTimezone, name)
	}
	return loc, nil
}

// eventStart combines a date and a clock time into an instant
func eventStart(d eventDate, c eventClock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, c.Location)
}
