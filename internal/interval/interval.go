// Package interval implements half-open time-of-day ranges in whole minutes.
package interval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cabinbook/internal/apperr"
)

// MinutesPerDay bounds every offset.
const MinutesPerDay = 24 * 60

var textPattern = regexp.MustCompile(`^\d{2}:\d{2}-\d{2}:\d{2}$`)

// Interval is [Start, End) in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Rules are the business-hour constraints an interval must satisfy.
type Rules struct {
	Open        int // minute of day
	Close       int // minute of day
	MinDuration int
	MaxDuration int
	Step        int // grid for alternative slots
}

// DefaultRules is 09:00-18:00, 15 to 480 minutes, 15-minute grid.
var DefaultRules = Rules{
	Open:        9 * 60,
	Close:       18 * 60,
	MinDuration: 15,
	MaxDuration: 480,
	Step:        15,
}

// Validate checks that the rules themselves are consistent.
func (r Rules) Validate() error {
	if r.Open < 0 || r.Close > MinutesPerDay || r.Open >= r.Close {
		return fmt.Errorf("invalid business hours %s-%s", FormatMinute(r.Open), FormatMinute(r.Close))
	}
	if r.MinDuration <= 0 || r.MaxDuration < r.MinDuration {
		return fmt.Errorf("invalid duration bounds %d-%d", r.MinDuration, r.MaxDuration)
	}
	if r.Step <= 0 {
		return fmt.Errorf("invalid grid step %d", r.Step)
	}
	return nil
}

// New builds an interval from minute offsets and checks it against the rules.
func (r Rules) New(start, end int) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := r.Check(iv); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Check applies the semantic rules to an already built interval.
func (r Rules) Check(iv Interval) error {
	if iv.Start < 0 || iv.End > MinutesPerDay {
		return apperr.Validation("interval %s is outside the day", iv)
	}
	if iv.End <= iv.Start {
		return apperr.Validation("interval %s ends before it starts", iv)
	}
	d := iv.Duration()
	if d < r.MinDuration || d > r.MaxDuration {
		return apperr.Validation("duration %d min is outside %d-%d min", d, r.MinDuration, r.MaxDuration)
	}
	if iv.Start < r.Open || iv.End > r.Close {
		return apperr.Validation("interval %s is outside business hours %s-%s",
			iv, FormatMinute(r.Open), FormatMinute(r.Close))
	}
	return nil
}

// Parse reads the canonical "HH:MM-HH:MM" form.
func (r Rules) Parse(text string) (Interval, error) {
	iv, err := ParseText(text)
	if err != nil {
		return Interval{}, err
	}
	if err := r.Check(iv); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Parse validates text against DefaultRules.
func Parse(text string) (Interval, error) {
	return DefaultRules.Parse(text)
}

// ParseText reads "HH:MM-HH:MM" without applying business rules. It is used
// for rows already accepted under earlier rules.
func ParseText(text string) (Interval, error) {
	text = strings.TrimSpace(text)
	if !textPattern.MatchString(text) {
		return Interval{}, apperr.Validation("invalid interval format %q, want HH:MM-HH:MM", text)
	}
	parts := strings.Split(text, "-")
	start, err := ParseMinute(parts[0])
	if err != nil {
		return Interval{}, err
	}
	end, err := ParseMinute(parts[1])
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: start, End: end}, nil
}

// ParseMinute reads "HH:MM" into a minute of day. "24:00" is accepted as end of day.
func ParseMinute(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, apperr.Validation("invalid time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, apperr.Validation("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, apperr.Validation("invalid minute in %q", s)
	}
	if minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, apperr.Validation("time %q out of range", s)
	}
	return hour*60 + minute, nil
}

// FormatMinute renders a minute of day as "HH:MM".
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Overlaps reports whether the two intervals share at least one minute.
// Touching intervals do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && iv.End > other.Start
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

// Duration in minutes.
func (iv Interval) Duration() int {
	return iv.End - iv.Start
}

// Shift moves the interval so it starts at start, keeping its duration.
func (iv Interval) Shift(start int) Interval {
	return Interval{Start: start, End: start + iv.Duration()}
}

func (iv Interval) String() string {
	return FormatMinute(iv.Start) + "-" + FormatMinute(iv.End)
}

// MarshalText encodes the canonical form.
func (iv Interval) MarshalText() ([]byte, error) {
	return []byte(iv.String()), nil
}

// UnmarshalText decodes the canonical form without business-hour checks.
func (iv *Interval) UnmarshalText(b []byte) error {
	parsed, err := ParseText(string(b))
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}
