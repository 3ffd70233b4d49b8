package reminders

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Strategy recognises one shape of time expression. It receives the
// normalised (trimmed, lower-cased) input and reports whether it matched.
type Strategy func(input string, now time.Time) (time.Time, bool)

// Resolver turns free-form time expressions into future timestamps by
// trying its strategies in order; the first match wins.
type Resolver struct {
	strategies []Strategy
}

// NewResolver creates a resolver with the given strategies. With no
// arguments it uses DefaultStrategies.
func NewResolver(strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{strategies: strategies}
}

// DefaultStrategies returns clock-with-meridiem, bare digits and the
// natural-language fallback, in that order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		ClockWithMeridiem,
		BareDigits,
		NaturalLanguage(),
	}
}

// Resolve parses input relative to now. The result is always strictly
// after now.
func (r *Resolver) Resolve(input string, now time.Time) (time.Time, error) {
	text := normalize(input)
	if text == "" {
		return time.Time{}, &ParseError{Input: input, Err: ErrEmptyInput}
	}

	for _, strategy := range r.strategies {
		t, ok := strategy(text, now)
		if !ok {
			continue
		}
		t = PinYear(t, now)
		if !t.After(now) {
			return time.Time{}, &PastTimeError{Input: input, At: t}
		}
		return t, nil
	}

	return time.Time{}, &ParseError{Input: input, Err: ErrUnrecognizedFormat}
}

// ---------- Strategies ----------

var (
	reMeridiem  = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm)$`)
	reSeparated = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})[:.](\d{2})$`)
	rePlain     = regexp.MustCompile(`^(?:at\s+)?(\d{3,4})$`)
)

// ClockWithMeridiem handles "7pm", "7 pm", "7:30pm", "at 9.15 am".
func ClockWithMeridiem(input string, now time.Time) (time.Time, bool) {
	m := reMeridiem.FindStringSubmatch(input)
	if m == nil {
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 12 || minute > 59 {
		return time.Time{}, false
	}

	if m[3] == "pm" && hour != 12 {
		hour += 12
	}
	if m[3] == "am" && hour == 12 {
		hour = 0
	}

	return rollForward(atClock(now, hour, minute), now), true
}

// BareDigits handles 24-hour clock times without meridiem: "18:39",
// "18.39", "1830" and "930" (zero-padded to 0930).
func BareDigits(input string, now time.Time) (time.Time, bool) {
	var hh, mm string
	if m := reSeparated.FindStringSubmatch(input); m != nil {
		hh, mm = m[1], m[2]
	} else if m := rePlain.FindStringSubmatch(input); m != nil {
		digits := strings.Repeat("0", 4-len(m[1])) + m[1]
		hh, mm = digits[:2], digits[2:]
	} else {
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(hh)
	minute, _ := strconv.Atoi(mm)
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	return rollForward(atClock(now, hour, minute), now), true
}

// NaturalLanguage returns the fallback strategy backed by olebedev/when
// ("tomorrow at 10am", "in 2 hours", "next friday 9:00").
//
// The parser's absolute dates are not trusted: a result landing in a
// different year than now is moved onto now's calendar date, keeping its
// clock, and rolled forward a day when that has already passed.
func NaturalLanguage() Strategy {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	return func(input string, now time.Time) (time.Time, bool) {
		res, err := w.Parse(input, now)
		if err != nil || res == nil {
			return time.Time{}, false
		}

		return correctYearDrift(res.Time.In(now.Location()), now), true
	}
}

// correctYearDrift moves t onto now's calendar date, keeping its clock,
// when the parser placed it in another year.
func correctYearDrift(t, now time.Time) time.Time {
	if t.Year() == now.Year() {
		return t
	}
	t = time.Date(now.Year(), now.Month(), now.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, now.Location())
	return rollForward(t, now)
}

// ---------- Helpers ----------

// PinYear moves t into now's year when that keeps it after now. A
// roll-forward across New Year's Eve is left alone.
func PinYear(t, now time.Time) time.Time {
	if t.Year() == now.Year() {
		return t
	}
	pinned := t.AddDate(now.Year()-t.Year(), 0, 0)
	if pinned.After(now) {
		return pinned
	}
	return t
}

// atClock builds a timestamp on now's calendar date with seconds zeroed.
func atClock(now time.Time, hour, minute int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
}

// rollForward advances t by one calendar day when it is not after now.
func rollForward(t, now time.Time) time.Time {
	if !t.After(now) {
		return t.AddDate(0, 0, 1)
	}
	return t
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
