// Package schedule compiles schedule expressions into next-fire-time functions.
//
// Two grammars are accepted: "@every <duration>" with units s, m, h, d and w
// (for example "@every 10s" or "@every 1d12h"), and cron expressions with an
// optional leading seconds field, including descriptors such as "@hourly".
package schedule

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const everyPrefix = "@every"

var (
	cronParser = cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)

	durationPart = regexp.MustCompile(`(\d+)([smhdw])`)

	units = map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}
)

// Schedule computes the next fire time strictly after t.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Every fires at a fixed interval.
type Every struct {
	Interval time.Duration
}

// Next implements Schedule.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(e.Interval)
}

func (e Every) String() string {
	return everyPrefix + " " + e.Interval.String()
}

type cronSchedule struct {
	expr  string
	inner cron.Schedule
}

func (c cronSchedule) Next(t time.Time) time.Time {
	return c.inner.Next(t)
}

func (c cronSchedule) String() string {
	return c.expr
}

// Parse compiles a schedule expression.
func Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule expression")
	}

	if strings.HasPrefix(expr, everyPrefix) {
		d, err := ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, everyPrefix)))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", expr, err)
		}
		return Every{Interval: d}, nil
	}

	inner, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}

	// robfig returns the zero time for expressions that can never match
	if inner.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("cron %q never fires", expr)
	}

	return cronSchedule{expr: expr, inner: inner}, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseDuration parses "<int><unit>" sequences such as "1w2d" or "90s".
// A plain time.ParseDuration string is also accepted.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("missing duration")
	}

	var total time.Duration
	rest := s
	for _, m := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		unit := units[m[2]]
		if n > math.MaxInt64/int64(unit) || time.Duration(n)*unit > math.MaxInt64-total {
			return 0, fmt.Errorf("duration %q overflows", s)
		}
		total += time.Duration(n) * unit
		rest = strings.Replace(rest, m[0], "", 1)
	}

	if rest != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total = d
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return total, nil
}
