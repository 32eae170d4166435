// Package calendar enumerates valid trading sessions for an exchange. It is
// the leaf dependency for all time stepping in the backtest driver and for
// live scheduling.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"quantbt/internal/domain"
)

// ErrInvalidRange is returned when a requested session range has start after
// end.
var ErrInvalidRange = errors.New("calendar: start date after end date")

// Calendar answers session-validity questions for one exchange. A Calendar
// is immutable after construction and safe for concurrent use across
// parallel backtest runs.
type Calendar struct {
	exchange domain.Exchange
	holidays map[string]struct{} // keyed by "2006-01-02"
}

// New creates a Calendar for the given exchange. The built-in holiday table
// covers the exchange's scheduled closures; extra non-trading days (ad hoc
// closures, or sessions fetched from an upstream calendar source) can be
// supplied on top.
func New(exchange domain.Exchange, extraHolidays ...time.Time) *Calendar {
	c := &Calendar{
		exchange: exchange,
		holidays: make(map[string]struct{}),
	}
	for _, d := range builtinHolidays[exchange] {
		c.holidays[d] = struct{}{}
	}
	for _, d := range extraHolidays {
		c.holidays[d.Format("2006-01-02")] = struct{}{}
	}
	return c
}

// Exchange returns the exchange this calendar describes.
func (c *Calendar) Exchange() domain.Exchange {
	return c.exchange
}

// IsSession reports whether t falls on a valid trading session (not a
// weekend, not a holiday). Only the date part of t is considered.
func (c *Calendar) IsSession(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format("2006-01-02")]
	return !holiday
}

// NextSession returns the first valid session at or after t.
func (c *Calendar) NextSession(t time.Time) time.Time {
	d := midnightUTC(t)
	for !c.IsSession(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// SessionsBetween returns the ordered sessions in [start, end], inclusive.
// Each call produces a fresh slice, so callers may iterate and restart
// independently. It fails with ErrInvalidRange if start is after end.
func (c *Calendar) SessionsBetween(start, end time.Time) ([]time.Time, error) {
	s := midnightUTC(start)
	e := midnightUTC(end)
	if s.After(e) {
		return nil, fmt.Errorf("%w: %s > %s",
			ErrInvalidRange, s.Format("2006-01-02"), e.Format("2006-01-02"))
	}

	var sessions []time.Time
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if c.IsSession(d) {
			sessions = append(sessions, d)
		}
	}
	return sessions, nil
}

// midnightUTC truncates t to its date at midnight UTC. Sessions are
// identified by date only.
func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// builtinHolidays lists scheduled full-day closures per exchange. Weekend
// sessions are excluded by rule and do not appear here. The table covers
// 2023 through 2025; runs outside this window should supply extra holidays
// from an upstream calendar source.
var builtinHolidays = map[domain.Exchange][]string{
	domain.ExchangeXNYS: {
		"2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29",
		"2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25",
		"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
		"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
		"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18",
		"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27",
		"2025-12-25",
	},
	domain.ExchangeXSHG: xshgHolidays,
	domain.ExchangeXSHE: xshgHolidays, // SZSE follows the same closure schedule
}

var xshgHolidays = []string{
	"2023-01-02", "2023-01-23", "2023-01-24", "2023-01-25", "2023-01-26",
	"2023-01-27", "2023-04-05", "2023-05-01", "2023-05-02", "2023-05-03",
	"2023-06-22", "2023-06-23", "2023-09-29", "2023-10-02", "2023-10-03",
	"2023-10-04", "2023-10-05", "2023-10-06",
	"2024-01-01", "2024-02-12", "2024-02-13", "2024-02-14", "2024-02-15",
	"2024-02-16", "2024-04-04", "2024-04-05", "2024-05-01", "2024-05-02",
	"2024-05-03", "2024-06-10", "2024-09-16", "2024-09-17", "2024-10-01",
	"2024-10-02", "2024-10-03", "2024-10-04", "2024-10-07",
	"2025-01-01", "2025-01-28", "2025-01-29", "2025-01-30", "2025-01-31",
	"2025-02-03", "2025-02-04", "2025-04-04", "2025-05-01", "2025-05-02",
	"2025-05-05", "2025-06-02", "2025-10-01", "2025-10-02", "2025-10-03",
	"2025-10-06", "2025-10-07", "2025-10-08",
}
