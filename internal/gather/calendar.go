package gather

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// FetchHolidays queries the Alpaca trading calendar for the given range and
// returns the weekdays the exchange was closed. The result feeds the session
// calendar's extra-holidays parameter, extending the builtin tables past the
// years they cover.
func FetchHolidays(apiKey, apiSecret, baseURL string, span DateRange) ([]time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: span.Start,
		End:   span.End,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	sessions := make(map[string]bool, len(days))
	for _, day := range days {
		sessions[day.Date] = true
	}
	return deriveHolidays(sessions, span), nil
}

// deriveHolidays returns every weekday in span that is not an exchange
// session, as midnight-UTC dates.
func deriveHolidays(sessions map[string]bool, span DateRange) []time.Time {
	var holidays []time.Time
	start := time.Date(span.Start.Year(), span.Start.Month(), span.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(span.End.Year(), span.End.Month(), span.End.Day(), 0, 0, 0, 0, time.UTC)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if !sessions[d.Format("2006-01-02")] {
			holidays = append(holidays, d)
		}
	}
	return holidays
}
