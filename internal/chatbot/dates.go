package chatbot

import (
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// dateRule maps relative-date phrases to a resolved (start, end) pair. Rules
// are evaluated in declaration order; the first phrase found in the query
// wins.
type dateRule struct {
	phrases []string
	resolve func(today time.Time) (string, string)
}

var dateRules = []dateRule{
	{
		phrases: []string{"last 30 days", "past 30 days", "past month", "last month"},
		resolve: func(today time.Time) (string, string) {
			return today.AddDate(0, 0, -30).Format(isoDate), today.Format(isoDate)
		},
	},
	{
		phrases: []string{"last week", "past week"},
		resolve: func(today time.Time) (string, string) {
			return today.AddDate(0, 0, -7).Format(isoDate), today.Format(isoDate)
		},
	},
	{
		phrases: []string{"last 7 days", "past 7 days"},
		resolve: func(today time.Time) (string, string) {
			return today.AddDate(0, 0, -7).Format(isoDate), today.Format(isoDate)
		},
	},
	{
		phrases: []string{"this week"},
		resolve: func(today time.Time) (string, string) {
			// Monday-anchored week start.
			offset := (int(today.Weekday()) + 6) % 7
			return today.AddDate(0, 0, -offset).Format(isoDate), today.Format(isoDate)
		},
	},
	{
		phrases: []string{"this month"},
		resolve: func(today time.Time) (string, string) {
			first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
			return first.Format(isoDate), today.Format(isoDate)
		},
	},
	{
		phrases: []string{"today"},
		resolve: func(today time.Time) (string, string) {
			d := today.Format(isoDate)
			return d, d
		},
	},
	{
		phrases: []string{"yesterday"},
		resolve: func(today time.Time) (string, string) {
			d := today.AddDate(0, 0, -1).Format(isoDate)
			return d, d
		},
	},
	{
		phrases: []string{"recent"},
		resolve: func(today time.Time) (string, string) {
			return today.AddDate(0, 0, -14).Format(isoDate), today.Format(isoDate)
		},
	},
}

// resolveDateRange extracts a relative date range from the query text. It is
// a pure function of (query, today); no match yields two empty strings.
func resolveDateRange(query string, today time.Time) (string, string) {
	q := strings.ToLower(query)
	for _, rule := range dateRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(q, phrase) {
				return rule.resolve(today)
			}
		}
	}
	return "", ""
}
