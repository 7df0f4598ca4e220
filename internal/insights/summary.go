package insights

import "time"

// ConversionActions are the action types counted as conversions.
var ConversionActions = map[string]struct{}{
	"purchase":              {},
	"lead":                  {},
	"complete_registration": {},
}

// Summary aggregates a set of records. Averages are 0 when their denominator is 0.
type Summary struct {
	TotalSpend       float64 `json:"total_spend"`
	TotalImpressions int64   `json:"total_impressions"`
	TotalClicks      int64   `json:"total_clicks"`
	TotalConversions int64   `json:"total_conversions"`
	AvgCTR           float64 `json:"avg_ctr"`
	AvgCPC           float64 `json:"avg_cpc"`
	AvgCPM           float64 `json:"avg_cpm"`
	AvgCPA           float64 `json:"avg_cpa"`
}

// Snapshot is the persisted outcome of one metrics run.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Records   []Record  `json:"records"`
	Summary   Summary   `json:"summary"`
	Truncated bool      `json:"truncated"`
}

// Summarize totals spend, impressions, clicks and conversions across records.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.TotalSpend += r.Float("spend")
		s.TotalImpressions += r.Int("impressions")
		s.TotalClicks += r.Int("clicks")
		s.TotalConversions += conversions(r.Actions)
	}

	if s.TotalImpressions > 0 {
		s.AvgCTR = float64(s.TotalClicks) / float64(s.TotalImpressions) * 100
		s.AvgCPM = s.TotalSpend / float64(s.TotalImpressions) * 1000
	}
	if s.TotalClicks > 0 {
		s.AvgCPC = s.TotalSpend / float64(s.TotalClicks)
	}
	if s.TotalConversions > 0 {
		s.AvgCPA = s.TotalSpend / float64(s.TotalConversions)
	}
	return s
}

// conversions reads the first conversion-type action of a row.
func conversions(actions []Action) int64 {
	for _, a := range actions {
		if _, ok := ConversionActions[a.Type]; ok {
			return parseInt(a.Value)
		}
	}
	return 0
}
