package insights

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ErrInvalidQuery wraps every Query validation failure.
var ErrInvalidQuery = errors.New("invalid insights query")

const (
	LevelCampaign = "campaign"
	LevelAdSet    = "adset"
	LevelAd       = "ad"

	DefaultDatePreset = "last_7d"
	dateLayout        = "2006-01-02"
)

// DefaultFields are requested when a Query names none.
var DefaultFields = []string{"spend", "impressions", "clicks", "ctr", "cpc", "cpm", "actions"}

// Query selects insights rows.
type Query struct {
	Level       string
	ObjectIDs   []string
	CampaignIDs []string
	Fields      []string
	DatePreset  string
	Since       string
	Until       string
	Statuses    []string
}

type filter struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    []string `json:"value"`
}

// NormalizeLevel maps user spellings of a reporting level to the API value.
func NormalizeLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "campaign", "campaigns":
		return LevelCampaign, nil
	case "adset", "ad-set", "ad_set", "adsets":
		return LevelAdSet, nil
	case "ad", "ads":
		return LevelAd, nil
	default:
		return "", fmt.Errorf("%w: unknown level %q", ErrInvalidQuery, level)
	}
}

// Values renders the query as Graph API parameters.
func (q Query) Values() (url.Values, error) {
	level, err := NormalizeLevel(q.Level)
	if err != nil {
		return nil, err
	}

	fields := q.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	fields = withEntityFields(fields, level)

	values := url.Values{}
	values.Set("level", level)
	values.Set("fields", strings.Join(fields, ","))

	switch {
	case q.Since != "" || q.Until != "":
		since, err := time.Parse(dateLayout, q.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: since %q is not YYYY-MM-DD", ErrInvalidQuery, q.Since)
		}
		until, err := time.Parse(dateLayout, q.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: until %q is not YYYY-MM-DD", ErrInvalidQuery, q.Until)
		}
		if until.Before(since) {
			return nil, fmt.Errorf("%w: until is before since", ErrInvalidQuery)
		}
		tr, _ := json.Marshal(map[string]string{"since": q.Since, "until": q.Until})
		values.Set("time_range", string(tr))
	case q.DatePreset != "":
		values.Set("date_preset", q.DatePreset)
	default:
		values.Set("date_preset", DefaultDatePreset)
	}

	var filters []filter
	if ids := compact(q.ObjectIDs); len(ids) > 0 {
		filters = append(filters, filter{Field: level + ".id", Operator: "IN", Value: ids})
	}
	if ids := compact(q.CampaignIDs); len(ids) > 0 {
		filters = append(filters, filter{Field: "campaign.id", Operator: "IN", Value: ids})
	}
	if statuses := compact(q.Statuses); len(statuses) > 0 {
		for i := range statuses {
			statuses[i] = strings.ToUpper(statuses[i])
		}
		filters = append(filters, filter{Field: level + ".effective_status", Operator: "IN", Value: statuses})
	}
	if len(filters) > 0 {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("encode filtering: %w", err)
		}
		values.Set("filtering", string(encoded))
	}
	return values, nil
}

// withEntityFields makes sure rows carry the id and name of the entity they describe.
func withEntityFields(fields []string, level string) []string {
	out := make([]string, 0, len(fields)+2)
	for _, f := range []string{level + "_id", level + "_name"} {
		if !slices.Contains(fields, f) {
			out = append(out, f)
		}
	}
	return append(out, fields...)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
