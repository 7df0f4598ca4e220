package insights

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Action is one entry of the actions breakdown of an insights row.
type Action struct {
	Type  string `json:"action_type"`
	Value string `json:"value"`
}

// UnmarshalJSON accepts value as either a JSON string or number.
func (a *Action) UnmarshalJSON(data []byte) error {
	var tmp map[string]json.RawMessage
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	a.Type = readString(tmp["action_type"])
	a.Value = readString(tmp["value"])
	return nil
}

// Record is one flattened insights row. Known keys are typed; every other metric stays in Fields.
type Record struct {
	Level      string
	EntityID   string
	EntityName string
	DateStart  string
	DateStop   string
	Actions    []Action
	Fields     map[string]any

	// actionsErr is set when actions was present but undecodable; the row still counts.
	actionsErr error
}

var (
	idKeys   = []string{"ad_id", "adset_id", "campaign_id"}
	nameKeys = []string{"ad_name", "adset_name", "campaign_name"}
	levels   = []string{"ad", "adset", "campaign"}
)

// UnmarshalJSON flattens a Graph API insights row. It also reads back rows written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var tmp map[string]json.RawMessage
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	r.Fields = make(map[string]any, len(tmp))
	for key, val := range tmp {
		switch key {
		case "entity_id", "entity_name", "level", "date_start", "date_stop", "actions":
			continue
		}
		var anyVal any
		if err := json.Unmarshal(val, &anyVal); err == nil {
			r.Fields[key] = anyVal
		} else {
			r.Fields[key] = string(val)
		}
	}

	r.DateStart = readString(tmp["date_start"])
	r.DateStop = readString(tmp["date_stop"])
	r.Level = readString(tmp["level"])
	r.EntityID = readString(tmp["entity_id"])
	r.EntityName = readString(tmp["entity_name"])

	// the most specific id present identifies the row
	for i, key := range idKeys {
		id := readString(tmp[key])
		if id == "" {
			continue
		}
		if r.EntityID == "" {
			r.EntityID = id
		}
		if r.Level == "" {
			r.Level = levels[i]
		}
		if r.EntityName == "" {
			r.EntityName = readString(tmp[nameKeys[i]])
		}
		break
	}

	r.Actions = nil
	r.actionsErr = nil
	if raw, ok := tmp["actions"]; ok && len(raw) > 0 && string(raw) != "null" {
		var actions []Action
		if err := json.Unmarshal(raw, &actions); err != nil {
			r.actionsErr = err
		} else {
			r.Actions = actions
		}
	}
	return nil
}

// MarshalJSON emits the flat shape: Fields plus the typed keys.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+6)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["level"] = r.Level
	out["entity_id"] = r.EntityID
	out["entity_name"] = r.EntityName
	out["date_start"] = r.DateStart
	out["date_stop"] = r.DateStop
	if r.Actions != nil {
		out["actions"] = r.Actions
	}
	return json.Marshal(out)
}

// Float parses a metric as float64. Missing or unparsable values are 0.
func (r Record) Float(key string) float64 {
	switch v := r.Fields[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Int parses a metric as an integer. Missing or unparsable values are 0.
func (r Record) Int(key string) int64 {
	switch v := r.Fields[key].(type) {
	case float64:
		return int64(v)
	case string:
		return parseInt(v)
	default:
		return 0
	}
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func readString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
