package insights

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"audience-sync/internal/logging"
	"audience-sync/internal/meta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagedAPI struct {
	pages   []*meta.InsightsPage
	failAt  int
	queries []url.Values
	nexts   []string
}

func (p *pagedAPI) Insights(_ context.Context, query url.Values) (*meta.InsightsPage, error) {
	p.queries = append(p.queries, query)
	if p.failAt == 1 {
		return nil, errors.New("boom")
	}
	return p.pages[0], nil
}

func (p *pagedAPI) InsightsNext(_ context.Context, next string) (*meta.InsightsPage, error) {
	p.nexts = append(p.nexts, next)
	idx := len(p.nexts)
	if p.failAt == idx+1 {
		return nil, errors.New("page failed")
	}
	return p.pages[idx], nil
}

func page(t *testing.T, next string, rows ...string) *meta.InsightsPage {
	t.Helper()
	p := &meta.InsightsPage{}
	for _, r := range rows {
		p.Data = append(p.Data, json.RawMessage(r))
	}
	if next != "" {
		p.Paging = &meta.Paging{Next: next}
	}
	return p
}

func TestCollectConcatenatesPages(t *testing.T) {
	api := &pagedAPI{pages: []*meta.InsightsPage{
		page(t, "https://graph.facebook.com/next1", `{"campaign_id":"1"}`, `{"campaign_id":"2"}`),
		page(t, "https://graph.facebook.com/next2", `{"campaign_id":"3"}`),
		page(t, "", `{"campaign_id":"4"}`),
	}}
	c := NewCollector(api, logging.Discard())

	res, err := c.Collect(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.False(t, res.Truncated)
	require.Len(t, res.Records, 4)
	for i, want := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, want, res.Records[i].EntityID)
	}
	assert.Equal(t, []string{"https://graph.facebook.com/next1", "https://graph.facebook.com/next2"}, api.nexts)
}

func TestCollectFirstPageFailureIsError(t *testing.T) {
	api := &pagedAPI{failAt: 1}
	_, err := NewCollector(api, logging.Discard()).Collect(context.Background(), Query{})
	require.Error(t, err)
}

func TestCollectLaterPageFailureTruncates(t *testing.T) {
	api := &pagedAPI{failAt: 2, pages: []*meta.InsightsPage{
		page(t, "https://graph.facebook.com/next1", `{"campaign_id":"1"}`),
	}}
	res, err := NewCollector(api, logging.Discard()).Collect(context.Background(), Query{})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Error(t, res.TruncationErr)
	assert.Len(t, res.Records, 1)
}

func TestCollectRejectsInvalidQueryWithoutCalling(t *testing.T) {
	api := &pagedAPI{}
	_, err := NewCollector(api, logging.Discard()).Collect(context.Background(), Query{Level: "account"})
	require.ErrorIs(t, err, ErrInvalidQuery)
	assert.Empty(t, api.queries)
}

func TestQueryValues(t *testing.T) {
	v, err := Query{
		Level:     "ad-set",
		ObjectIDs: []string{"11", " ", "12"},
		Fields:    []string{"spend"},
		Since:     "2024-01-01",
		Until:     "2024-01-31",
		Statuses:  []string{"active"},
	}.Values()
	require.NoError(t, err)

	assert.Equal(t, "adset", v.Get("level"))
	assert.Equal(t, "adset_id,adset_name,spend", v.Get("fields"))
	assert.Empty(t, v.Get("date_preset"))
	assert.JSONEq(t, `{"since":"2024-01-01","until":"2024-01-31"}`, v.Get("time_range"))
	assert.JSONEq(t, `[
		{"field":"adset.id","operator":"IN","value":["11","12"]},
		{"field":"adset.effective_status","operator":"IN","value":["ACTIVE"]}
	]`, v.Get("filtering"))
}

func TestQueryValuesDefaults(t *testing.T) {
	v, err := Query{}.Values()
	require.NoError(t, err)
	assert.Equal(t, "campaign", v.Get("level"))
	assert.Equal(t, DefaultDatePreset, v.Get("date_preset"))
	assert.Empty(t, v.Get("filtering"))
	assert.Contains(t, v.Get("fields"), "campaign_id")
}

func TestQueryValuesRejectsBadRange(t *testing.T) {
	_, err := Query{Since: "2024-02-01", Until: "2024-01-01"}.Values()
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = Query{Since: "01/02/2024", Until: "2024-01-01"}.Values()
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = Query{Since: "2024-01-01"}.Values()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestRecordFlattening(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{
		"campaign_id":"9","campaign_name":"Spring","adset_id":"5","adset_name":"Young",
		"spend":"12.50","impressions":"1000","clicks":40,
		"actions":[{"action_type":"lead","value":"3"},{"action_type":"purchase","value":2}],
		"date_start":"2024-01-01","date_stop":"2024-01-07"
	}`), &r))

	assert.Equal(t, "5", r.EntityID)
	assert.Equal(t, "Young", r.EntityName)
	assert.Equal(t, LevelAdSet, r.Level)
	assert.Equal(t, "2024-01-01", r.DateStart)
	assert.InDelta(t, 12.5, r.Float("spend"), 1e-9)
	assert.EqualValues(t, 1000, r.Int("impressions"))
	assert.EqualValues(t, 40, r.Int("clicks"))
	require.Len(t, r.Actions, 2)
	assert.Equal(t, "2", r.Actions[1].Value)

	encoded, err := json.Marshal(r)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(encoded, &back))
	assert.Equal(t, r.EntityID, back.EntityID)
	assert.Equal(t, r.Level, back.Level)
	assert.Equal(t, r.Actions, back.Actions)
	assert.InDelta(t, 12.5, back.Float("spend"), 1e-9)
}

func TestSummarize(t *testing.T) {
	records := []Record{
		{Fields: map[string]any{"spend": "20", "impressions": "150", "clicks": "6"},
			Actions: []Action{{Type: "link_click", Value: "6"}, {Type: "purchase", Value: "1"}}},
		{Fields: map[string]any{"spend": "10", "impressions": "50", "clicks": "4"}},
	}
	s := Summarize(records)

	assert.InDelta(t, 30, s.TotalSpend, 1e-9)
	assert.EqualValues(t, 200, s.TotalImpressions)
	assert.EqualValues(t, 10, s.TotalClicks)
	assert.EqualValues(t, 1, s.TotalConversions)
	assert.InDelta(t, 5, s.AvgCTR, 1e-9)
	assert.InDelta(t, 3, s.AvgCPC, 1e-9)
	assert.InDelta(t, 150, s.AvgCPM, 1e-9)
	assert.InDelta(t, 30, s.AvgCPA, 1e-9)
}

func TestSummarizeZeroDenominators(t *testing.T) {
	s := Summarize([]Record{{Fields: map[string]any{"spend": "oops", "impressions": "n/a"}}})
	assert.Zero(t, s.TotalSpend)
	assert.Zero(t, s.AvgCTR)
	assert.Zero(t, s.AvgCPC)
	assert.Zero(t, s.AvgCPM)
	assert.Zero(t, s.AvgCPA)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestSummarizeUsesFirstConversionOnly(t *testing.T) {
	s := Summarize([]Record{{Actions: []Action{
		{Type: "lead", Value: "4"},
		{Type: "purchase", Value: "9"},
	}}})
	assert.EqualValues(t, 4, s.TotalConversions)
}

func TestQueryValuesCampaignFilterAtAdLevel(t *testing.T) {
	v, err := Query{Level: "ad", CampaignIDs: []string{"7", "8"}}.Values()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"field":"campaign.id","operator":"IN","value":["7","8"]}]`, v.Get("filtering"))
}

func TestCollectKeepsRowWithMalformedActions(t *testing.T) {
	api := &pagedAPI{pages: []*meta.InsightsPage{
		page(t, "", `{"campaign_id":"1","spend":"10","impressions":"100","clicks":"5","actions":{"action_type":"purchase"}}`),
	}}
	res, err := NewCollector(api, logging.Discard()).Collect(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Nil(t, res.Records[0].Actions)

	s := Summarize(res.Records)
	assert.InDelta(t, 10, s.TotalSpend, 1e-9)
	assert.EqualValues(t, 100, s.TotalImpressions)
	assert.EqualValues(t, 5, s.TotalClicks)
	assert.Zero(t, s.TotalConversions)
	assert.Zero(t, s.AvgCPA)
}
