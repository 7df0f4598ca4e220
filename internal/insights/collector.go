package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"audience-sync/internal/meta"
)

// API is the slice of the Ads API the Collector needs.
type API interface {
	Insights(ctx context.Context, query url.Values) (*meta.InsightsPage, error)
	InsightsNext(ctx context.Context, next string) (*meta.InsightsPage, error)
}

// Result is the outcome of one collection. Truncated is set when a later page failed;
// Records then holds everything fetched before it.
type Result struct {
	Records       []Record `json:"records"`
	Pages         int      `json:"pages"`
	Truncated     bool     `json:"truncated"`
	TruncationErr error    `json:"-"`
}

// Collector walks the insights edge page by page.
type Collector struct {
	api    API
	logger *slog.Logger
}

// NewCollector builds a Collector.
func NewCollector(api API, logger *slog.Logger) *Collector {
	return &Collector{api: api, logger: logger.With("component", "insights_collector")}
}

// Collect fetches every page for q. Only a failure of the first page is returned as an error.
func (c *Collector) Collect(ctx context.Context, q Query) (Result, error) {
	values, err := q.Values()
	if err != nil {
		return Result{}, err
	}

	page, err := c.api.Insights(ctx, values)
	if err != nil {
		return Result{}, fmt.Errorf("fetch insights: %w", err)
	}

	var res Result
	for {
		res.Pages++
		res.Records = append(res.Records, c.decode(page)...)

		next := page.NextURL()
		if next == "" {
			break
		}
		page, err = c.api.InsightsNext(ctx, next)
		if err != nil {
			res.Truncated = true
			res.TruncationErr = err
			c.logger.Warn("insights pagination stopped early", "pages", res.Pages, "records", len(res.Records), "error", err)
			break
		}
	}

	c.logger.Info("insights collected", "level", values.Get("level"), "pages", res.Pages, "records", len(res.Records), "truncated", res.Truncated)
	return res, nil
}

func (c *Collector) decode(page *meta.InsightsPage) []Record {
	out := make([]Record, 0, len(page.Data))
	for i, raw := range page.Data {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.logger.Warn("skipping undecodable insights row", "row", i, "error", err)
			continue
		}
		if rec.actionsErr != nil {
			c.logger.Warn("insights row has malformed actions, counting no conversions", "row", i, "entity_id", rec.EntityID, "error", rec.actionsErr)
		}
		out = append(out, rec)
	}
	return out
}
