package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"audience-sync/internal/audience"
	"audience-sync/internal/cache"
	"audience-sync/internal/insights"
	"audience-sync/internal/meta"
	"audience-sync/internal/phone"
)

// SyncRequest names the audience and carries raw phone numbers.
type SyncRequest struct {
	Name        string
	Description string
	Phones      []string
}

// SyncData is attached to sync results, including failed uploads.
type SyncData struct {
	Audience    *audience.Audience    `json:"audience,omitempty"`
	Identifiers int                   `json:"identifiers"`
	Skipped     int                   `json:"skipped"`
	Upload      audience.UploadResult `json:"upload"`
}

// LookalikeRequest selects the source audience and the lookalike parameters. Zero fields take defaults.
type LookalikeRequest struct {
	SourceName string
	Name       string
	Country    string
	Ratio      float64
}

// LookalikeData is attached to successful lookalike results.
type LookalikeData struct {
	Source    audience.Audience `json:"source"`
	Lookalike audience.Audience `json:"lookalike"`
}

// ScheduledData is attached to the chained run.
type ScheduledData struct {
	Sync      Result  `json:"sync"`
	Lookalike *Result `json:"lookalike,omitempty"`
}

// Sync hashes req.Phones, resolves the audience and uploads the hashes.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) Result {
	return o.run(ctx, FlowSync, func(ctx context.Context, logger *slog.Logger) Result {
		name := firstNonEmpty(req.Name, o.cfg.AudienceName)
		desc := firstNonEmpty(req.Description, o.cfg.AudienceDescription)

		raws := make([]string, 0, len(req.Phones))
		for _, raw := range req.Phones {
			if phone.Normalize(raw) != "" {
				raws = append(raws, raw)
			}
		}
		data := SyncData{Identifiers: len(raws), Skipped: len(req.Phones) - len(raws)}
		if len(raws) == 0 {
			err := &audience.ValidationError{Field: "phones", Reason: "no usable phone numbers"}
			return fail(err, err.Error(), data)
		}

		hashes, err := phone.HashAll(ctx, raws, o.cfg.HashWorkers)
		if err != nil {
			return fail(err, fmt.Sprintf("hash identifiers: %v", err), data)
		}
		logger.Info("identifiers hashed", "count", len(hashes), "skipped", data.Skipped)

		aud, err := o.deps.Resolver.ResolveOrCreate(ctx, name, desc)
		if err != nil {
			return fail(err, fmt.Sprintf("resolve audience %q: %v", name, err), data)
		}
		data.Audience = &aud

		upload, err := o.deps.Uploader.Upload(ctx, aud.ID, hashes)
		data.Upload = upload
		if err != nil {
			var batchErr *audience.BatchError
			if errors.As(err, &batchErr) {
				return fail(err, fmt.Sprintf("upload to audience %s stopped at batch %d of %d; %d identifiers already received: %v",
					aud.ID, batchErr.Index+1, batchErr.Batches, upload.TotalReceived, batchErr.Err), data)
			}
			return fail(err, fmt.Sprintf("upload to audience %s: %v", aud.ID, err), data)
		}

		return ok(fmt.Sprintf("synced %d identifiers to audience %s in %d batches (%d received, %d invalid)",
			len(hashes), aud.ID, upload.Batches, upload.TotalReceived, upload.TotalInvalid), data)
	})
}

// Lookalike derives a lookalike from a source audience found by name. The source is never created here.
func (o *Orchestrator) Lookalike(ctx context.Context, req LookalikeRequest) Result {
	return o.run(ctx, FlowLookalike, func(ctx context.Context, logger *slog.Logger) Result {
		source := firstNonEmpty(req.SourceName, o.cfg.AudienceName)
		name := firstNonEmpty(req.Name, o.cfg.LookalikeName)
		country := firstNonEmpty(req.Country, o.cfg.LookalikeCountry)
		ratio := req.Ratio
		if ratio == 0 {
			ratio = o.cfg.LookalikeRatio
		}
		if err := audience.ValidateRatio(ratio); err != nil {
			return fail(err, err.Error(), nil)
		}

		src, found, err := o.deps.Resolver.Lookup(ctx, source)
		if err != nil {
			return fail(err, fmt.Sprintf("look up source audience %q: %v", source, err), nil)
		}
		if !found {
			err := fmt.Errorf("source audience %q not found", source)
			return fail(err, err.Error(), nil)
		}
		logger.Info("source audience resolved", "audience_id", src.ID, "from_cache", src.FromCache)

		lal, err := o.deps.Deriver.Derive(ctx, audience.LookalikeRequest{
			SourceAudienceID: src.ID,
			Name:             name,
			Country:          country,
			Ratio:            ratio,
		})
		if err != nil {
			return fail(err, fmt.Sprintf("derive lookalike %q: %v", name, err), nil)
		}

		verb := "created"
		if lal.FromCache {
			verb = "reused"
		}
		return ok(fmt.Sprintf("lookalike %s %s from audience %s", lal.ID, verb, src.ID), LookalikeData{Source: src, Lookalike: lal})
	})
}

// CollectMetrics gathers insights for active campaigns and persists the snapshot. Empty runs leave the
// previous snapshot untouched.
func (o *Orchestrator) CollectMetrics(ctx context.Context) Result {
	return o.run(ctx, FlowMetrics, func(ctx context.Context, logger *slog.Logger) Result {
		campaigns, err := o.deps.Remote.ListCampaigns(ctx)
		if err != nil {
			return fail(err, fmt.Sprintf("list campaigns: %v", err), nil)
		}
		active := make([]meta.Campaign, 0, len(campaigns))
		ids := make([]string, 0, len(campaigns))
		for _, c := range campaigns {
			if c.Active() {
				active = append(active, c)
				ids = append(ids, c.ID)
			}
		}
		logger.Info("campaigns listed", "total", len(campaigns), "active", len(active))
		if len(active) == 0 {
			return ok("no active campaigns; snapshot left unchanged", nil)
		}

		res, err := o.deps.Collector.Collect(ctx, insights.Query{
			Level:       o.cfg.InsightsLevel,
			CampaignIDs: ids,
			Fields:      o.cfg.InsightsFields,
			DatePreset:  o.cfg.InsightsDatePreset,
		})
		if err != nil {
			return fail(err, fmt.Sprintf("collect insights: %v", err), nil)
		}
		if len(res.Records) == 0 {
			return ok("no insight records returned; snapshot left unchanged", nil)
		}

		snap := insights.Snapshot{
			Timestamp: o.now().UTC(),
			Records:   res.Records,
			Summary:   insights.Summarize(res.Records),
			Truncated: res.Truncated,
		}
		stored := o.deps.Cache.PutJSON(ctx, cache.KeyLastMetrics, snap, o.cfg.MetricsTTL)
		o.deps.Cache.PutJSON(ctx, cache.KeyActiveCampaigns, active, o.cfg.MetricsTTL)

		var msg strings.Builder
		fmt.Fprintf(&msg, "collected %d records for %d active campaigns", len(res.Records), len(active))
		if res.Truncated {
			fmt.Fprintf(&msg, " (truncated after %d pages: %v)", res.Pages, res.TruncationErr)
		}
		if !stored {
			msg.WriteString("; snapshot could not be persisted")
		}
		return ok(msg.String(), snap)
	})
}

// RunScheduled chains Sync and, only when it succeeded, Lookalike from the synced audience.
func (o *Orchestrator) RunScheduled(ctx context.Context, phones []string) Result {
	syncRes := o.Sync(ctx, SyncRequest{Phones: phones})
	if !syncRes.Success {
		return fail(syncRes.Err, "sync failed, lookalike skipped: "+syncRes.Message, ScheduledData{Sync: syncRes})
	}

	req := LookalikeRequest{}
	if data, isSync := syncRes.Data.(SyncData); isSync && data.Audience != nil {
		req.SourceName = data.Audience.Name
	}
	lalRes := o.Lookalike(ctx, req)
	data := ScheduledData{Sync: syncRes, Lookalike: &lalRes}
	if !lalRes.Success {
		return fail(lalRes.Err, "sync succeeded, lookalike failed: "+lalRes.Message, data)
	}
	return ok("sync and lookalike completed", data)
}

// LatestSnapshot reads the persisted metrics snapshot.
func (o *Orchestrator) LatestSnapshot(ctx context.Context) (insights.Snapshot, bool) {
	var snap insights.Snapshot
	if !o.deps.Cache.GetJSON(ctx, cache.KeyLastMetrics, &snap) {
		return insights.Snapshot{}, false
	}
	return snap, true
}

// Campaigns lists every campaign in the account.
func (o *Orchestrator) Campaigns(ctx context.Context) Result {
	campaigns, err := o.deps.Remote.ListCampaigns(ctx)
	if err != nil {
		return fail(err, fmt.Sprintf("list campaigns: %v", err), nil)
	}
	return ok(fmt.Sprintf("%d campaigns", len(campaigns)), campaigns)
}

// Audiences lists every custom audience in the account.
func (o *Orchestrator) Audiences(ctx context.Context) Result {
	audiences, err := o.deps.Remote.ListCustomAudiences(ctx)
	if err != nil {
		return fail(err, fmt.Sprintf("list audiences: %v", err), nil)
	}
	return ok(fmt.Sprintf("%d audiences", len(audiences)), audiences)
}

// Insights runs an ad-hoc insights query without persisting anything.
func (o *Orchestrator) Insights(ctx context.Context, q insights.Query) Result {
	if len(q.Fields) == 0 {
		q.Fields = o.cfg.InsightsFields
	}
	if q.Level == "" {
		q.Level = o.cfg.InsightsLevel
	}
	if q.DatePreset == "" && q.Since == "" && q.Until == "" {
		q.DatePreset = o.cfg.InsightsDatePreset
	}
	res, err := o.deps.Collector.Collect(ctx, q)
	if err != nil {
		return fail(err, err.Error(), nil)
	}
	msg := fmt.Sprintf("%d records over %d pages", len(res.Records), res.Pages)
	if res.Truncated {
		msg += fmt.Sprintf(" (truncated: %v)", res.TruncationErr)
	}
	return ok(msg, res)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
