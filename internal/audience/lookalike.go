package audience

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"audience-sync/internal/cache"
	"audience-sync/internal/meta"
)

// Lookalike ratio bounds accepted by the Ads API.
const (
	MinRatio = 0.01
	MaxRatio = 0.20
)

// ValidateRatio rejects ratios outside [MinRatio, MaxRatio].
func ValidateRatio(ratio float64) error {
	if !(ratio >= MinRatio && ratio <= MaxRatio) {
		return invalid("ratio", fmt.Sprintf("%g is outside [%g, %g]", ratio, MinRatio, MaxRatio))
	}
	return nil
}

// Deriver creates lookalike audiences from a source audience.
//
// Unlike Resolver it does not search the remote listing by name: a cache miss always creates.
type Deriver struct {
	api    LookalikeAPI
	cache  *cache.Resources
	logger *slog.Logger
}

// NewDeriver builds a Deriver.
func NewDeriver(api LookalikeAPI, resources *cache.Resources, logger *slog.Logger) *Deriver {
	return &Deriver{
		api:    api,
		cache:  resources,
		logger: logger.With("component", "lookalike_deriver"),
	}
}

// LookalikeRequest describes one derived audience.
type LookalikeRequest struct {
	SourceAudienceID string
	Name             string
	Country          string
	Ratio            float64
}

// Derive returns the lookalike for req, creating it on a cache miss.
func (d *Deriver) Derive(ctx context.Context, req LookalikeRequest) (Audience, error) {
	if err := ValidateRatio(req.Ratio); err != nil {
		return Audience{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Audience{}, invalid("name", "lookalike name is empty")
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if len(country) != 2 {
		return Audience{}, invalid("country", fmt.Sprintf("%q is not a two-letter country code", req.Country))
	}
	if strings.TrimSpace(req.SourceAudienceID) == "" {
		return Audience{}, invalid("source_audience_id", "source audience id is empty")
	}

	key := cache.LookalikeKey(name, country, req.Ratio)
	if id, ok := d.cache.Get(ctx, key); ok && id != "" {
		return Audience{
			ID:               id,
			Name:             name,
			Subtype:          SubtypeLookalike,
			SourceAudienceID: req.SourceAudienceID,
			CreatedVia:       OriginResolved,
			FromCache:        true,
		}, nil
	}

	id, err := d.api.CreateLookalike(ctx, name, req.SourceAudienceID, meta.LookalikeSpec{Country: country, Ratio: req.Ratio})
	if err != nil {
		return Audience{}, fmt.Errorf("create lookalike %q: %w", name, err)
	}
	if !d.cache.Put(ctx, key, id, 0) {
		d.logger.Warn("lookalike id not cached", "key", key, "audience_id", id)
	}
	d.logger.Info("lookalike audience created", "name", name, "country", country, "ratio", req.Ratio,
		"source_audience_id", req.SourceAudienceID, "audience_id", id)

	return Audience{
		ID:               id,
		Name:             name,
		Subtype:          SubtypeLookalike,
		SourceAudienceID: req.SourceAudienceID,
		CreatedVia:       OriginCreated,
	}, nil
}
