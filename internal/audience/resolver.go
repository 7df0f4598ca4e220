package audience

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"audience-sync/internal/cache"
	"audience-sync/internal/meta"
)

// Resolver maps an audience name to a single remote Custom Audience.
// It never retries: a blind retry of the create call could duplicate the audience.
type Resolver struct {
	api    AudienceAPI
	cache  *cache.Resources
	logger *slog.Logger
}

// NewResolver builds a Resolver.
func NewResolver(api AudienceAPI, resources *cache.Resources, logger *slog.Logger) *Resolver {
	return &Resolver{
		api:    api,
		cache:  resources,
		logger: logger.With("component", "audience_resolver"),
	}
}

// ResolveOrCreate returns the audience called name, creating it when neither the cache nor the
// remote listing knows it.
func (r *Resolver) ResolveOrCreate(ctx context.Context, name, description string) (Audience, error) {
	aud, found, err := r.Lookup(ctx, name)
	if err != nil || found {
		return aud, err
	}

	id, err := r.api.CreateCustomAudience(ctx, meta.CreateAudienceRequest{Name: name, Description: description})
	if err != nil {
		return Audience{}, fmt.Errorf("create custom audience %q: %w", name, err)
	}
	r.remember(ctx, name, id)
	r.logger.Info("custom audience created", "name", name, "audience_id", id)

	return Audience{ID: id, Name: name, Subtype: SubtypeCustom, CreatedVia: OriginCreated}, nil
}

// Lookup resolves name through the cache and then the remote listing without creating anything.
func (r *Resolver) Lookup(ctx context.Context, name string) (Audience, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Audience{}, false, invalid("name", "audience name is empty")
	}

	if id, ok := r.cache.Get(ctx, cache.AudienceKey(name)); ok && id != "" {
		return Audience{ID: id, Name: name, Subtype: SubtypeCustom, CreatedVia: OriginResolved, FromCache: true}, true, nil
	}

	existing, err := r.api.ListCustomAudiences(ctx)
	if err != nil {
		return Audience{}, false, fmt.Errorf("list custom audiences: %w", err)
	}
	match, matches := firstNameMatch(existing, name)
	if matches == 0 {
		return Audience{}, false, nil
	}
	if matches > 1 {
		r.logger.Warn("several audiences match name case-insensitively, using first", "name", name, "matches", matches, "audience_id", match.ID)
	}
	r.remember(ctx, name, match.ID)

	return Audience{ID: match.ID, Name: match.Name, Subtype: SubtypeCustom, CreatedVia: OriginResolved}, true, nil
}

func (r *Resolver) remember(ctx context.Context, name, id string) {
	if !r.cache.Put(ctx, cache.AudienceKey(name), id, 0) {
		r.logger.Warn("audience id not cached", "name", name, "audience_id", id)
	}
}

// firstNameMatch returns the first custom audience whose name equals name ignoring case, and the match count.
// Lookalikes are skipped: they cannot take uploads or serve as a lookalike source.
func firstNameMatch(audiences []meta.CustomAudience, name string) (meta.CustomAudience, int) {
	var first meta.CustomAudience
	count := 0
	for _, a := range audiences {
		if strings.EqualFold(a.Subtype, string(SubtypeLookalike)) {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(a.Name), name) {
			continue
		}
		if count == 0 {
			first = a
		}
		count++
	}
	return first, count
}
