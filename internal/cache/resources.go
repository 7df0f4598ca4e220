package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"audience-sync/internal/metrics"
)

const (
	// KeyLastMetrics holds the most recent metrics snapshot.
	KeyLastMetrics = "last_metrics"
	// KeyActiveCampaigns holds the campaign IDs used for the last snapshot.
	KeyActiveCampaigns = "active_campaigns"
)

// AudienceKey namespaces a custom audience name.
func AudienceKey(name string) string {
	return "audience:" + name
}

// LookalikeKey is the composite key for a derived audience so each country/ratio pair is tracked separately.
func LookalikeKey(name, country string, ratio float64) string {
	return "lookalike:" + name + ":" + strings.ToUpper(country) + ":" + strconv.FormatFloat(ratio, 'f', -1, 64)
}

// Resources is the name-keyed resource cache. It never surfaces store errors:
// reads degrade to a miss and writes to a reported failure.
type Resources struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewResources wraps store. metrics may be nil.
func NewResources(store Store, logger *slog.Logger, m *metrics.Metrics) *Resources {
	return &Resources{
		store:   store,
		logger:  logger.With("component", "resource_cache"),
		metrics: m,
	}
}

// Get returns the cached value and whether it was present.
func (r *Resources) Get(ctx context.Context, key string) (string, bool) {
	if r == nil || r.store == nil {
		return "", false
	}
	val, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		r.observe("get", "hit")
		return val, true
	case errors.Is(err, ErrNotFound):
		r.observe("get", "miss")
		return "", false
	default:
		r.fail("get", key, err)
		return "", false
	}
}

// Put writes value under key and reports success.
func (r *Resources) Put(ctx context.Context, key, value string, ttl time.Duration) bool {
	if r == nil || r.store == nil {
		return false
	}
	if err := r.store.Put(ctx, key, value, ttl); err != nil {
		r.fail("put", key, err)
		return false
	}
	r.observe("put", "ok")
	return true
}

// Delete removes key and reports success.
func (r *Resources) Delete(ctx context.Context, key string) bool {
	if r == nil || r.store == nil {
		return false
	}
	if err := r.store.Delete(ctx, key); err != nil {
		r.fail("delete", key, err)
		return false
	}
	r.observe("delete", "ok")
	return true
}

// GetJSON decodes the value at key into dest. Undecodable values count as a miss.
func (r *Resources) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok := r.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		r.fail("decode", key, err)
		return false
	}
	return true
}

// PutJSON encodes value as JSON and stores it under key.
func (r *Resources) PutJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		r.fail("encode", key, err)
		return false
	}
	return r.Put(ctx, key, string(data), ttl)
}

func (r *Resources) observe(op, result string) {
	if r.metrics != nil {
		r.metrics.CacheOperations.WithLabelValues(op, result).Inc()
	}
}

func (r *Resources) fail(op, key string, err error) {
	r.logger.Warn("cache operation failed", "op", op, "key", key, "error", err)
	if r.metrics != nil {
		r.metrics.CacheOperations.WithLabelValues(op, "error").Inc()
		r.metrics.Errors.WithLabelValues("cache").Inc()
	}
}
