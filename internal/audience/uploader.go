package audience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"audience-sync/internal/meta"
	"audience-sync/internal/metrics"

	"golang.org/x/time/rate"
)

// MaxBatchSize is the remote limit on identifiers per upload call.
const MaxBatchSize = 10000

// Pacer blocks between consecutive upload calls.
type Pacer interface {
	Wait(ctx context.Context) error
}

// PacerFactory returns a fresh Pacer for one upload run.
type PacerFactory func() Pacer

type noPacer struct{}

func (noPacer) Wait(ctx context.Context) error { return ctx.Err() }

// NoPacing never delays.
func NoPacing() Pacer { return noPacer{} }

// IntervalPacing spaces calls at least interval apart using a one-token bucket.
func IntervalPacing(interval time.Duration) PacerFactory {
	return func() Pacer {
		if interval <= 0 {
			return noPacer{}
		}
		lim := rate.NewLimiter(rate.Every(interval), 1)
		// the token is spent by the first call, which is never delayed
		lim.Allow()
		return lim
	}
}

// UploadResult aggregates per-batch counts for one upload.
type UploadResult struct {
	Batches       int `json:"batches"`
	TotalReceived int `json:"total_received"`
	TotalInvalid  int `json:"total_invalid"`
}

// BatchError reports a failed chunk. Chunks before Index were already sent and are not rolled back.
type BatchError struct {
	Index   int
	Batches int
	Partial UploadResult
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upload batch %d of %d failed after %d received: %v", e.Index+1, e.Batches, e.Partial.TotalReceived, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// UploaderConfig tunes batching.
type UploaderConfig struct {
	BatchSize  int
	MaxRetries int
	Pacing     PacerFactory
}

// Uploader sends hashed identifiers to an audience in sequential, paced chunks.
type Uploader struct {
	api        UsersAPI
	batchSize  int
	maxRetries int
	pacing     PacerFactory
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUploader builds an Uploader. metrics may be nil.
func NewUploader(api UsersAPI, cfg UploaderConfig, logger *slog.Logger, m *metrics.Metrics) *Uploader {
	size := cfg.BatchSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	pacing := cfg.Pacing
	if pacing == nil {
		pacing = IntervalPacing(time.Second)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Uploader{
		api:        api,
		batchSize:  size,
		maxRetries: retries,
		pacing:     pacing,
		logger:     logger.With("component", "audience_uploader"),
		metrics:    m,
	}
}

// Chunk splits hashes into consecutive slices of at most size elements.
func Chunk(hashes []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	chunks := make([][]string, 0, (len(hashes)+size-1)/size)
	for start := 0; start < len(hashes); start += size {
		end := min(start+size, len(hashes))
		chunks = append(chunks, hashes[start:end])
	}
	return chunks
}

// Upload sends every hash to audienceID. On failure the returned result holds the counts of the
// chunks that succeeded and the error is a *BatchError.
func (u *Uploader) Upload(ctx context.Context, audienceID string, hashes []string) (UploadResult, error) {
	if audienceID == "" {
		return UploadResult{}, invalid("audience_id", "audience id is empty")
	}
	if len(hashes) == 0 {
		return UploadResult{}, invalid("identifiers", "identifier set is empty")
	}

	chunks := Chunk(hashes, u.batchSize)
	pacer := u.pacing()
	var result UploadResult

	for i, chunk := range chunks {
		if i > 0 {
			if err := pacer.Wait(ctx); err != nil {
				return result, &BatchError{Index: i, Batches: len(chunks), Partial: result, Err: err}
			}
		}

		resp, err := u.send(ctx, pacer, audienceID, chunk)
		if err != nil {
			u.observe("error", nil)
			u.logger.Error("upload batch failed", "audience_id", audienceID, "batch", i+1, "batches", len(chunks), "error", err)
			return result, &BatchError{Index: i, Batches: len(chunks), Partial: result, Err: err}
		}

		result.Batches++
		result.TotalReceived += resp.NumReceived
		result.TotalInvalid += resp.NumInvalidEntries
		u.observe("ok", resp)
		u.logger.Info("upload batch sent", "audience_id", audienceID, "batch", i+1, "batches", len(chunks),
			"size", len(chunk), "received", resp.NumReceived, "invalid", resp.NumInvalidEntries)
	}
	return result, nil
}

func (u *Uploader) send(ctx context.Context, pacer Pacer, audienceID string, chunk []string) (*meta.UsersResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := u.api.AddUsers(ctx, audienceID, chunk)
		if err == nil {
			return resp, nil
		}
		if attempt >= u.maxRetries || !meta.IsTemporary(err) {
			return nil, err
		}
		u.logger.Warn("upload batch transient failure, retrying", "audience_id", audienceID, "attempt", attempt+1, "error", err)
		if waitErr := pacer.Wait(ctx); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (u *Uploader) observe(status string, resp *meta.UsersResponse) {
	if u.metrics == nil {
		return
	}
	u.metrics.UploadBatches.WithLabelValues(status).Inc()
	if resp != nil {
		u.metrics.IdentifiersUploaded.WithLabelValues("received").Add(float64(resp.NumReceived))
		u.metrics.IdentifiersUploaded.WithLabelValues("invalid").Add(float64(resp.NumInvalidEntries))
	}
}
