package phone

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// HashLength is the length of a hex encoded SHA-256 digest.
const HashLength = sha256.Size * 2

// Normalize strips every non-digit character from raw, keeping digit order.
// Malformed input may yield an empty string.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Hash returns the lowercase hex SHA-256 digest of the normalized phone number.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])
}

// HashAll hashes every raw identifier using up to workers goroutines.
// The output has the same length and order as raws.
func HashAll(ctx context.Context, raws []string, workers int) ([]string, error) {
	out := make([]string, len(raws))
	if len(raws) == 0 {
		return out, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(raws) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(raws); start += chunk {
		end := min(start+chunk, len(raws))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("hash identifier %d: %w", i, err)
				}
				out[i] = Hash(raws[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
