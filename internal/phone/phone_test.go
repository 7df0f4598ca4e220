package phone

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestNormalizeStripsFormatting(t *testing.T) {
	assert.Equal(t, "79991234567", Normalize("+7 (999) 123-45-67"))
	assert.Equal(t, "89991112233", Normalize("89991112233"))
	assert.Equal(t, "", Normalize("n/a"))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{"+7 (999) 123-45-67", "", "abc", "8-800-555-35-35", "٣٤٥ 12"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	a := Hash("+7 (999) 123-45-67")
	b := Hash("+7 (999) 123-45-67")
	assert.Equal(t, a, b)
	assert.Len(t, a, HashLength)
	assert.Regexp(t, hexDigest, a)

	// formatting differences collapse to the same digest
	assert.Equal(t, a, Hash("79991234567"))
	assert.NotEqual(t, a, Hash("89991112233"))
}

func TestHashKnownDigest(t *testing.T) {
	// sha256("") is a fixed value; malformed input still hashes
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash("---"))
}

func TestHashAllPreservesOrder(t *testing.T) {
	raws := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		raws = append(raws, fmt.Sprintf("+7 999 %07d", i))
	}

	hashes, err := HashAll(context.Background(), raws, 7)
	require.NoError(t, err)
	require.Len(t, hashes, len(raws))
	for i, raw := range raws {
		assert.Equal(t, Hash(raw), hashes[i])
	}
}

func TestHashAllEmpty(t *testing.T) {
	hashes, err := HashAll(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestHashAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := HashAll(ctx, []string{"1", "2"}, 1)
	require.ErrorIs(t, err, context.Canceled)
}
