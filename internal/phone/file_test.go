package phone

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSkipsBlankAndComments(t *testing.T) {
	got, err := Read(strings.NewReader("# export 2024-05\n+7 999 123 45 67\n\n   \n89991112233\r\n  # trailing\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"+7 999 123 45 67", "89991112233"}, got)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phones.txt")
	require.NoError(t, os.WriteFile(path, []byte("79991234567\n"), 0o600))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"79991234567"}, got)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
