package outdir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseOverride(t *testing.T) {
	base, err := Base("/tmp/recordings")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/recordings", base)
}

func TestBaseDefault(t *testing.T) {
	base, err := Base("")
	require.NoError(t, err)
	assert.Equal(t, AppDirName, filepath.Base(base))
}

func TestSessionDir(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

	first, err := SessionDir(base, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "2026-10-14_10-00-00"), first)

	info, err := os.Stat(first)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	second, err := SessionDir(base, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "2026-10-14_10-00-00_2"), second)
}

func TestSessionDirSkipsArchived(t *testing.T) {
	base := t.TempDir()
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.WriteFile(filepath.Join(base, "2026-10-14_10-00-00.zip"), nil, 0o644))

	dir, err := SessionDir(base, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "2026-10-14_10-00-00_2"), dir)
}
