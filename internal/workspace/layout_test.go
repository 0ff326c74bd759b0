package workspace

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureProject_CreatesFullTree(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	channelID, projectID := uuid.New(), uuid.New()

	dir, err := l.EnsureProject(channelID, projectID)
	require.NoError(t, err)

	for _, sub := range []string{"assets/characters", "assets/environments", "assets/props", "assets/composites", "videos", "audio", "sfx"} {
		info, err := os.Stat(dir + "/" + sub)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestEnsureProject_Idempotent(t *testing.T) {
	l := New(t.TempDir())
	channelID, projectID := uuid.New(), uuid.New()

	_, err := l.EnsureProject(channelID, projectID)
	require.NoError(t, err)
	_, err = l.EnsureProject(channelID, projectID)
	require.NoError(t, err, "creating the same project twice must not error")
}

func TestMissingClips_ReportsOnlyAbsentOnes(t *testing.T) {
	l := New(t.TempDir())
	channelID, projectID := uuid.New(), uuid.New()
	_, err := l.EnsureProject(channelID, projectID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(l.ClipPath(channelID, projectID, 1), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(l.ClipPath(channelID, projectID, 2), []byte("data"), 0o644))

	missing := l.MissingClips(channelID, projectID)
	assert.NotContains(t, missing, 1)
	assert.NotContains(t, missing, 2)
	assert.Contains(t, missing, 3)
	assert.Len(t, missing, 16)
}

func TestDeleteOutput_MissingFileIsNotAnError(t *testing.T) {
	l := New(t.TempDir())
	err := l.DeleteOutput(l.ClipPath(uuid.New(), uuid.New(), 1))
	assert.NoError(t, err)
}
