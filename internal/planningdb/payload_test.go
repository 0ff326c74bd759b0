package planningdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookPayload_FlatShape(t *testing.T) {
	raw := []byte(`{"page":"page-1","status":"Assets Ready","updated_at":"2026-07-29T10:00:00Z","title":"Ep 1"}`)
	obs, err := ParseWebhookPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "page-1", obs.PageRef)
	assert.Equal(t, "Assets Ready", string(obs.StatusLabel))
	assert.Equal(t, "Ep 1", obs.Title)
}

func TestParseWebhookPayload_NotionShape(t *testing.T) {
	raw := []byte(`{
		"id": "page-2",
		"last_edited_time": "2026-07-29T11:00:00Z",
		"properties": {
			"Status": {"select": {"name": "Video Ready"}},
			"Title": {"title": [{"plain_text": "Ep 2"}]}
		}
	}`)
	obs, err := ParseWebhookPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "page-2", obs.PageRef)
	assert.Equal(t, "Video Ready", string(obs.StatusLabel))
	assert.Equal(t, "Ep 2", obs.Title)
}

func TestParseWebhookPayload_MissingPage(t *testing.T) {
	_, err := ParseWebhookPayload([]byte(`{"status":"Queued"}`))
	assert.Error(t, err)
}

func TestParsePagesPayload_WrappedArray(t *testing.T) {
	raw := []byte(`{"pages":[{"page":"a","status":"Draft"},{"page":"b","status":"Queued"}]}`)
	obs, err := ParsePagesPayload(raw)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "a", obs[0].PageRef)
	assert.Equal(t, "b", obs[1].PageRef)
}

func TestParsePagesPayload_SkipsMalformedRows(t *testing.T) {
	raw := []byte(`[{"status":"no page ref"},{"page":"ok","status":"Draft"}]`)
	obs, err := ParsePagesPayload(raw)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "ok", obs[0].PageRef)
}
