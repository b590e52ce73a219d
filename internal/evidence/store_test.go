package evidence

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func TestDir_WriteReadRemove(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := NewDir(fsys, "/wh/gdpr_evidence")

	path, err := dir.Write("req-1", doc{ID: "req-1", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, "/wh/gdpr_evidence/req-1.json", path)

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": \"req-1\",\n  \"count\": 3\n}\n", string(data))

	var got doc
	require.NoError(t, dir.Read("req-1", &got))
	assert.Equal(t, doc{ID: "req-1", Count: 3}, got)

	ok, err := dir.Exists("req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dir.Remove("req-1"))
	require.NoError(t, dir.Remove("req-1"))
	ok, err = dir.Exists("req-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDir_IDs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := NewDir(fsys, "/wh/export_staging")

	ids, err := dir.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"b", "a"} {
		_, err := dir.Write(id, doc{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteFile(fsys, "/wh/export_staging/.a.tmp-x", []byte("{}"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/wh/export_staging/notes.txt", []byte("x"), 0o644))

	ids, err = dir.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDir_RejectsInvalidIDs(t *testing.T) {
	dir := NewDir(afero.NewMemMapFs(), "/wh")

	for _, id := range []string{"", "../escape", `a\b`} {
		_, err := dir.Write(id, doc{})
		assert.ErrorContains(t, err, "invalid evidence id", id)
	}
}
