package layout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storybook-agent/internal/types"
)

func TestExportWritesBundleAndPages(t *testing.T) {
	dir := t.TempDir()
	project := testProject()
	lay := BuildPages(project, testBook(), testIllustrations(), nil)

	manifest, err := Export(dir, project, lay)
	require.NoError(t, err)

	// book.json plus one HTML file per page.
	require.Len(t, manifest.Files, 1+len(lay.Pages))
	assert.Equal(t, "bundle", manifest.Files[0].Kind)

	raw, err := os.ReadFile(filepath.Join(dir, "book.json"))
	require.NoError(t, err)
	var decoded struct {
		Layout types.Layout `json:"layout"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, lay.Pages, decoded.Layout.Pages)

	for _, p := range lay.Pages {
		html, err := os.ReadFile(manifest.Files[p.Number].Path)
		require.NoError(t, err)
		assert.Contains(t, string(html), project.Title)
	}
}

func TestExportRecordsFileSizes(t *testing.T) {
	dir := t.TempDir()
	project := testProject()
	lay := BuildPages(project, testBook(), nil, nil)

	manifest, err := Export(dir, project, lay)
	require.NoError(t, err)
	for _, f := range manifest.Files {
		info, err := os.Stat(f.Path)
		require.NoError(t, err)
		assert.Equal(t, int(info.Size()), f.Bytes)
	}
}

func TestExportCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	project := testProject()
	lay := BuildPages(project, testBook(), nil, nil)

	_, err := Export(dir, project, lay)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "book.json"))
	assert.NoError(t, err)
}
