package whisper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocateModelDefaultsToSmall(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	loc, err := LocateModel("", dir)
	require.NoError(t, err)
	require.Equal(t, DefaultModel, loc.Spec.Name)
	require.Equal(t, filepath.Join(dir, "ggml-small.bin"), loc.Path)
	require.True(t, loc.NeedsDownload)
	require.False(t, loc.IsCustomPath)
}

func TestLocateModelAlreadyDownloaded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(path, []byte("lmgg"), 0o644))

	loc, err := LocateModel("tiny", dir)
	require.NoError(t, err)
	require.Equal(t, path, loc.Path)
	require.False(t, loc.NeedsDownload)
}

func TestLocateModelCustomPath(t *testing.T) {
	t.Parallel()

	custom := filepath.Join(t.TempDir(), "ggml-small.en-tdrz.bin")
	require.NoError(t, os.WriteFile(custom, []byte("lmgg"), 0o644))

	loc, err := LocateModel(custom, "")
	require.NoError(t, err)
	require.True(t, loc.IsCustomPath)
	require.Equal(t, custom, loc.Path)
	require.Equal(t, "ggml-small.en-tdrz.bin", loc.Spec.Name)
}

func TestLocateModelErrors(t *testing.T) {
	t.Parallel()

	_, err := LocateModel("super-huge", t.TempDir())
	require.ErrorContains(t, err, "unknown model")

	_, err = LocateModel("tiny", "")
	require.Error(t, err)

	_, err = LocateModel(filepath.Join(t.TempDir(), "gone.bin"), "")
	require.ErrorContains(t, err, "does not exist")
}

func TestCatalogIsPinnedAndOrdered(t *testing.T) {
	t.Parallel()

	names := ModelNames()
	require.Equal(t, []string{"tiny", "base", "small", "medium", "large-v3"}, names)
	for _, spec := range Catalog() {
		require.Lenf(t, spec.SHA256, 64, "model %s should have a pinned sha256", spec.Name)
		require.Contains(t, spec.URL(), spec.FileName)
	}
}

func TestModelSpecURLAt(t *testing.T) {
	t.Parallel()

	spec, ok := FindModel("base")
	require.True(t, ok)
	require.Equal(t, "https://mirror.example/models/ggml-base.bin", spec.URLAt("https://mirror.example/models/"))
	require.Equal(t, modelBaseURL+"ggml-base.bin", spec.URL())
}
