package icd

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubDefaultDirs keeps host-installed drivers out of discovery tests.
func stubDefaultDirs(t *testing.T) {
	t.Helper()
	saved := defaultManifestDirs
	defaultManifestDirs = nil
	t.Cleanup(func() { defaultManifestDirs = saved })
}

func manifestJSON(library string) string {
	return `{"file_format_version": "1.0.0", "ICD": {"library_path": "` + library + `", "api_version": "1.2.0"}}`
}

func TestDiscoverScansSearchPathDirs(t *testing.T) {
	stubDefaultDirs(t)
	dir := t.TempDir()
	writeManifest(t, dir, "b_second.json", manifestJSON("/usr/lib/libb.so"))
	writeManifest(t, dir, "a_first.json", manifestJSON("/usr/lib/liba.so"))
	writeManifest(t, dir, "notes.txt", "not a manifest")

	t.Setenv(EnvICDFilenames, "")
	t.Setenv(EnvICDSearchPaths, dir)

	candidates := Discover(discardLogger())
	require.Len(t, candidates, 2)
	// Directory scans are sorted by file name for a stable canonical order.
	require.Equal(t, "/usr/lib/liba.so", candidates[0].Manifest.LibraryPath)
	require.Equal(t, "/usr/lib/libb.so", candidates[1].Manifest.LibraryPath)
	require.False(t, candidates[0].FromOverride)
}

func TestDiscoverOverrideTakesPriority(t *testing.T) {
	stubDefaultDirs(t)
	dir := t.TempDir()
	writeManifest(t, dir, "scanned.json", manifestJSON("/usr/lib/libscanned.so"))
	override := writeManifest(t, dir, "override.json", manifestJSON("/usr/lib/liboverride.so"))

	t.Setenv(EnvICDFilenames, override)
	t.Setenv(EnvICDSearchPaths, dir)

	candidates := Discover(discardLogger())
	require.Len(t, candidates, 2)
	require.Equal(t, "/usr/lib/liboverride.so", candidates[0].Manifest.LibraryPath)
	require.True(t, candidates[0].FromOverride)
	// The override is a priority prefix, not an exclusive list: the scan
	// still contributes, and the override file is not listed twice.
	require.Equal(t, "/usr/lib/libscanned.so", candidates[1].Manifest.LibraryPath)
}

func TestDiscoverSkipsBrokenManifests(t *testing.T) {
	stubDefaultDirs(t)
	dir := t.TempDir()
	writeManifest(t, dir, "broken.json", `{"ICD": {`)
	writeManifest(t, dir, "good.json", manifestJSON("/usr/lib/libgood.so"))

	t.Setenv(EnvICDFilenames, "")
	t.Setenv(EnvICDSearchPaths, dir)

	candidates := Discover(discardLogger())
	require.Len(t, candidates, 1)
	require.Equal(t, "/usr/lib/libgood.so", candidates[0].Manifest.LibraryPath)
}

func TestOverrideManifestsSplitting(t *testing.T) {
	t.Setenv(EnvICDFilenames, "/a/one.json:/b/two.json")
	require.Equal(t, []string{"/a/one.json", "/b/two.json"}, overrideManifests())

	t.Setenv(EnvICDFilenames, "/a/one.json;/b/two.json")
	require.Equal(t, []string{"/a/one.json", "/b/two.json"}, overrideManifests())

	t.Setenv(EnvICDFilenames, " /a/one.json : ")
	require.Equal(t, []string{"/a/one.json"}, overrideManifests())

	t.Setenv(EnvICDFilenames, "")
	require.Nil(t, overrideManifests())
}

func TestManifestDirsPrependsEnv(t *testing.T) {
	extra := t.TempDir()
	t.Setenv(EnvICDSearchPaths, extra)
	dirs := manifestDirs()
	require.Equal(t, extra, dirs[0])
	require.Equal(t, defaultManifestDirs, dirs[1:])
}

func TestClassifySoftware(t *testing.T) {
	require.True(t, classifySoftware("/usr/lib/libvulkan_lvp.so"))
	require.True(t, classifySoftware("/usr/lib/x86_64-linux-gnu/libvulkan_llvmpipe.so"))
	require.True(t, classifySoftware(filepath.Join("/opt", "swiftshader", "libvk_swiftshader.so")))
	require.False(t, classifySoftware("/usr/lib/libvulkan_radeon.so"))
	require.False(t, classifySoftware("/usr/lib/libvulkan_nvidia.so"))
}
