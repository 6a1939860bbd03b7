package icd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestVerifyLibraryPathRejectsOutsidePrefixes(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "evil.so")
	require.NoError(t, os.WriteFile(lib, []byte("not a real library"), 0o755))

	_, err := VerifyLibraryPath(lib)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLibraryUntrusted))
}

func TestVerifyLibraryPathOverride(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "evil.so")
	require.NoError(t, os.WriteFile(lib, []byte("not a real library"), 0o755))

	t.Setenv(EnvAllowUntrusted, "1")
	canonical, err := VerifyLibraryPath(lib)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(canonical))
}

func TestVerifyLibraryPathRejectsDirectoriesEvenWithOverride(t *testing.T) {
	t.Setenv(EnvAllowUntrusted, "1")
	_, err := VerifyLibraryPath(t.TempDir())
	require.True(t, errors.Is(err, ErrLibraryUntrusted))
}

func TestVerifyLibraryPathRejectsMissingFile(t *testing.T) {
	_, err := VerifyLibraryPath(filepath.Join(t.TempDir(), "nope.so"))
	require.True(t, errors.Is(err, ErrLibraryUntrusted))
}

func TestVerifyLibraryPathFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.so")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o755))
	link := filepath.Join(dir, "link.so")
	require.NoError(t, os.Symlink(target, link))

	t.Setenv(EnvAllowUntrusted, "1")
	canonical, err := VerifyLibraryPath(link)
	require.NoError(t, err)
	resolvedTarget, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	require.Equal(t, resolvedTarget, canonical)
}

func TestUnderPrefix(t *testing.T) {
	require.True(t, underPrefix("/usr/lib/libvulkan_radeon.so", "/usr/lib"))
	require.True(t, underPrefix("/usr/lib/x86_64-linux-gnu/libvulkan_intel.so", "/usr/lib"))
	require.False(t, underPrefix("/usr/libexec/foo.so", "/usr/lib"))
	require.False(t, underPrefix("/tmp/evil.so", "/usr/lib"))
	require.False(t, underPrefix("/usr/lib/../../tmp/evil.so", "/usr/lib"))
}
