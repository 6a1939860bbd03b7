package icd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// The trust policy accepts a driver library only when its canonical path sits
// under a system library prefix. The same policy guards every resolution
// path, including the manifest-relative fallback; no candidate may bypass it.

// trustedPrefixes lists the platform library directories a driver may load
// from. See trust_paths_*.go for the per-OS values.

// VerifyLibraryPath canonicalizes the candidate and applies the trust policy.
// It returns the canonical path on success. When the untrusted override is
// set the prefix check is skipped (and logged at warning level by the
// caller); the regular-file check always applies.
func VerifyLibraryPath(path string) (string, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return "", errors.Wrapf(ErrLibraryUntrusted, "%s: %v", path, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", errors.Wrapf(ErrLibraryUntrusted, "%s: %v", canonical, err)
	}
	if !info.Mode().IsRegular() {
		return "", errors.Wrapf(ErrLibraryUntrusted, "%s is not a regular file", canonical)
	}

	if AllowUntrusted() {
		return canonical, nil
	}

	for _, prefix := range trustedPrefixes {
		if underPrefix(canonical, prefix) {
			return canonical, nil
		}
	}
	return "", errors.Wrapf(ErrLibraryUntrusted, "%s is outside the trusted library directories", canonical)
}

func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

func underPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func logTrustOverride(logger *slog.Logger, path string) {
	logger.Warn("loading library with trust policy override",
		slog.String("library", path),
		slog.String("env", EnvAllowUntrusted))
}
