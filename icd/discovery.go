package icd

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/exp/slices"
)

// Candidate is a manifest that parsed successfully and is ready for a load
// attempt.
type Candidate struct {
	Manifest Manifest
	// FromOverride marks candidates named by VK_ICD_FILENAMES.
	FromOverride bool
}

// Discover scans the override list and the manifest directories for ICD
// manifests, parses each, and returns the candidates in priority order:
// override entries first, then directory scans. Every search path, manifest,
// and parse failure is logged.
func Discover(logger *slog.Logger) []Candidate {
	var candidates []Candidate
	seen := map[string]bool{}

	appendManifest := func(path string, fromOverride bool) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
		if seen[path] {
			return
		}
		seen[path] = true

		manifest, err := ParseManifest(path)
		if err != nil {
			logger.Warn("skipping manifest", slog.String("manifest", path), slog.Any("error", err))
			return
		}
		logger.Info("discovered manifest",
			slog.String("manifest", path),
			slog.String("library", manifest.LibraryPath),
			slog.Bool("override", fromOverride))
		candidates = append(candidates, Candidate{Manifest: manifest, FromOverride: fromOverride})
	}

	for _, path := range overrideManifests() {
		logger.Debug("manifest override entry", slog.String("manifest", path))
		appendManifest(path, true)
	}

	for _, dir := range manifestDirs() {
		logger.Debug("scanning manifest directory", slog.String("dir", dir))
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.Debug("manifest directory unreadable", slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		var names []string
		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".json") {
				names = append(names, entry.Name())
			}
		}
		// Directory order is filesystem-dependent; sort for a stable
		// canonical discovery order.
		slices.Sort(names)
		for _, name := range names {
			appendManifest(filepath.Join(dir, name), false)
		}
	}

	return candidates
}

// overrideManifests splits VK_ICD_FILENAMES on the platform list separator:
// ";" on Windows or whenever the value contains a ";", ":" otherwise, so
// absolute Windows paths with drive letters are never split at the colon.
func overrideManifests() []string {
	raw := os.Getenv(EnvICDFilenames)
	if raw == "" {
		return nil
	}
	sep := ":"
	if runtime.GOOS == "windows" || strings.Contains(raw, ";") {
		sep = ";"
	}
	var paths []string
	for _, part := range strings.Split(raw, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			paths = append(paths, part)
		}
	}
	return paths
}

func manifestDirs() []string {
	var dirs []string
	if extra := os.Getenv(EnvICDSearchPaths); extra != "" {
		for _, dir := range filepath.SplitList(extra) {
			if dir != "" {
				dirs = append(dirs, dir)
			}
		}
	}
	return append(dirs, defaultManifestDirs...)
}
