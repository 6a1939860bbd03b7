package icd

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Environment variables understood by the loader and the layers above it.
const (
	// EnvICDFilenames is the standard Vulkan manifest override. Its entries
	// are a priority prefix for discovery, not an exclusive list.
	EnvICDFilenames = "VK_ICD_FILENAMES"
	// EnvICDSearchPaths holds extra manifest directories, prepended to the
	// platform defaults.
	EnvICDSearchPaths = "COBALT_ICD_SEARCH_PATHS"
	// EnvAggregate enables aggregated (multi-ICD) mode for the process.
	EnvAggregate = "COBALT_AGGREGATE"
	// EnvPreferHardware defaults to on. When off, software ICDs take part in
	// primary selection alongside hardware ones.
	EnvPreferHardware = "COBALT_PREFER_HARDWARE"
	// EnvAllowUntrusted opts out of the trust-prefix check. The regular-file
	// check still applies; use is logged at warning level.
	EnvAllowUntrusted = "COBALT_ALLOW_UNTRUSTED"
	// EnvLogLevel selects loader/router log verbosity: debug, info, warn,
	// error.
	EnvLogLevel = "COBALT_LOG"
)

// envTruthy interprets 1/0, true/false, yes/no, on/off. Unset or
// unrecognized values return the fallback.
func envTruthy(name string, fallback bool) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

// AggregateEnabled reports whether aggregated mode is requested for the
// process.
func AggregateEnabled() bool {
	return envTruthy(EnvAggregate, false)
}

// PreferHardware reports whether software ICDs are excluded from primary
// selection while a hardware ICD is available.
func PreferHardware() bool {
	return envTruthy(EnvPreferHardware, true)
}

// AllowUntrusted reports whether the trust-prefix check is bypassed.
func AllowUntrusted() bool {
	return envTruthy(EnvAllowUntrusted, false)
}

// LogLevel translates EnvLogLevel into a slog level, defaulting to Info.
func LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
