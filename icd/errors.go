package icd

import "github.com/cockroachdb/errors"

// Sentinel errors for each way driver loading can fail. Discovery treats all
// of these as per-candidate: one bad manifest or library never prevents the
// others from loading.
var (
	// ErrManifestNotFound means no manifest was found in any search path.
	ErrManifestNotFound = errors.New("no ICD manifest found in any search path")
	// ErrManifestInvalid means a manifest failed to parse or is missing
	// required fields.
	ErrManifestInvalid = errors.New("ICD manifest invalid")
	// ErrLibraryUntrusted means a library path failed the trust policy and
	// the override is not set.
	ErrLibraryUntrusted = errors.New("ICD library path untrusted")
	// ErrLibraryLoadFailed means the dynamic loader rejected the library.
	ErrLibraryLoadFailed = errors.New("ICD library load failed")
	// ErrEntryPointMissing means the library loaded but the ICD entry point
	// symbol is absent.
	ErrEntryPointMissing = errors.New("ICD entry point missing")
	// ErrFunctionLoadFailed means a required function pointer could not be
	// resolved. For global functions this is fatal for the ICD; for device
	// functions it is fatal for the device.
	ErrFunctionLoadFailed = errors.New("required function pointer not resolved")
	// ErrNoICDLoaded means discovery ran but not a single driver loaded.
	ErrNoICDLoaded = errors.New("no ICD loaded successfully")
)
