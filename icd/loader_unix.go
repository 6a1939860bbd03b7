//go:build linux || darwin

package icd

import (
	"github.com/cockroachdb/errors"
	"github.com/ebitengine/purego"
)

// openLibrary maps the driver library. RTLD_LOCAL keeps ICD symbols out of
// the global namespace so two drivers exporting the same names never collide.
func openLibrary(path string) (uintptr, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return 0, errors.Wrapf(ErrLibraryLoadFailed, "%s: %v", path, err)
	}
	return handle, nil
}

// lookupSymbol resolves an exported symbol, returning 0 when absent.
func lookupSymbol(handle uintptr, name string) uintptr {
	addr, err := purego.Dlsym(handle, name)
	if err != nil {
		return 0
	}
	return addr
}
