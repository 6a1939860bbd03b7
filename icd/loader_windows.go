//go:build windows

package icd

import (
	"github.com/cockroachdb/errors"

	"golang.org/x/sys/windows"
)

func openLibrary(path string) (uintptr, error) {
	handle, err := windows.LoadLibraryEx(path, 0, windows.LOAD_WITH_ALTERED_SEARCH_PATH)
	if err != nil {
		// Bare names (no separator) are resolved through the default search
		// order instead.
		handle, err = windows.LoadLibrary(path)
	}
	if err != nil {
		return 0, errors.Wrapf(ErrLibraryLoadFailed, "%s: %v", path, err)
	}
	return uintptr(handle), nil
}

func lookupSymbol(handle uintptr, name string) uintptr {
	addr, err := windows.GetProcAddress(windows.Handle(handle), name)
	if err != nil {
		return 0
	}
	return addr
}
