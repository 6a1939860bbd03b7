//go:build windows

package icd

import (
	"os"
	"path/filepath"
)

var trustedPrefixes = []string{
	filepath.Join(os.Getenv("SystemRoot"), "System32"),
	filepath.Join(os.Getenv("SystemRoot"), "SysWOW64"),
	filepath.Join(os.Getenv("ProgramFiles"), "Vulkan"),
}

var defaultManifestDirs = []string{
	filepath.Join(os.Getenv("ProgramData"), "Vulkan", "icd.d"),
	filepath.Join(os.Getenv("VULKAN_SDK"), "Bin"),
}
