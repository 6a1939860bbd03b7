//go:build darwin

package icd

var trustedPrefixes = []string{
	"/usr/lib",
	"/usr/local/lib",
	"/opt/homebrew/lib",
	"/System/Library",
	"/Library",
}

var defaultManifestDirs = []string{
	"/usr/local/share/vulkan/icd.d",
	"/opt/homebrew/share/vulkan/icd.d",
	"/etc/vulkan/icd.d",
}
