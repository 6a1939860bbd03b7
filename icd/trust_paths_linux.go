//go:build linux

package icd

var trustedPrefixes = []string{
	"/usr/lib",
	"/usr/lib64",
	"/usr/libexec",
	"/usr/local/lib",
	"/lib",
	"/lib64",
	"/opt/amdgpu",
	"/opt/rocm",
}

var defaultManifestDirs = []string{
	"/usr/share/vulkan/icd.d",
	"/usr/local/share/vulkan/icd.d",
	"/etc/vulkan/icd.d",
}
