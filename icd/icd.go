// Package icd discovers, verifies, and loads native Vulkan installable
// client drivers, and owns the process-wide registry of loaded drivers.
//
// Driver libraries are mapped once and never unloaded: every function
// pointer resolved from a library is copied into tables that any thread may
// call for the rest of the process, so unmapping would turn those tables
// into dangling pointers. The library handle is deliberately leaked.
package icd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/purego"

	"github.com/cobalt-gpu/cobalt/vk"
)

// Info is an immutable snapshot of a loaded driver.
type Info struct {
	// LibraryPath is the canonical library path, or the bare linker name
	// when loaded under the trust override.
	LibraryPath string
	// ManifestPath is the manifest the driver was discovered through.
	ManifestPath string
	// APIVersion is the packed version the manifest advertised, replaced by
	// the driver's vkEnumerateInstanceVersion result when it exports one.
	APIVersion uint32
	// Software marks drivers classified as software rasterizers. The
	// classification is heuristic and informs primary selection only.
	Software bool
	// Index is the driver's position in canonical discovery order.
	Index int
}

// ICD is one loaded driver: the mapped library, its entry point, and its
// function tables. Instance- and device-level tables are added as instances
// and devices are created through the driver.
type ICD struct {
	Info

	handle              uintptr
	GetInstanceProcAddr ProcAddrFunc
	Global              *GlobalCommands

	// LoadInstanceCommandsFunc and LoadDeviceCommandsFunc replace the
	// proc-addr-backed loaders when set. Harnesses that drive the router
	// against prefabricated command tables inject here.
	LoadInstanceCommandsFunc func(instance vk.Instance) (*InstanceCommands, error)
	LoadDeviceCommandsFunc   func(instance vk.Instance, device vk.Device) (*DeviceCommands, error)

	mu        sync.RWMutex
	instances map[vk.Instance]*InstanceCommands
	devices   map[vk.Device]*DeviceCommands
}

// NewICD assembles a driver record around prefabricated state. Load is the
// production path; this constructor serves embedders and test harnesses
// that resolve tables themselves.
func NewICD(info Info, global *GlobalCommands) *ICD {
	return &ICD{
		Info:      info,
		Global:    global,
		instances: map[vk.Instance]*InstanceCommands{},
		devices:   map[vk.Device]*DeviceCommands{},
	}
}

// InstanceCommandsFor returns the table bound to a native instance of this
// driver, or nil if none was recorded.
func (d *ICD) InstanceCommandsFor(instance vk.Instance) *InstanceCommands {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.instances[instance]
}

// DeviceCommandsFor returns the table bound to a native device of this
// driver, or nil if none was recorded.
func (d *ICD) DeviceCommandsFor(device vk.Device) *DeviceCommands {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.devices[device]
}

// BindInstance loads and records the instance-level table for a native
// instance just created through this driver.
func (d *ICD) BindInstance(instance vk.Instance) (*InstanceCommands, error) {
	load := d.LoadInstanceCommandsFunc
	if load == nil {
		load = func(instance vk.Instance) (*InstanceCommands, error) {
			return LoadInstanceCommands(d.GetInstanceProcAddr, instance)
		}
	}
	commands, err := load(instance)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.instances[instance] = commands
	d.mu.Unlock()
	return commands, nil
}

// BindDevice loads and records the device-level table for a native device
// just created through this driver. The owning instance must already be
// bound.
func (d *ICD) BindDevice(instance vk.Instance, device vk.Device) (*DeviceCommands, error) {
	instanceCommands := d.InstanceCommandsFor(instance)
	if instanceCommands == nil {
		return nil, errors.Wrapf(ErrFunctionLoadFailed, "instance %#x has no bound command table", uintptr(instance))
	}
	load := d.LoadDeviceCommandsFunc
	if load == nil {
		load = func(instance vk.Instance, device vk.Device) (*DeviceCommands, error) {
			return LoadDeviceCommands(instanceCommands, d.GetInstanceProcAddr, instance, device)
		}
	}
	commands, err := load(instance, device)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.devices[device] = commands
	d.mu.Unlock()
	return commands, nil
}

// ForgetInstance drops the table for a destroyed native instance.
func (d *ICD) ForgetInstance(instance vk.Instance) {
	d.mu.Lock()
	delete(d.instances, instance)
	d.mu.Unlock()
}

// ForgetDevice drops the table for a destroyed native device.
func (d *ICD) ForgetDevice(device vk.Device) {
	d.mu.Lock()
	delete(d.devices, device)
	d.mu.Unlock()
}

// softwareHints are library-name fragments that identify software
// rasterizers and other non-hardware backends.
var softwareHints = []string{
	"llvmpipe",
	"lavapipe",
	"lvp",
	"swiftshader",
	"swrast",
	"gfxstream",
}

func classifySoftware(libraryPath string) bool {
	name := strings.ToLower(filepath.Base(libraryPath))
	for _, hint := range softwareHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

// Load verifies, maps, and resolves one discovered driver. Any failure is
// contained to this candidate.
func Load(logger *slog.Logger, candidate Candidate) (*ICD, error) {
	manifest := candidate.Manifest

	libraryPath, bare, err := resolveLibraryPath(logger, manifest)
	if err != nil {
		return nil, err
	}

	handle, err := openLibrary(libraryPath)
	if err != nil {
		return nil, err
	}
	// handle is never closed; see the package comment.

	entry := lookupSymbol(handle, "vk_icdGetInstanceProcAddr")
	if entry == 0 {
		// Older drivers export only the public name.
		entry = lookupSymbol(handle, "vkGetInstanceProcAddr")
	}
	if entry == 0 {
		return nil, errors.Wrapf(ErrEntryPointMissing, "%s", libraryPath)
	}

	driver := NewICD(Info{
		LibraryPath:  libraryPath,
		ManifestPath: manifest.Path,
		APIVersion:   manifest.APIVersion,
		Software:     classifySoftware(libraryPath),
	}, nil)
	driver.handle = handle
	purego.RegisterFunc(&driver.GetInstanceProcAddr, entry)

	driver.Global, err = LoadGlobalCommands(driver.GetInstanceProcAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", libraryPath)
	}

	if driver.Global.EnumerateInstanceVersion != nil {
		var version uint32
		if result := driver.Global.EnumerateInstanceVersion(&version); result == vk.Success && version != 0 {
			driver.APIVersion = version
		}
	}

	logger.Info("loaded ICD",
		slog.String("library", libraryPath),
		slog.String("manifest", manifest.Path),
		slog.String("api_version", vk.FormatAPIVersion(driver.APIVersion)),
		slog.Bool("software", driver.Software),
		slog.Bool("bare_name", bare))
	return driver, nil
}

// resolveLibraryPath applies the trust policy to the manifest's library
// path. Relative names resolve against the manifest directory; the bare
// linker-searched form has no canonical path to verify and is allowed only
// under the trust override.
func resolveLibraryPath(logger *slog.Logger, manifest Manifest) (path string, bare bool, err error) {
	if filepath.IsAbs(manifest.LibraryPath) {
		canonical, err := VerifyLibraryPath(manifest.LibraryPath)
		if err != nil {
			return "", false, err
		}
		if AllowUntrusted() {
			logTrustOverride(logger, canonical)
		}
		return canonical, false, nil
	}

	joined := filepath.Join(filepath.Dir(manifest.Path), manifest.LibraryPath)
	canonical, joinErr := VerifyLibraryPath(joined)
	if joinErr == nil {
		if AllowUntrusted() {
			logTrustOverride(logger, canonical)
		}
		return canonical, false, nil
	}

	if AllowUntrusted() {
		logTrustOverride(logger, manifest.LibraryPath)
		return manifest.LibraryPath, true, nil
	}
	if _, statErr := os.Stat(joined); statErr == nil {
		// The manifest-relative file exists but failed the policy.
		return "", false, joinErr
	}
	return "", false, errors.Wrapf(ErrLibraryUntrusted,
		"%s: bare library names require %s", manifest.LibraryPath, EnvAllowUntrusted)
}
