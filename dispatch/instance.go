package dispatch

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

// InstanceOptions name the application to drivers and request instance
// extensions. In aggregated mode each driver receives only the subset of
// extensions it supports.
type InstanceOptions struct {
	ApplicationName string
	EngineName      string
	APIVersion      uint32
	Extensions      []string
	Layers          []string
	// Aggregate creates a meta instance spanning every loaded driver. The
	// default is the env flag.
	Aggregate bool
}

// metaHandleCounter produces synthetic instance handles. Values are odd;
// native dispatchable handles are pointers and therefore aligned, so the two
// sets cannot collide.
var metaHandleCounter atomic.Uintptr

func nextMetaHandle() vk.Instance {
	return vk.Instance(metaHandleCounter.Add(2) | 1)
}

// CreateInstance creates a native instance on the primary driver, or, in
// aggregated mode, one native instance per loaded driver behind a synthetic
// meta handle. The new record is registered with the router before return.
func (r *Router) CreateInstance(options InstanceOptions) (*InstanceRecord, error) {
	if options.APIVersion == 0 {
		options.APIVersion = vk.APIVersion12
	}
	if options.Aggregate || icd.AggregateEnabled() {
		return r.createMetaInstance(options)
	}

	primary := r.registry.Primary()
	if primary == nil {
		return nil, icd.ErrNoICDLoaded
	}
	handle, commands, err := createNativeInstance(primary, options, options.Extensions)
	if err != nil {
		return nil, err
	}
	record := &InstanceRecord{Handle: handle, Driver: primary, Commands: commands}
	r.RecordInstance(record)
	return record, nil
}

// createMetaInstance fans instance creation across every loaded driver.
// Creation succeeds when at least one native instance succeeds; drivers that
// fail are excluded from enumeration for the lifetime of the meta instance.
func (r *Router) createMetaInstance(options InstanceOptions) (*InstanceRecord, error) {
	record := &InstanceRecord{Handle: nextMetaHandle()}

	for _, driver := range r.registry.ICDs() {
		extensions := filterSupportedExtensions(driver, options.Extensions)
		handle, commands, err := createNativeInstance(driver, options, extensions)
		if err != nil {
			r.logger.Warn("ICD excluded from meta instance",
				slog.String("library", driver.LibraryPath),
				slog.Any("error", err))
			record.FailedDrivers = append(record.FailedDrivers, driver.Index)
			continue
		}
		record.Parts = append(record.Parts, &InstancePart{
			Driver:   driver,
			Handle:   handle,
			Commands: commands,
		})
	}

	if len(record.Parts) == 0 {
		return nil, ErrNoInstance
	}
	if len(record.FailedDrivers) > 0 {
		r.logger.Warn("meta instance is partial",
			slog.Int("usable", len(record.Parts)),
			slog.Int("failed", len(record.FailedDrivers)),
			slog.Any("detail", ErrAggregationPartial))
	}
	r.RecordInstance(record)
	return record, nil
}

// createNativeInstance issues vkCreateInstance on one driver and immediately
// loads the instance-level command table. Enumeration through an instance
// whose table was never loaded fails, so binding is not deferred.
func createNativeInstance(driver *icd.ICD, options InstanceOptions, extensions []string) (vk.Instance, *icd.InstanceCommands, error) {
	appName := vk.CString(options.ApplicationName)
	engineName := vk.CString(options.EngineName)
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName,
		ApplicationVersion: vk.MakeAPIVersion(1, 0, 0),
		PEngineName:        engineName,
		EngineVersion:      vk.MakeAPIVersion(1, 0, 0),
		APIVersion:         options.APIVersion,
	}
	extensionNames := vk.NewCStringArray(extensions)
	layerNames := vk.NewCStringArray(options.Layers)
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledLayerCount:       layerNames.Len(),
		PpEnabledLayerNames:     layerNames.Ptr(),
		EnabledExtensionCount:   extensionNames.Len(),
		PpEnabledExtensionNames: extensionNames.Ptr(),
	}

	var handle vk.Instance
	result := driver.Global.CreateInstance(&createInfo, nil, &handle)
	runtime.KeepAlive(appName)
	runtime.KeepAlive(engineName)
	runtime.KeepAlive(extensionNames)
	runtime.KeepAlive(layerNames)
	if err := result.Err(); err != nil {
		return 0, nil, errors.Wrapf(err, "vkCreateInstance on %s", driver.LibraryPath)
	}

	commands, err := driver.BindInstance(handle)
	if err != nil {
		return 0, nil, err
	}
	return handle, commands, nil
}

// filterSupportedExtensions drops requested extensions the driver does not
// advertise. Drivers reject unknown extensions outright, which would knock
// an otherwise healthy driver out of the meta instance.
func filterSupportedExtensions(driver *icd.ICD, requested []string) []string {
	if len(requested) == 0 || driver.Global.EnumerateInstanceExtensionProperties == nil {
		return requested
	}
	var count uint32
	if driver.Global.EnumerateInstanceExtensionProperties(nil, &count, nil).IsError() || count == 0 {
		return nil
	}
	properties := make([]vk.ExtensionProperties, count)
	if driver.Global.EnumerateInstanceExtensionProperties(nil, &count, &properties[0]).IsError() {
		return nil
	}
	supported := map[string]bool{}
	for i := range properties[:count] {
		supported[properties[i].ExtensionNameString()] = true
	}
	var filtered []string
	for _, name := range requested {
		if supported[name] {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// EnumeratePhysicalDevices lists the physical devices reachable through an
// instance. For a meta instance the per-driver lists concatenate in registry
// order, so the merged order is stable run to run. Drivers that enumerate
// zero devices are tolerated; some virtual and older integrated drivers load
// fine and report nothing.
func (r *Router) EnumeratePhysicalDevices(instance vk.Instance) ([]*PhysicalDeviceRecord, error) {
	record, err := r.InstanceFor(instance)
	if err != nil {
		return nil, err
	}

	var all []*PhysicalDeviceRecord
	for _, part := range record.parts() {
		devices, err := enumerateNative(part)
		if err != nil {
			return nil, err
		}
		for _, handle := range devices {
			physical := &PhysicalDeviceRecord{
				Handle:   handle,
				Driver:   part.Driver,
				Commands: part.Commands,
				Instance: part.Handle,
			}
			r.RecordPhysicalDevice(physical)
			all = append(all, physical)
		}
	}
	return all, nil
}

// parts views a record uniformly: a native record is a single part.
func (r *InstanceRecord) parts() []*InstancePart {
	if r.Meta() {
		return r.Parts
	}
	return []*InstancePart{{Driver: r.Driver, Handle: r.Handle, Commands: r.Commands}}
}

func enumerateNative(part *InstancePart) ([]vk.PhysicalDevice, error) {
	var count uint32
	if err := part.Commands.EnumeratePhysicalDevices(part.Handle, &count, nil).Err(); err != nil {
		return nil, errors.Wrapf(err, "vkEnumeratePhysicalDevices on %s", part.Driver.LibraryPath)
	}
	if count == 0 {
		return nil, nil
	}
	devices := make([]vk.PhysicalDevice, count)
	result := part.Commands.EnumeratePhysicalDevices(part.Handle, &count, &devices[0])
	if err := result.Err(); err != nil {
		return nil, errors.Wrapf(err, "vkEnumeratePhysicalDevices on %s", part.Driver.LibraryPath)
	}
	return devices[:count], nil
}

// DestroyInstance destroys every native instance behind the handle and
// drops the router records.
func (r *Router) DestroyInstance(instance vk.Instance) error {
	record, err := r.InstanceFor(instance)
	if err != nil {
		return err
	}
	for _, part := range record.parts() {
		part.Commands.DestroyInstance(part.Handle, nil)
		part.Driver.ForgetInstance(part.Handle)
	}
	r.ForgetInstance(instance)
	return nil
}
