package dispatch_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/cobalt-gpu/cobalt/dispatch"
	"github.com/cobalt-gpu/cobalt/dispatch/dispatchtest"
	"github.com/cobalt-gpu/cobalt/vk"
)

func singleDriverRouter(t *testing.T, options dispatchtest.Options) (*dispatch.Router, *dispatchtest.Driver) {
	t.Helper()
	driver := dispatchtest.NewDriver(options)
	registry := dispatchtest.NewRegistry(driver)
	return dispatch.NewRouter(nil, registry), driver
}

func TestCreateInstanceRoutesToPrimary(t *testing.T) {
	router, driver := singleDriverRouter(t, dispatchtest.Options{})

	record, err := router.CreateInstance(dispatch.InstanceOptions{ApplicationName: "test"})
	require.NoError(t, err)
	require.False(t, record.Meta())
	require.Equal(t, driver.ICD, record.Driver)
	require.Equal(t, uint64(1), driver.Counters.InstanceCreations.Load())

	// The router can resolve the handle it just recorded.
	resolved, err := router.InstanceFor(record.Handle)
	require.NoError(t, err)
	require.Equal(t, record, resolved)
}

func TestEveryCreatedHandleIsRouted(t *testing.T) {
	router, driver := singleDriverRouter(t, dispatchtest.Options{})

	instance, err := router.CreateInstance(dispatch.InstanceOptions{})
	require.NoError(t, err)
	physicalDevices, err := router.EnumeratePhysicalDevices(instance.Handle)
	require.NoError(t, err)
	require.Len(t, physicalDevices, 1)

	device, err := router.CreateDevice(physicalDevices[0].Handle, dispatch.DeviceOptions{})
	require.NoError(t, err)
	require.Equal(t, driver.ICD, device.Driver)

	queue, err := router.Queue(device.Handle, 0, 0)
	require.NoError(t, err)
	queueRecord, err := router.DeviceForQueue(queue)
	require.NoError(t, err)
	require.Equal(t, device, queueRecord)

	pool, err := router.CreateCommandPool(device.Handle, 0)
	require.NoError(t, err)
	poolRecord, err := router.DeviceForCommandPool(pool)
	require.NoError(t, err)
	require.Equal(t, device, poolRecord)

	buffers, err := router.AllocateCommandBuffers(pool, 3)
	require.NoError(t, err)
	require.Len(t, buffers, 3)
	for _, cb := range buffers {
		record, err := router.DeviceForCommandBuffer(cb)
		require.NoError(t, err)
		require.Equal(t, device, record)
	}
}

func TestLookupMissSurfacesNoDevice(t *testing.T) {
	driverA := dispatchtest.NewDriver(dispatchtest.Options{})
	driverB := dispatchtest.NewDriver(dispatchtest.Options{})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(driverA, driverB))

	_, err := router.DeviceFor(vk.Device(0xDEAD))
	require.True(t, errors.Is(err, dispatch.ErrNoDevice))
	_, err = router.DeviceForQueue(vk.Queue(0xDEAD))
	require.True(t, errors.Is(err, dispatch.ErrNoDevice))

	// With more than one driver loaded, the primary fallback is unsafe and
	// must not engage.
	_, err = router.ICDForDevice(vk.Device(0xDEAD))
	require.True(t, errors.Is(err, dispatch.ErrNoDevice))
}

func TestFallbackToPrimaryInSingleICDMode(t *testing.T) {
	router, driver := singleDriverRouter(t, dispatchtest.Options{})

	resolved, err := router.ICDForDevice(vk.Device(0xDEAD))
	require.NoError(t, err)
	require.Equal(t, driver.ICD, resolved)
}

func TestOwnerNeverChangesOnceRecorded(t *testing.T) {
	router, _ := singleDriverRouter(t, dispatchtest.Options{})

	instance, err := router.CreateInstance(dispatch.InstanceOptions{})
	require.NoError(t, err)
	physicalDevices, err := router.EnumeratePhysicalDevices(instance.Handle)
	require.NoError(t, err)
	device, err := router.CreateDevice(physicalDevices[0].Handle, dispatch.DeviceOptions{})
	require.NoError(t, err)

	first, err := router.DeviceFor(device.Handle)
	require.NoError(t, err)
	// Enumerating again re-records the same physical devices; the device's
	// owner must stay identical.
	_, err = router.EnumeratePhysicalDevices(instance.Handle)
	require.NoError(t, err)
	second, err := router.DeviceFor(device.Handle)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Same(t, first.Driver, second.Driver)
}

func TestDestroyInstanceForgetsHandle(t *testing.T) {
	router, _ := singleDriverRouter(t, dispatchtest.Options{})

	record, err := router.CreateInstance(dispatch.InstanceOptions{})
	require.NoError(t, err)
	require.NoError(t, router.DestroyInstance(record.Handle))

	_, err = router.InstanceFor(record.Handle)
	require.True(t, errors.Is(err, dispatch.ErrNoDevice))
}

func TestDeviceRecordCarriesMetadata(t *testing.T) {
	router, _ := singleDriverRouter(t, dispatchtest.Options{VendorID: vk.VendorIDNVIDIA})

	instance, err := router.CreateInstance(dispatch.InstanceOptions{})
	require.NoError(t, err)
	physicalDevices, err := router.EnumeratePhysicalDevices(instance.Handle)
	require.NoError(t, err)
	device, err := router.CreateDevice(physicalDevices[0].Handle, dispatch.DeviceOptions{})
	require.NoError(t, err)

	require.Equal(t, vk.VendorIDNVIDIA, device.Properties.VendorID)
	require.NotZero(t, device.Memory.MemoryTypeCount)
	require.NotEmpty(t, device.QueueFamilies)
	require.NotZero(t, device.QueueFamilies[0].QueueFlags&vk.QueueCompute)
}
