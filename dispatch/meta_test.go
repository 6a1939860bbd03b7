package dispatch_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/cobalt-gpu/cobalt/dispatch"
	"github.com/cobalt-gpu/cobalt/dispatch/dispatchtest"
)

func TestMetaInstanceEnumeratesInRegistryOrder(t *testing.T) {
	driverA := dispatchtest.NewDriver(dispatchtest.Options{PhysicalDeviceCount: 2})
	driverB := dispatchtest.NewDriver(dispatchtest.Options{PhysicalDeviceCount: 3})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(driverA, driverB))

	record, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.NoError(t, err)
	require.True(t, record.Meta())
	require.Len(t, record.Parts, 2)
	require.Equal(t, uint64(1), driverA.Counters.InstanceCreations.Load())
	require.Equal(t, uint64(1), driverB.Counters.InstanceCreations.Load())

	physicalDevices, err := router.EnumeratePhysicalDevices(record.Handle)
	require.NoError(t, err)
	require.Len(t, physicalDevices, 5)

	// Merged order is the concatenation in registry order: for i<j, the ICD
	// index of entry i is ≤ that of entry j.
	for i := 0; i < 2; i++ {
		require.Equal(t, driverA.ICD, physicalDevices[i].Driver)
	}
	for i := 2; i < 5; i++ {
		require.Equal(t, driverB.ICD, physicalDevices[i].Driver)
	}
}

func TestCreateDeviceUsesOwningICDOnly(t *testing.T) {
	driverA := dispatchtest.NewDriver(dispatchtest.Options{PhysicalDeviceCount: 1})
	driverB := dispatchtest.NewDriver(dispatchtest.Options{PhysicalDeviceCount: 1})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(driverA, driverB))

	record, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.NoError(t, err)
	physicalDevices, err := router.EnumeratePhysicalDevices(record.Handle)
	require.NoError(t, err)
	require.Len(t, physicalDevices, 2)

	device, err := router.CreateDevice(physicalDevices[1].Handle, dispatch.DeviceOptions{})
	require.NoError(t, err)
	require.Equal(t, driverB.ICD, device.Driver)

	// Only the owning driver saw the call.
	require.Equal(t, uint64(0), driverA.Counters.DeviceCreations.Load())
	require.Equal(t, uint64(1), driverB.Counters.DeviceCreations.Load())
}

func TestMetaInstanceToleratesPartialFailure(t *testing.T) {
	healthy := dispatchtest.NewDriver(dispatchtest.Options{PhysicalDeviceCount: 2})
	broken := dispatchtest.NewDriver(dispatchtest.Options{FailInstanceCreation: true})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(healthy, broken))

	record, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.NoError(t, err)
	require.Len(t, record.Parts, 1)
	require.Equal(t, []int{broken.ICD.Index}, record.FailedDrivers)

	physicalDevices, err := router.EnumeratePhysicalDevices(record.Handle)
	require.NoError(t, err)
	require.Len(t, physicalDevices, 2)
}

func TestMetaInstanceFailsWhenEveryDriverFails(t *testing.T) {
	brokenA := dispatchtest.NewDriver(dispatchtest.Options{FailInstanceCreation: true})
	brokenB := dispatchtest.NewDriver(dispatchtest.Options{FailInstanceCreation: true})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(brokenA, brokenB))

	_, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.True(t, errors.Is(err, dispatch.ErrNoInstance))
}

func TestZeroDeviceDriverToleratedAtEnumeration(t *testing.T) {
	empty := dispatchtest.NewDriver(dispatchtest.Options{}.WithZeroDevices())
	populated := dispatchtest.NewDriver(dispatchtest.Options{PhysicalDeviceCount: 1})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(empty, populated))

	record, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.NoError(t, err)
	// Both drivers produced instances; enumeration simply contributes
	// nothing from the empty one.
	require.Len(t, record.Parts, 2)

	physicalDevices, err := router.EnumeratePhysicalDevices(record.Handle)
	require.NoError(t, err)
	require.Len(t, physicalDevices, 1)
	require.Equal(t, populated.ICD, physicalDevices[0].Driver)
}

func TestMetaHandlesAreDistinct(t *testing.T) {
	driver := dispatchtest.NewDriver(dispatchtest.Options{})
	router := dispatch.NewRouter(nil, dispatchtest.NewRegistry(driver))

	first, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.NoError(t, err)
	second, err := router.CreateInstance(dispatch.InstanceOptions{Aggregate: true})
	require.NoError(t, err)
	require.NotEqual(t, first.Handle, second.Handle)
	// Synthetic handles are odd; native handles are aligned pointers.
	require.NotZero(t, uintptr(first.Handle)&1)
}
