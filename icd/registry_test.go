package icd

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobalt-gpu/cobalt/vk"
)

func fakeDriver(index int, library string, version uint32, software bool) *ICD {
	return &ICD{
		Info: Info{
			LibraryPath:  library,
			ManifestPath: library + ".json",
			APIVersion:   version,
			Software:     software,
			Index:        index,
		},
		instances: map[vk.Instance]*InstanceCommands{},
		devices:   map[vk.Device]*DeviceCommands{},
	}
}

func registryWith(t *testing.T, drivers ...*ICD) *Registry {
	t.Helper()
	registry := NewRegistry(discardLogger())
	registry.icds = drivers
	return registry
}

func TestSelectPrimaryPrefersHighestVersionHardware(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/liba.so", vk.APIVersion11, false),
		fakeDriver(1, "/usr/lib/libb.so", vk.APIVersion13, false),
		fakeDriver(2, "/usr/lib/libvulkan_lvp.so", vk.MakeAPIVersion(1, 3, 999), true),
	)
	require.Equal(t, 1, registry.selectPrimaryLocked())
}

func TestSelectPrimaryTieBreaksByDiscoveryOrder(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/liba.so", vk.APIVersion12, false),
		fakeDriver(1, "/usr/lib/libb.so", vk.APIVersion12, false),
	)
	require.Equal(t, 0, registry.selectPrimaryLocked())
}

func TestSelectPrimaryFallsBackToSoftware(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/libvulkan_lvp.so", vk.APIVersion12, true),
	)
	require.Equal(t, 0, registry.selectPrimaryLocked())
}

func TestSelectPrimaryAdmitsSoftwareWhenPreferenceDisabled(t *testing.T) {
	t.Setenv(EnvPreferHardware, "0")
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/liba.so", vk.APIVersion11, false),
		fakeDriver(1, "/usr/lib/libvulkan_lvp.so", vk.APIVersion13, true),
	)
	require.Equal(t, 1, registry.selectPrimaryLocked())
}

func TestSelectPrimaryHonorsPreferredIndex(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/liba.so", vk.APIVersion13, false),
		fakeDriver(1, "/usr/lib/libb.so", vk.APIVersion10, false),
	)
	registry.SetPreferredIndex(1)
	require.Equal(t, 1, registry.selectPrimaryLocked())
}

func TestSelectPrimaryHonorsPreferredPath(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/liba.so", vk.APIVersion13, false),
		fakeDriver(1, "/usr/lib/libb.so", vk.APIVersion10, false),
	)
	registry.SetPreferredPath("/usr/lib/libb.so")
	require.Equal(t, 1, registry.selectPrimaryLocked())
}

func TestSetPreferredIgnoredAfterInitialization(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/liba.so", vk.APIVersion13, false),
		fakeDriver(1, "/usr/lib/libb.so", vk.APIVersion10, false),
	)
	registry.initialized = true
	registry.primary = 0
	registry.SetPreferredIndex(1)
	require.Equal(t, 0, registry.primary)
	require.Equal(t, -1, registry.preferredIndex)
}

func TestAvailableICDsKeepsCanonicalOrderUnfiltered(t *testing.T) {
	registry := registryWith(t,
		fakeDriver(0, "/usr/lib/libvulkan_lvp.so", vk.APIVersion12, true),
		fakeDriver(1, "/usr/lib/libhw.so", vk.APIVersion12, false),
	)
	infos := registry.AvailableICDs()
	require.Len(t, infos, 2)
	// Software drivers stay in the enumerated list even while selection
	// filters them; filtering at enumeration time would desynchronize the
	// indices users see from the indices selection uses.
	require.True(t, infos[0].Software)
	require.Equal(t, 0, infos[0].Index)
	require.Equal(t, 1, infos[1].Index)
}

func TestEnvTruthy(t *testing.T) {
	t.Setenv("COBALT_TEST_FLAG", "1")
	require.True(t, envTruthy("COBALT_TEST_FLAG", false))
	t.Setenv("COBALT_TEST_FLAG", "on")
	require.True(t, envTruthy("COBALT_TEST_FLAG", false))
	t.Setenv("COBALT_TEST_FLAG", "off")
	require.False(t, envTruthy("COBALT_TEST_FLAG", true))
	t.Setenv("COBALT_TEST_FLAG", "definitely")
	require.True(t, envTruthy("COBALT_TEST_FLAG", true))
	require.False(t, envTruthy("COBALT_TEST_UNSET_FLAG", false))
}

func TestLogLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	require.Equal(t, slog.LevelDebug, LogLevel())
	t.Setenv(EnvLogLevel, "WARN")
	require.Equal(t, slog.LevelWarn, LogLevel())
	t.Setenv(EnvLogLevel, "")
	require.Equal(t, slog.LevelInfo, LogLevel())
}
