package compute_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobalt-gpu/cobalt/compute"
	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

// Live tests drive a real installed driver. They are opt-in: most machines
// running the suite have no GPU at all.
func requireLiveDriver(t *testing.T) {
	t.Helper()
	if os.Getenv("COBALT_RUN_ICD_TESTS") != "1" {
		t.Skip("set COBALT_RUN_ICD_TESTS=1 to run against installed drivers")
	}
}

func TestLiveRegistryInitializes(t *testing.T) {
	requireLiveDriver(t)

	registry, err := icd.InitializeRegistry(nil)
	require.NoError(t, err)
	require.NotZero(t, registry.Count())
	require.NotNil(t, registry.Primary())

	for _, info := range registry.AvailableICDs() {
		t.Logf("ICD %d: %s (api %s, software=%v)", info.Index, info.LibraryPath, vk.FormatAPIVersion(info.APIVersion), info.Software)
	}
}

func TestLiveContextCreation(t *testing.T) {
	requireLiveDriver(t)

	ctx, err := compute.NewContext(nil, compute.Options{ApplicationName: "cobalt-live-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, ctx.Destroy()) }()

	require.NotZero(t, ctx.Queue())
	require.NotZero(t, ctx.Device().Properties.VendorID)
}
