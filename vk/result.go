package vk

import "fmt"

// Result matches VkResult. Negative values are errors, zero is success, and
// positive values are non-error status codes.
type Result int32

const (
	Success            Result = 0
	NotReady           Result = 1
	Timeout            Result = 2
	EventSet           Result = 3
	EventReset         Result = 4
	Incomplete         Result = 5
	ThreadIdle         Result = 1000268000
	ThreadDone         Result = 1000268001
	OperationDeferred    Result = 1000268002
	OperationNotDeferred Result = 1000268003

	ErrOutOfHostMemory              Result = -1
	ErrOutOfDeviceMemory            Result = -2
	ErrInitializationFailed         Result = -3
	ErrDeviceLost                   Result = -4
	ErrMemoryMapFailed              Result = -5
	ErrLayerNotPresent              Result = -6
	ErrExtensionNotPresent          Result = -7
	ErrFeatureNotPresent            Result = -8
	ErrIncompatibleDriver           Result = -9
	ErrTooManyObjects               Result = -10
	ErrFormatNotSupported           Result = -11
	ErrFragmentedPool               Result = -12
	ErrUnknown                      Result = -13
	ErrOutOfPoolMemory              Result = -1000069000
	ErrInvalidExternalHandle        Result = -1000072003
	ErrFragmentation                Result = -1000161000
	ErrInvalidOpaqueCaptureAddress  Result = -1000257000
	ErrInvalidShader                Result = -1000012000
	ErrValidationFailed             Result = -1000011001
	ErrNotPermitted                 Result = -1000174001
	ErrCompressionExhausted         Result = -1000338000
	ErrIncompatibleShaderBinaryEXT  Result = 1000482000
	ErrPipelineCompileRequiredEXT   Result = 1000297000
	ErrInvalidDeviceAddressCapture  Result = -1000244000
	ErrFullScreenExclusiveModeLost  Result = -1000255000
	ErrSurfaceLostKHR               Result = -1000000000
	ErrNativeWindowInUseKHR         Result = -1000000001
	ErrOutOfDateKHR                 Result = -1000001004
	ErrIncompatibleDisplayKHR       Result = -1000003001
	ErrInvalidDrmFormatModifierEXT  Result = -1000158000
	ErrImageUsageNotSupportedKHR    Result = -1000023000
	ErrVideoProfileMissingKHR       Result = -1000023001
	ErrVideoStdVersionNotSupported  Result = -1000023005
)

var resultNames = map[Result]string{
	Success:                 "VK_SUCCESS",
	NotReady:                "VK_NOT_READY",
	Timeout:                 "VK_TIMEOUT",
	EventSet:                "VK_EVENT_SET",
	EventReset:              "VK_EVENT_RESET",
	Incomplete:              "VK_INCOMPLETE",
	ErrOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	ErrOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	ErrInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	ErrDeviceLost:           "VK_ERROR_DEVICE_LOST",
	ErrMemoryMapFailed:      "VK_ERROR_MEMORY_MAP_FAILED",
	ErrLayerNotPresent:      "VK_ERROR_LAYER_NOT_PRESENT",
	ErrExtensionNotPresent:  "VK_ERROR_EXTENSION_NOT_PRESENT",
	ErrFeatureNotPresent:    "VK_ERROR_FEATURE_NOT_PRESENT",
	ErrIncompatibleDriver:   "VK_ERROR_INCOMPATIBLE_DRIVER",
	ErrTooManyObjects:       "VK_ERROR_TOO_MANY_OBJECTS",
	ErrFormatNotSupported:   "VK_ERROR_FORMAT_NOT_SUPPORTED",
	ErrFragmentedPool:       "VK_ERROR_FRAGMENTED_POOL",
	ErrUnknown:              "VK_ERROR_UNKNOWN",
	ErrOutOfPoolMemory:      "VK_ERROR_OUT_OF_POOL_MEMORY",
	ErrInvalidExternalHandle: "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	ErrFragmentation:         "VK_ERROR_FRAGMENTATION",
	ErrInvalidShader:         "VK_ERROR_INVALID_SHADER_NV",
	ErrValidationFailed:      "VK_ERROR_VALIDATION_FAILED",
	ErrNotPermitted:          "VK_ERROR_NOT_PERMITTED",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("VkResult(%d)", int32(r))
}

// Error implements error so negative results can travel as Go errors.
func (r Result) Error() string {
	return r.String()
}

// IsError reports whether the result is a failure code.
func (r Result) IsError() bool {
	return r < 0
}

// Err converts a result into an error, returning nil for success and the
// non-error status codes.
func (r Result) Err() error {
	if r.IsError() {
		return r
	}
	return nil
}
