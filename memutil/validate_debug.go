//go:build debug_mem_utils

package memutil

// DebugValidate calls Validate on the provided object and panics if any error
// is returned. It no-ops unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 verifies that the numerical value passed in is a power of
// two and panics if it is not. It no-ops unless the debug_mem_utils build tag
// is present.
func DebugCheckPow2(value uint64, name string) {
	err := CheckPow2(value, name)
	if err != nil {
		panic(err)
	}
}
