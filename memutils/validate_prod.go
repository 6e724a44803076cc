//go:build !debug_mem_utils

package memutils

import "unsafe"

const (
	// DebugMargin is the number of bytes of guard data placed after every arena allocation
	DebugMargin int = 0
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at data+offset.
// It no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {}

// ValidateMagicValue reports whether the marker written by WriteMagicValue at data+offset is intact.
// It always returns true unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// DebugValidate calls Validate on the provided object and panics if it returns an error.
// It no-ops unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {}

// DebugCheckPow2 panics if value is not a power of two.
// It no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {}
