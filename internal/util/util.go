package util

import "unsafe"

// B2S converts a byte slice to a string without copying.
func B2S(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// S2B converts a string to a byte slice without copying.
// The result must not be mutated.
func S2B(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func PointerOf[T any](v T) *T {
	return &v
}
