package hypermap

import (
	"math/bits"
	"unsafe"
)

// Returns the next power of 2 for the given value `v`. Useful for sizing a
// map from an expected key count before calling New.
func NextPowerOf2(v uint32) uint32 {
	return uint32(1) << min(bits.Len32(v-1), 31)
}

// Estimates capacity (number of slots) from the given memory size in bytes.
// Chunks are stored inline, so each slot carries the full quick buffer.
func CapacityFromSize(size uintptr) int {
	numSlots := size / unsafe.Sizeof(slot{})

	return int(numSlots)
}
