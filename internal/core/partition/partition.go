package partition

import "hash/fnv"

// For returns the lane in [0, n) for a device address.
// Stable and deterministic: the same address always maps to the same lane,
// so one device is only ever talked to by one worker at a time.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
