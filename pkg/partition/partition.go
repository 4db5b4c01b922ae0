// Package partition implements the deterministic, hash-based assignment of
// per-domain queue keys to live workers.
package partition

import "hash/crc32"

// Owns reports whether the worker at index idx (out of n live workers) owns
// the given queue key. Ownership is crc32(key) mod n == idx, matching the
// zlib.crc32 polynomial/endianness used by the reference implementation
// this scheduler was distilled from, so a heterogeneous fleet agrees on
// domain assignment.
//
// n must be >= 1; idx must be in [0, n). Churn in the live-worker set
// reshuffles ownership across the whole fleet, which spec.md §5 accepts as
// the cost of keeping partitioning stateless.
func Owns(key string, idx, n int) bool {
	if n <= 0 {
		return idx == 0
	}
	return int(crc32.ChecksumIEEE([]byte(key))%uint32(n)) == idx
}

// Filter returns the subset of keys owned by worker idx out of n.
func Filter(keys []string, idx, n int) []string {
	owned := make([]string, 0, len(keys))
	for _, k := range keys {
		if Owns(k, idx, n) {
			owned = append(owned, k)
		}
	}
	return owned
}
