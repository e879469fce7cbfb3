package hypermap

import "github.com/megakuul/hypercache/hyperhash"

// HashFunc maps a key to its 32-bit fingerprint. The fingerprint determines
// the initial slot index and the probe sequence.
type HashFunc func(key string) uint32

// The default fingerprint. Keep this in sync with clients that pre-hash
// keys for shard routing.
func defaultHashFunc(key string) uint32 {
	return hyperhash.Sum32String(key)
}
