package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 64

// keyLocks serialises work per target path. Distinct paths may share a
// stripe; that only costs parallelism.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyLocks) lock(key string) (unlock func()) {
	m := &k.stripes[xxhash.Sum64String(key)%lockStripes]
	m.Lock()
	return m.Unlock
}
