// Package keylock provides striped mutexes keyed by string. Two keys that
// hash to the same stripe share a mutex; distinct stripes never contend.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 64

// Locker is a fixed set of mutex stripes.
type Locker struct {
	stripes []sync.Mutex
}

// New returns a Locker with n stripes, rounded up to a power of two.
func New(n int) *Locker {
	if n <= 0 {
		n = defaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &Locker{stripes: make([]sync.Mutex, size)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *Locker) Lock(key string) func() {
	mu := &l.stripes[l.index(key)]
	mu.Lock()
	return mu.Unlock
}

func (l *Locker) index(key string) uint64 {
	return xxhash.Sum64String(key) & uint64(len(l.stripes)-1)
}
