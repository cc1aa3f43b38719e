package chain

import (
	"fmt"
	"sync"
)

// Keyring hands out API credentials for one provider in round-robin order so
// quota usage spreads evenly across keys. The cursor always stays in
// [0, len(keys)) and Next never fails once the ring is constructed.
type Keyring struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewKeyring builds a rotation over the given keys. An empty list is a
// configuration error and is reported here, at startup, not on first use.
func NewKeyring(keys []string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keyring requires at least one API key")
	}
	ks := make([]string, len(keys))
	copy(ks, keys)
	return &Keyring{keys: ks}, nil
}

// Next returns the next key, advancing the cursor. Safe for concurrent use:
// the rate limiter serializes most access per provider, but concurrent
// resolutions of independent hashes may still race here.
func (k *Keyring) Next() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := k.keys[k.next]
	k.next = (k.next + 1) % len(k.keys)
	return key
}

// Len reports the number of keys in the ring.
func (k *Keyring) Len() int {
	return len(k.keys)
}
