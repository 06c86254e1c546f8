package fetch

import (
	"math/rand/v2"
	"strings"
)

// KeyPool hands out one of several API keys per call so that load spreads
// across the quota of every key.
type KeyPool struct {
	keys []string
}

// NewKeyPool creates a pool, ignoring blank keys
func NewKeyPool(keys []string) *KeyPool {
	p := &KeyPool{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			p.keys = append(p.keys, k)
		}
	}
	return p
}

// Pick returns a random key, or "" when the pool is empty
func (p *KeyPool) Pick() string {
	if p == nil || len(p.keys) == 0 {
		return ""
	}
	return p.keys[rand.IntN(len(p.keys))]
}

// Len returns the number of keys in the pool
func (p *KeyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}
