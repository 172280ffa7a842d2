package rag

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const defaultMaxSessions = 1024

// ChainCache owns the conversation key to SessionChain mapping. At most one
// chain exists per key; the least recently used chain is dropped once the
// cache is full. Its memory survives in the TurnStore, if one is configured.
//
// A chain evicted while a caller still holds a lease on it is parked and
// handed back by the next Acquire, so a busy conversation never gets a
// second chain.
type ChainCache struct {
	mu     sync.Mutex
	chains *lru.Cache[string, *SessionChain]

	// guarded by mu
	leases map[string]int
	parked map[string]*SessionChain
}

func NewChainCache(maxSessions int) (*ChainCache, error) {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	c := &ChainCache{
		leases: make(map[string]int),
		parked: make(map[string]*SessionChain),
	}
	chains, err := lru.NewWithEvict(maxSessions, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("create chain cache failed: %w", err)
	}
	c.chains = chains
	return c, nil
}

// Acquire returns the chain for key, calling build at most once per key
// while it stays cached or leased. The caller must call release once it is
// done with the chain. build must not block on I/O.
func (c *ChainCache) Acquire(key string, build func() *SessionChain) (chain *SessionChain, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chain, ok := c.chains.Get(key)
	if !ok {
		if parked, found := c.parked[key]; found {
			delete(c.parked, key)
			chain = parked
			log.Debug().Str("conversation", key).Msg("session chain revived")
		} else {
			chain = build()
			log.Debug().Str("conversation", key).Msg("session chain created")
		}
		c.chains.Add(key, chain)
	}
	c.leases[key]++

	var once sync.Once
	return chain, func() { once.Do(func() { c.release(key) }) }
}

func (c *ChainCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leases[key]--; c.leases[key] > 0 {
		return
	}
	delete(c.leases, key)
	delete(c.parked, key)
}

// evicted runs synchronously inside chains.Add, which is only called with mu
// held.
func (c *ChainCache) evicted(key string, chain *SessionChain) {
	if c.leases[key] > 0 {
		c.parked[key] = chain
		log.Debug().Str("conversation", key).Msg("session chain parked while in use")
		return
	}
	log.Debug().Str("conversation", key).Msg("session chain evicted")
}

func (c *ChainCache) Peek(key string) (*SessionChain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chain, ok := c.chains.Peek(key); ok {
		return chain, true
	}
	chain, ok := c.parked[key]
	return chain, ok
}

// Len counts cached chains, not parked ones.
func (c *ChainCache) Len() int {
	return c.chains.Len()
}
