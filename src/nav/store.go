package nav

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	machineTTL      = 24 * time.Hour
	cleanupInterval = time.Hour
)

// Store holds one Machine per browser session, keyed by the session
// cookie. Machines expire with the cookie's lifetime.
type Store struct {
	machines *gocache.Cache
}

func NewStore() *Store {
	return &Store{machines: gocache.New(machineTTL, cleanupInterval)}
}

// Get returns the machine for one session key, creating it in the loading
// state on first sight. The TTL is refreshed on every access.
func (s *Store) Get(key string) *Machine {
	if cached, ok := s.machines.Get(key); ok {
		machine := cached.(*Machine)
		s.machines.Set(key, machine, machineTTL)
		return machine
	}
	machine := NewMachine()
	if err := s.machines.Add(key, machine, machineTTL); err != nil {
		// Lost the creation race; take the winner.
		if cached, ok := s.machines.Get(key); ok {
			return cached.(*Machine)
		}
	}
	return machine
}

// Drop removes one session's machine, used when its session ends for good.
func (s *Store) Drop(key string) {
	s.machines.Delete(key)
}
