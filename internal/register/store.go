// internal/register/store.go
package register

import (
	"fmt"
	"sync"
)

// Size is the number of holding-register slots in one address space.
const Size = 65536

// Store holds the last-read value for every holding-register address.
// Index = register address.
//
// Writes replace a whole range under the write lock, so a concurrent
// reader sees either the previous or the new values of that range, never a mix.
type Store struct {
	mu   sync.RWMutex
	regs [Size]uint16
}

// New returns a zeroed store.
func New() *Store {
	return &Store{}
}

// WriteRange overwrites [start, start+len(values)) with values.
// Nothing is written if the range does not fit the address space.
func (s *Store) WriteRange(start uint16, values []uint16) error {
	if len(values) == 0 {
		return nil
	}
	end := int(start) + len(values)
	if end > Size {
		return fmt.Errorf("register: range %d+%d exceeds address space", start, len(values))
	}

	s.mu.Lock()
	copy(s.regs[start:end], values)
	s.mu.Unlock()
	return nil
}

// Range returns a copy of [start, start+length).
func (s *Store) Range(start, length uint16) ([]uint16, error) {
	end := int(start) + int(length)
	if end > Size {
		return nil, fmt.Errorf("register: range %d+%d exceeds address space", start, length)
	}

	out := make([]uint16, length)

	s.mu.RLock()
	copy(out, s.regs[start:end])
	s.mu.RUnlock()
	return out, nil
}

// Get returns the value at addr.
func (s *Store) Get(addr uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[addr]
}

// Clear zeroes every slot.
func (s *Store) Clear() {
	s.mu.Lock()
	s.regs = [Size]uint16{}
	s.mu.Unlock()
}
