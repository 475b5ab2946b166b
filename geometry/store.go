package geometry

import (
	"go.uber.org/atomic"
)

// Store holds the current screen geometry. It is written from the render loop on every size
// change notification and may be read from anywhere; a reader always observes a geometry that was
// written as a whole, never a width from one update and a height from another.
type Store struct {
	current *atomic.Pointer[Size]
}

// NewStore returns a store holding the zero-area geometry.
func NewStore() *Store {
	return &Store{current: atomic.NewPointer(&Size{})}
}

// Set replaces the current geometry. Setting the same size twice is a no-op in effect.
func (s *Store) Set(width, height float64) {
	next := Size{Width: width, Height: height}
	if prev := s.current.Load(); *prev == next {
		return
	}
	s.current.Store(&next)
}

// Get returns the current geometry.
func (s *Store) Get() Size {
	return *s.current.Load()
}
