package recovery

import (
	"fmt"
	"sync"
)

// StrictStrategy fails on the first error. Used by tests that must not
// mask a malformed fixture.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy records every error and keeps going. This is the
// default for batch processing: a single bad page or object must never
// abort the rest of the document.
type LenientStrategy struct {
	mu     sync.Mutex
	errors []error
}

func NewLenientStrategy() *LenientStrategy { return &LenientStrategy{} }

func (s *LenientStrategy) OnError(err error, location Location) Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	if location.Page >= 0 {
		s.errors = append(s.errors, fmt.Errorf("[%s] %s page %d obj %d: %w",
			location.Component, location.Document, location.Page, location.ObjectNum, err))
	} else {
		s.errors = append(s.errors, fmt.Errorf("[%s] %s offset %d obj %d: %w",
			location.Component, location.Document, location.ByteOffset, location.ObjectNum, err))
	}
	return ActionWarn
}

// Errors returns everything recorded so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
