package common

import (
	"errors"
	"sort"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p halts module. A nil view never halts.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" || !p.IsPaused(module) {
		return nil
	}
	return ErrModulePaused
}

// GuardAll is Guard over several views; the first halting view wins.
func GuardAll(module string, views ...PauseView) error {
	for _, view := range views {
		if err := Guard(view, module); err != nil {
			return err
		}
	}
	return nil
}

type PauseFunc func(module string) bool

func (f PauseFunc) IsPaused(module string) bool {
	return f != nil && f(module)
}

// ModuleSwitch is a process-local halt switch. Unlike persisted pause flags
// it resets on restart.
type ModuleSwitch struct {
	mu     sync.RWMutex
	halted map[string]struct{}
}

func NewModuleSwitch(halted ...string) *ModuleSwitch {
	s := &ModuleSwitch{halted: make(map[string]struct{})}
	for _, m := range halted {
		s.halted[m] = struct{}{}
	}
	return s
}

func (s *ModuleSwitch) Halt(module string) {
	s.mu.Lock()
	s.halted[module] = struct{}{}
	s.mu.Unlock()
}

func (s *ModuleSwitch) Resume(module string) {
	s.mu.Lock()
	delete(s.halted, module)
	s.mu.Unlock()
}

func (s *ModuleSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.halted[module]
	return ok
}

// Halted lists halted modules in sorted order.
func (s *ModuleSwitch) Halted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.halted))
	for m := range s.halted {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
