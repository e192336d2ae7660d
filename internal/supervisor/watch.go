package supervisor

import (
	"github.com/hostpm/hostpm/internal/process"
	"github.com/hostpm/hostpm/internal/watcher"
)

// attachWatcher starts a poller over spec's default watch roots and wires
// its restart trigger to this name's ManagedProcess.
func (s *Supervisor) attachWatcher(name string, spec process.Spec) {
	s.mu.Lock()
	if _, exists := s.watchers[name]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	roots := watcher.DefaultRoots(spec.Script)
	w := watcher.New(roots, func() { s.Restart(name) }, s.log)

	s.mu.Lock()
	s.watchers[name] = w
	s.mu.Unlock()

	go w.Run()
}

// detachWatcher stops and removes name's watcher, if any.
func (s *Supervisor) detachWatcher(name string) {
	s.mu.Lock()
	w, ok := s.watchers[name]
	if ok {
		delete(s.watchers, name)
	}
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
}
