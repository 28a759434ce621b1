package mongo

import "go.mongodb.org/mongo-driver/v2/event"

// Generation returns the current Open generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// ServerMonitor returns the monitor installed for generation gen, so tests
// can deliver driver events directly.
func (s *Store) ServerMonitor(gen uint64) *event.ServerMonitor {
	return s.serverMonitor(gen)
}
