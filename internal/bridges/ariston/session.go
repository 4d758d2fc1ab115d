package ariston

import (
	"fmt"
	"sync"
)

// Session is a read-only view of the remote session.
type Session struct {
	PlantID       string
	Authenticated bool
	LastError     error
	Features      PlantFeatures
}

// session holds the mutable session state. Only the engine's lifecycle
// methods and the poller's re-authentication path write to it.
type session struct {
	mu sync.RWMutex
	s  Session
}

func (s *session) get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.s
}

func (s *session) authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.s.Authenticated
}

func (s *session) established(plantID string, features PlantFeatures) {
	s.mu.Lock()
	s.s = Session{
		PlantID:       plantID,
		Authenticated: true,
		Features:      features,
	}
	s.mu.Unlock()
}

// invalidate marks the session expired. The plant id is kept so callers can
// still identify the device while re-authentication is pending.
func (s *session) invalidate(err error) {
	s.mu.Lock()
	s.s.Authenticated = false
	s.s.LastError = err
	s.mu.Unlock()
}

func (s *session) clear() {
	s.mu.Lock()
	s.s = Session{}
	s.mu.Unlock()
}

// chooseGateway picks the configured gateway, or the first one listed.
func chooseGateway(gateways []string, want string) (string, error) {
	if len(gateways) == 0 {
		return "", ErrNoGateway
	}
	if want == "" {
		return gateways[0], nil
	}
	for _, g := range gateways {
		if g == want {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: %s not on account", ErrNoGateway, want)
}
