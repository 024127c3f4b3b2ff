package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// eventBuffer is the capacity of the session event channel. Events beyond
// it are dropped with a log line rather than blocking a provider.
const eventBuffer = 64

// Session simulates a tracking session.
type Session struct {
	mu        sync.Mutex
	answer    tracking.AuthorizationStatus
	statuses  map[tracking.AuthorizationType]tracking.AuthorizationStatus
	providers []provider
	events    chan tracking.SessionEvent
	stopped   bool
}

var _ tracking.Session = (*Session)(nil)

// NewSession creates a session. answer is what the simulated user picks
// the first time each authorization is requested.
func NewSession(answer tracking.AuthorizationStatus) *Session {
	return &Session{
		answer:   answer,
		statuses: make(map[tracking.AuthorizationType]tracking.AuthorizationStatus),
		events:   make(chan tracking.SessionEvent, eventBuffer),
	}
}

// RequestAuthorization implements tracking.Session.
func (s *Session) RequestAuthorization(ctx context.Context, types ...tracking.AuthorizationType) map[tracking.AuthorizationType]tracking.AuthorizationStatus {
	out := make(map[tracking.AuthorizationType]tracking.AuthorizationStatus, len(types))
	var changed []tracking.AuthorizationType
	s.mu.Lock()
	for _, t := range types {
		if s.statusLocked(t) == tracking.AuthorizationNotDetermined && ctx.Err() == nil {
			s.statuses[t] = s.answer
			changed = append(changed, t)
		}
		out[t] = s.statusLocked(t)
	}
	s.mu.Unlock()
	for _, t := range changed {
		s.emit(tracking.SessionEvent{Kind: tracking.EventAuthorizationChanged, Authorization: t, Status: out[t]})
	}
	return out
}

// QueryAuthorization implements tracking.Session.
func (s *Session) QueryAuthorization(_ context.Context, types ...tracking.AuthorizationType) map[tracking.AuthorizationType]tracking.AuthorizationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[tracking.AuthorizationType]tracking.AuthorizationStatus, len(types))
	for _, t := range types {
		out[t] = s.statusLocked(t)
	}
	return out
}

// SetAuthorization changes a status outside of a prompt, as a user
// revoking access in system settings would.
func (s *Session) SetAuthorization(t tracking.AuthorizationType, status tracking.AuthorizationStatus) {
	s.mu.Lock()
	s.statuses[t] = status
	s.mu.Unlock()
	s.emit(tracking.SessionEvent{Kind: tracking.EventAuthorizationChanged, Authorization: t, Status: status})
}

func (s *Session) statusLocked(t tracking.AuthorizationType) tracking.AuthorizationStatus {
	if st, ok := s.statuses[t]; ok {
		return st
	}
	return tracking.AuthorizationNotDetermined
}

// Run implements tracking.Session. Only providers from this package are
// accepted. The provider set is rejected as a whole if any member is
// unsupported or unauthorized.
func (s *Session) Run(ctx context.Context, providers ...tracking.Provider) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("session stopped: %w", tracking.ErrProviderNotRunning)
	}
	sims := make([]provider, 0, len(providers))
	for _, p := range providers {
		sp, ok := p.(provider)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s is not a simulated provider", tracking.ErrProviderUnsupported, p.Name())
		}
		if !p.IsSupported() {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", tracking.ErrProviderUnsupported, p.Name())
		}
		if st := p.State(); st != tracking.ProviderInitialized {
			s.mu.Unlock()
			return fmt.Errorf("provider %s cannot run from state %s", p.Name(), st)
		}
		for _, a := range p.RequiredAuthorizations() {
			if st := s.statusLocked(a); st != tracking.AuthorizationAllowed {
				s.mu.Unlock()
				return fmt.Errorf("%w: %s needs %s (%s)", tracking.ErrAuthorizationDenied, p.Name(), a, st)
			}
		}
		sims = append(sims, sp)
	}
	s.providers = append(s.providers, sims...)
	s.mu.Unlock()

	for _, sp := range sims {
		sp.start(s.emit)
	}
	return nil
}

// Events implements tracking.Session.
func (s *Session) Events() <-chan tracking.SessionEvent { return s.events }

// Stop implements tracking.Session.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	providers := s.providers
	s.providers = nil
	s.mu.Unlock()

	for _, p := range providers {
		p.stop(nil)
	}

	s.mu.Lock()
	s.stopped = true
	close(s.events)
	s.mu.Unlock()
}

func (s *Session) emit(ev tracking.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.events <- ev:
	default:
		monitoring.Logf("[sim] session event buffer full, dropping %s", ev.Kind)
	}
}
