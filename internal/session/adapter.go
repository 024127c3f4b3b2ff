// Package session owns the lifecycle of the tracking session: it asks for
// authorization, starts the providers and watches session events, keeping
// the results in readable properties.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/tracking"
)

// StartError is returned by BeginSession when the subsystem rejects the
// provider set.
type StartError struct {
	Providers []string
	Err       error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start session with %s: %v", strings.Join(e.Providers, ", "), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Adapter wraps a tracking.Session and the providers it runs.
type Adapter struct {
	session   tracking.Session
	providers []tracking.Provider

	mu                        sync.Mutex
	authorization             map[tracking.AuthorizationType]tracking.AuthorizationStatus
	providersStoppedWithError bool
	running                   bool
}

// NewAdapter creates an adapter for the given session and providers.
func NewAdapter(s tracking.Session, providers ...tracking.Provider) *Adapter {
	return &Adapter{
		session:       s,
		providers:     providers,
		authorization: make(map[tracking.AuthorizationType]tracking.AuthorizationStatus),
	}
}

// requiredAuthorizations is the union of every provider's requirements.
func (a *Adapter) requiredAuthorizations() []tracking.AuthorizationType {
	seen := make(map[tracking.AuthorizationType]bool)
	var out []tracking.AuthorizationType
	for _, p := range a.providers {
		for _, t := range p.RequiredAuthorizations() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// RequestAuthorization prompts for every authorization the providers need
// and returns the world sensing status.
func (a *Adapter) RequestAuthorization(ctx context.Context) tracking.AuthorizationStatus {
	a.record(a.session.RequestAuthorization(ctx, a.requiredAuthorizations()...))
	return a.AuthorizationStatus()
}

// QueryAuthorization refreshes the stored statuses without prompting.
func (a *Adapter) QueryAuthorization(ctx context.Context) tracking.AuthorizationStatus {
	a.record(a.session.QueryAuthorization(ctx, a.requiredAuthorizations()...))
	return a.AuthorizationStatus()
}

func (a *Adapter) record(statuses map[tracking.AuthorizationType]tracking.AuthorizationStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for t, st := range statuses {
		a.authorization[t] = st
	}
}

// BeginSession runs the providers. Failure is returned as a *StartError.
func (a *Adapter) BeginSession(ctx context.Context) error {
	if err := a.session.Run(ctx, a.providers...); err != nil {
		names := make([]string, len(a.providers))
		for i, p := range a.providers {
			names[i] = p.Name()
		}
		serr := &StartError{Providers: names, Err: err}
		monitoring.Logf("[session] %v", serr)
		return serr
	}
	a.mu.Lock()
	a.running = true
	a.providersStoppedWithError = false
	a.mu.Unlock()
	return nil
}

// MonitorEvents consumes session events until the stream closes or ctx is
// cancelled. It never fails; anything unexpected is logged.
func (a *Adapter) MonitorEvents(ctx context.Context) {
	events := a.session.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				a.mu.Lock()
				a.running = false
				a.mu.Unlock()
				return
			}
			a.handle(ev)
		}
	}
}

func (a *Adapter) handle(ev tracking.SessionEvent) {
	switch ev.Kind {
	case tracking.EventAuthorizationChanged:
		a.mu.Lock()
		a.authorization[ev.Authorization] = ev.Status
		a.mu.Unlock()
		monitoring.Logf("[session] authorization %s changed to %s", ev.Authorization, ev.Status)
	case tracking.EventProviderStateChanged:
		if ev.State != tracking.ProviderStopped {
			monitoring.Debugf("[session] providers %v now %s", ev.Providers, ev.State)
			return
		}
		a.mu.Lock()
		if ev.Err != nil {
			a.providersStoppedWithError = true
		}
		a.running = false
		a.mu.Unlock()
		if ev.Err != nil {
			monitoring.Logf("[session] providers %v stopped with error: %v", ev.Providers, ev.Err)
		} else {
			monitoring.Logf("[session] providers %v stopped", ev.Providers)
		}
	default:
		monitoring.Logf("[session] unhandled session event %q", ev.Kind)
	}
}

// EndSession stops the underlying session.
func (a *Adapter) EndSession() {
	a.session.Stop()
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// AuthorizationStatus returns the world sensing status.
func (a *Adapter) AuthorizationStatus() tracking.AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.authorization[tracking.WorldSensing]; ok {
		return st
	}
	return tracking.AuthorizationNotDetermined
}

// ProvidersStoppedWithError reports whether a provider stopped because of a
// failure since the session last began.
func (a *Adapter) ProvidersStoppedWithError() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.providersStoppedWithError
}

// Running reports whether the session is believed to be running.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// AllRequiredAuthorizationsGranted reports whether every required
// authorization is allowed.
func (a *Adapter) AllRequiredAuthorizationsGranted() bool {
	required := a.requiredAuthorizations()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range required {
		if a.authorization[t] != tracking.AuthorizationAllowed {
			return false
		}
	}
	return true
}

// AllRequiredProvidersSupported reports whether every provider can run on
// this device.
func (a *Adapter) AllRequiredProvidersSupported() bool {
	for _, p := range a.providers {
		if !p.IsSupported() {
			return false
		}
	}
	return true
}

// CanEnterImmersiveSpace reports whether the interactive mode may start.
func (a *Adapter) CanEnterImmersiveSpace() bool {
	return a.AllRequiredAuthorizationsGranted() && a.AllRequiredProvidersSupported()
}
