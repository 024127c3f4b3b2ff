// Package sim is an in-process tracking subsystem. It backs the binary when
// no headset runtime is present and drives the integration tests: the
// caller scripts the device pose, injects planes and decides the outcome of
// authorization prompts and anchor requests.
package sim

import (
	"sync"

	"github.com/banshee-data/planeplopper/internal/tracking"
)

// updateBuffer is the capacity of each provider's anchor update channel.
const updateBuffer = 256

// provider is implemented by every simulated provider so Session.Run can
// start and stop it.
type provider interface {
	tracking.Provider
	start(emit func(tracking.SessionEvent))
	stop(err error)
}

// lifecycle is the state shared by simulated providers.
type lifecycle struct {
	name      string
	supported bool
	auth      []tracking.AuthorizationType

	mu    sync.Mutex
	state tracking.ProviderState
	emit  func(tracking.SessionEvent)

	done     chan struct{}
	stopOnce sync.Once
}

func (l *lifecycle) init(name string, supported bool, auth ...tracking.AuthorizationType) {
	l.name = name
	l.supported = supported
	l.auth = auth
	l.state = tracking.ProviderInitialized
	l.done = make(chan struct{})
}

func (l *lifecycle) Name() string { return l.name }

func (l *lifecycle) IsSupported() bool { return l.supported }

func (l *lifecycle) RequiredAuthorizations() []tracking.AuthorizationType {
	out := make([]tracking.AuthorizationType, len(l.auth))
	copy(out, l.auth)
	return out
}

func (l *lifecycle) State() tracking.ProviderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// running must be called with l.mu held.
func (l *lifecycle) running() bool { return l.state == tracking.ProviderRunning }

// setState changes the state and reports it on the session event stream.
func (l *lifecycle) setState(state tracking.ProviderState, err error) {
	l.mu.Lock()
	if l.state == tracking.ProviderStopped || l.state == state {
		l.mu.Unlock()
		return
	}
	l.state = state
	emit := l.emit
	l.mu.Unlock()
	if emit != nil {
		emit(tracking.SessionEvent{
			Kind:      tracking.EventProviderStateChanged,
			Providers: []string{l.name},
			State:     state,
			Err:       err,
		})
	}
}

// halt stops the provider for good. closeUpdates runs under l.mu once the
// state is stopped, so no publisher can send on the closed channel.
func (l *lifecycle) halt(err error, closeUpdates func()) {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		wasStopped := l.state == tracking.ProviderStopped
		l.state = tracking.ProviderStopped
		closeUpdates()
		emit := l.emit
		l.mu.Unlock()
		if emit != nil && !wasStopped {
			emit(tracking.SessionEvent{
				Kind:      tracking.EventProviderStateChanged,
				Providers: []string{l.name},
				State:     tracking.ProviderStopped,
				Err:       err,
			})
		}
	})
}

// Pause moves a running provider to the paused state.
func (l *lifecycle) Pause() { l.setState(tracking.ProviderPaused, nil) }

// Resume moves a paused provider back to running.
func (l *lifecycle) Resume() {
	l.mu.Lock()
	paused := l.state == tracking.ProviderPaused
	l.mu.Unlock()
	if paused {
		l.setState(tracking.ProviderRunning, nil)
	}
}
