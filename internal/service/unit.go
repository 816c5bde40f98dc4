package service

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ingate/ingate/pkg/logger"
)

// Unit is the invocable resource wrapped by a ManagedUnit: one
// server-side request handler instance. Serve may return an
// *errors.UnavailableError to drive the unit's availability state
// machine; any other error is an unclassified invocation failure.
type Unit interface {
	Serve(w http.ResponseWriter, r *http.Request) error
}

// UnitFunc adapts a function to the Unit interface
type UnitFunc func(w http.ResponseWriter, r *http.Request) error

// Serve implements Unit
func (f UnitFunc) Serve(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// InstanceHandle is a scoped handle to a unit instance. Every Acquire
// is matched by exactly one Release on every exit path.
type InstanceHandle interface {
	Instance() Unit
	Release()
}

// InstanceProvider supplies scoped handles to the invocable resource
// and releases all resources when stopped
type InstanceProvider interface {
	Acquire() (InstanceHandle, error)
	Stop()
}

// singletonHandle is the handle flavour returned by SingletonProvider
type singletonHandle struct {
	unit Unit
}

func (h *singletonHandle) Instance() Unit { return h.unit }
func (h *singletonHandle) Release()       {}

// SingletonProvider serves one shared unit instance. It is the common
// case: the instance is created lazily on first acquire and retired
// when the provider stops.
type SingletonProvider struct {
	factory func() (Unit, error)

	mu      sync.Mutex
	unit    Unit
	stopped bool
}

// NewSingletonProvider creates a provider around a unit factory
func NewSingletonProvider(factory func() (Unit, error)) *SingletonProvider {
	return &SingletonProvider{factory: factory}
}

// Acquire implements InstanceProvider
func (p *SingletonProvider) Acquire() (InstanceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, fmt.Errorf("provider is stopped")
	}
	if p.unit == nil {
		unit, err := p.factory()
		if err != nil {
			return nil, err
		}
		p.unit = unit
	}
	return &singletonHandle{unit: p.unit}, nil
}

// Stop implements InstanceProvider
func (p *SingletonProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.unit = nil
}

// ManagedUnit wraps an invocable resource with its availability
// lifecycle. Availability is the only state shared across goroutines
// and is manipulated exclusively through atomics: a permanent flag that
// is terminal once set, and a unix-millisecond backoff deadline that
// self-heals when it passes.
type ManagedUnit struct {
	name           string
	provider       InstanceProvider
	asyncSupported bool

	permanentlyUnavailable atomic.Bool
	unavailableUntil       atomic.Int64

	logger *logger.Logger
}

// NewManagedUnit registers a unit under the given name
func NewManagedUnit(name string, provider InstanceProvider, asyncSupported bool, log *logger.Logger) *ManagedUnit {
	return &ManagedUnit{
		name:           name,
		provider:       provider,
		asyncSupported: asyncSupported,
		logger:         log.UnitLogger(name),
	}
}

// Name returns the unit's registration name
func (u *ManagedUnit) Name() string {
	return u.name
}

// AsyncSupported reports whether the unit supports asynchronous
// continuation
func (u *ManagedUnit) AsyncSupported() bool {
	return u.asyncSupported
}

// Acquire obtains a scoped handle to the unit instance
func (u *ManagedUnit) Acquire() (InstanceHandle, error) {
	return u.provider.Acquire()
}

// IsPermanentlyUnavailable reports whether the unit has been retired
func (u *ManagedUnit) IsPermanentlyUnavailable() bool {
	return u.permanentlyUnavailable.Load()
}

// MarkPermanentlyUnavailable retires the unit forever and releases its
// resources. Terminal; there is no way back.
func (u *ManagedUnit) MarkPermanentlyUnavailable() {
	if u.permanentlyUnavailable.CompareAndSwap(false, true) {
		u.provider.Stop()
		u.logger.Warn("Unit stopped due to permanent unavailability")
	}
}

// UnavailableUntil returns the backoff deadline in unix milliseconds,
// or zero if no backoff window is open
func (u *ManagedUnit) UnavailableUntil() int64 {
	return u.unavailableUntil.Load()
}

// SetUnavailableFor opens a backoff window of the given duration
func (u *ManagedUnit) SetUnavailableFor(d time.Duration) {
	until := time.Now().Add(d).UnixMilli()
	u.unavailableUntil.Store(until)
	u.logger.WithField("until", time.UnixMilli(until)).Warn("Unit temporarily unavailable")
}

// ClearUnavailableDeadline clears an expired backoff deadline. Only one
// racer need win; losers proceed regardless, which is a tolerated
// benign race during the recovery window.
func (u *ManagedUnit) ClearUnavailableDeadline(until int64) bool {
	return u.unavailableUntil.CompareAndSwap(until, 0)
}
