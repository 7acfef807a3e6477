// Package session holds the process-wide identity of the signed-in user.
//
// A Provider starts out resolving. Resolve settles it on startup (restoring a
// persisted sign-in or none), SignIn and SignOut move it afterwards. The
// synchronization service watches it to scope its live query.
package session

import (
	"sync"
)

// Identity is an authenticated user.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// State is the provider's current view: an identity (nil when signed out) and
// whether session resolution is still pending.
type State struct {
	Identity  *Identity `json:"identity"`
	Resolving bool      `json:"resolving"`
}

// UserID returns the signed-in user id, or "" when there is none.
func (s State) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.UserID
}

// Provider owns the current State and notifies watchers of every change.
type Provider struct {
	mu       sync.Mutex
	state    State
	nextID   uint64
	watchers map[uint64]chan State
}

// NewProvider returns a Provider that is still resolving.
func NewProvider() *Provider {
	return &Provider{
		state:    State{Resolving: true},
		watchers: make(map[uint64]chan State),
	}
}

// Current returns a copy of the current state.
func (p *Provider) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyState(p.state)
}

// Resolve finishes session resolution with id, which may be nil.
func (p *Provider) Resolve(id *Identity) {
	p.set(State{Identity: id})
}

// SignIn replaces the current identity.
func (p *Provider) SignIn(id Identity) {
	p.set(State{Identity: &id})
}

// SignOut clears the current identity.
func (p *Provider) SignOut() {
	p.set(State{})
}

// Watch returns a channel that immediately carries the current state and then
// every later state. Only the latest undelivered state is kept, so a slow
// reader skips intermediate states but always ends up on the newest one.
func (p *Provider) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.watchers[id] = ch
	ch <- copyState(p.state)
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
		})
	}
	return ch, cancel
}

func (p *Provider) set(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = copyState(s)
	for _, ch := range p.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- copyState(s)
	}
}

func copyState(s State) State {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}
