package tasksync

import (
	"fmt"
	"sync"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/model"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
)

// State is the subscription lifecycle state.
type State int

const (
	// StateUnsubscribed means there is no session, or it is still resolving.
	StateUnsubscribed State = iota
	// StateLoading means a subscription was opened and no snapshot arrived yet.
	StateLoading
	// StateLive means the list reflects the latest snapshot.
	StateLive
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is what the presentation layer renders: the ordered task list and
// whether it is still loading.
type View struct {
	State    State        `json:"state"`
	Tasks    []model.Task `json:"tasks"`
	Loading  bool         `json:"loading"`
	UserID   string       `json:"user_id,omitempty"`
	SyncedAt time.Time    `json:"synced_at,omitzero"`
}

func (v View) clone() View {
	v.Tasks = cloneTasks(v.Tasks)
	return v
}

// View returns a copy of the current view. Run applies identity changes
// asynchronously, so until it has caught up with the session the view is
// derived from the session alone and never carries another user's tasks.
func (s *Service) View() View {
	cur := s.identities.Current()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return scoped(s.view, cur).clone()
}

// scoped returns v if it belongs to the session in cur, otherwise the empty
// view the loop is about to install for cur.
func scoped(v View, cur session.State) View {
	user := cur.UserID()
	switch {
	case cur.Resolving:
		if v.State == StateUnsubscribed && v.UserID == "" && v.Loading {
			return v
		}
		return View{State: StateUnsubscribed, Tasks: []model.Task{}, Loading: true}
	case v.UserID == user:
		return v
	case user == "":
		return View{State: StateUnsubscribed, Tasks: []model.Task{}}
	default:
		return View{State: StateLoading, Tasks: []model.Task{}, Loading: true, UserID: user}
	}
}

// Watch returns a channel that carries the current view immediately and then
// every change Run makes. Only the newest undelivered view is kept. Readers
// that may lag behind a session change should render View() on each wake-up.
func (s *Service) Watch() (<-chan View, func()) {
	ch := make(chan View, 1)

	cur := s.identities.Current()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = ch
	ch <- scoped(s.view, cur).clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Filtered applies a filter and search query to the list and counts the
// unfiltered list.
func (v View) Filtered(f model.Filter, q string, now time.Time) ([]model.Task, model.Counts) {
	return model.Apply(v.Tasks, f, q, now), model.CountTasks(v.Tasks, now)
}

// setView replaces the view atomically and wakes watchers.
func (s *Service) setView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.view = v
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- v.clone()
	}
	s.metrics.SetTasks(len(v.Tasks))
}
