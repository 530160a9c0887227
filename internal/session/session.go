// Package session holds the client-side state of one order on one screen:
// the last authoritative snapshot, an optional optimistic patch on top of it
// and the action currently in flight.
package session

import (
	"errors"
	"sync"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/lifecycle"
)

var (
	ErrActionInFlight = errors.New("another action is already in progress for this order")
	ErrDetached       = errors.New("order session is no longer active")
)

// Update is what watchers receive after every state change.
type Update struct {
	Order     domain.Order   `json:"order"`
	View      lifecycle.View `json:"view"`
	Seq       uint64         `json:"seq"`
	Tentative bool           `json:"tentative,omitempty"`
	Gone      bool           `json:"gone,omitempty"`
}

type Session struct {
	mu sync.Mutex

	orderID       string
	authoritative *domain.Order
	current       *domain.Order
	seq           uint64
	tentative     bool

	inFlight lifecycle.Action
	detached bool
	gone     bool

	watchers    map[int]chan Update
	nextWatcher int
}

func New(orderID string) *Session {
	return &Session{
		orderID:  orderID,
		watchers: make(map[int]chan Update),
	}
}

func (s *Session) OrderID() string {
	return s.orderID
}

// Apply replaces the state with an authoritative snapshot produced by the
// request stamped seq. Snapshots from requests older than the one already
// applied are discarded, as is everything after Detach. Any tentative patch
// is dropped.
func (s *Session) Apply(seq uint64, o domain.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached || o.ID != s.orderID {
		return false
	}
	if s.authoritative != nil && seq < s.seq {
		return false
	}

	auth := o.Clone()
	cur := o.Clone()
	s.authoritative = &auth
	s.current = &cur
	s.seq = seq
	s.tentative = false
	s.gone = false

	s.notify()
	return true
}

// ApplyTentative shows patch applied to the authoritative snapshot until the
// next Apply or DiscardTentative. It reports false when there is nothing to
// patch.
func (s *Session) ApplyTentative(patch func(o *domain.Order)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached || s.authoritative == nil {
		return false
	}

	cur := s.authoritative.Clone()
	patch(&cur)
	s.current = &cur
	s.tentative = true

	s.notify()
	return true
}

func (s *Session) DiscardTentative() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tentative || s.authoritative == nil {
		return
	}

	cur := s.authoritative.Clone()
	s.current = &cur
	s.tentative = false

	s.notify()
}

// Snapshot returns the order as it should be displayed, tentative patch
// included.
func (s *Session) Snapshot() (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return domain.Order{}, false
	}
	return s.current.Clone(), true
}

// Authoritative returns the last snapshot received from the order service.
func (s *Session) Authoritative() (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authoritative == nil {
		return domain.Order{}, false
	}
	return s.authoritative.Clone(), true
}

func (s *Session) View() (lifecycle.View, bool) {
	o, ok := s.Snapshot()
	if !ok {
		return lifecycle.View{}, false
	}
	return lifecycle.Derive(o), true
}

func (s *Session) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Session) Tentative() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tentative
}

// Begin takes the per-order action slot. The returned release frees it and may
// be called more than once.
func (s *Session) Begin(action lifecycle.Action) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return nil, ErrDetached
	}
	if s.inFlight != "" {
		return nil, ErrActionInFlight
	}
	s.inFlight = action

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inFlight = ""
			s.mu.Unlock()
		})
	}, nil
}

// InFlight reports the action currently holding the slot.
func (s *Session) InFlight() (lifecycle.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight, s.inFlight != ""
}

// MarkGone records that the order no longer resolves on the server.
func (s *Session) MarkGone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached || s.gone {
		return
	}
	s.gone = true
	s.notify()
}

func (s *Session) Gone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}

// Watch returns a channel that receives the latest state after every change.
// Slow readers only see the most recent update. The channel is closed by
// the returned cancel func or by Detach.
func (s *Session) Watch() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, 1)
	if s.detached {
		close(ch)
		return ch, func() {}
	}

	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch

	if s.current != nil || s.gone {
		ch <- s.update()
	}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// Detach ends the session. Later results are ignored and watchers are
// released.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}
	s.detached = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}

func (s *Session) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// update must be called with mu held.
func (s *Session) update() Update {
	u := Update{Seq: s.seq, Tentative: s.tentative, Gone: s.gone}
	if s.current != nil {
		u.Order = s.current.Clone()
		u.View = lifecycle.Derive(u.Order)
	}
	return u
}

// notify must be called with mu held.
func (s *Session) notify() {
	if len(s.watchers) == 0 {
		return
	}

	u := s.update()
	for _, ch := range s.watchers {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}
