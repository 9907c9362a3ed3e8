package registry

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// ErrUnknownID indicates a sub-id or request id with no registration.
var ErrUnknownID = errors.New("unknown id")

// ErrObsIDCollision indicates a (name, payload) pair whose obs-id is already
// taken by a different observable. Obs-ids are 24 bits wide, so distinct
// pairs can hash to the same id; the second one cannot be subscribed while
// the first is registered.
var ErrObsIDCollision = errors.New("obs-id is taken by a different observable")

// MaxRequestID is the largest request id; ids travel in a 3-byte field.
const MaxRequestID = 1<<24 - 1

// SubID identifies one observe subscription or one pending getter.
type SubID uint32

// Callback signatures. Exactly one of value and err is meaningful.
type (
	// ObserveFunc receives every update of an observed value.
	ObserveFunc func(value []byte, checksum uint64, err error)

	// GetFunc receives the single result of a get.
	GetFunc func(value []byte, err error)

	// FunctionFunc receives the single result of a function call.
	FunctionFunc func(result []byte, err error)

	// AuthFunc receives the server's answer to an auth request.
	AuthFunc func(state string, err error)
)

// Observable is one server-side subscription target.
type Observable struct {
	ObsID uint32
	Name  string

	// Payload is the canonical JSON payload, nil when none was given.
	Payload []byte

	// Subscribed is set while a subscription frame has been issued for the
	// observable and no unsubscribe has followed.
	Subscribed bool

	// GetInFlight is set while a get frame has been issued and not answered.
	GetInFlight bool

	observers []SubID
	getters   []SubID
}

// Observers returns the number of observe subscriptions.
func (o *Observable) Observers() int { return len(o.observers) }

// Getters returns the number of pending getters.
func (o *Observable) Getters() int { return len(o.getters) }

func (o *Observable) empty() bool {
	return len(o.observers) == 0 && len(o.getters) == 0
}

type kind uint8

const (
	kindObserve kind = iota
	kindGet
)

type subscription struct {
	obsID    uint32
	kind     kind
	onData   ObserveFunc
	onResult GetFunc
	timer    *time.Timer
}

// Call is an in-flight function request.
type Call struct {
	ID       uint32
	Name     string
	Callback FunctionFunc

	// Sent is set once the request frame has been written to a live
	// connection. Unsent calls survive a disconnect in the queue.
	Sent bool

	Timer *time.Timer
}

// AuthRequest is the in-flight auth request.
type AuthRequest struct {
	ID       uint32
	Callback AuthFunc
	Timer    *time.Timer
}

// Registry owns all subscription and request bookkeeping.
//
// Observables live in a table keyed by obs-id. Subscriptions refer to their
// observable by obs-id and observables list their subscriptions by sub-id.
// A Registry is not safe for concurrent use.
type Registry struct {
	observables map[uint32]*Observable
	order       []uint32
	subs        map[SubID]*subscription

	calls       map[uint32]*Call
	lastRequest uint32

	auth      *AuthRequest
	authState string
	hasAuth   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		observables: make(map[uint32]*Observable),
		subs:        make(map[SubID]*subscription),
		calls:       make(map[uint32]*Call),
	}
}

// subIDs generates sub-ids that are unique for the process lifetime.
var subIDs atomic.Uint32

func nextSubID() SubID {
	return SubID(subIDs.Add(1))
}

// Observable returns the observable for obsID, or nil.
func (r *Registry) Observable(obsID uint32) *Observable {
	return r.observables[obsID]
}

// Observables returns all observables in creation order.
func (r *Registry) Observables() []*Observable {
	out := make([]*Observable, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.observables[id])
	}
	return out
}

// Len returns the number of observables.
func (r *Registry) Len() int {
	return len(r.observables)
}

// Check reports ErrObsIDCollision if obsID belongs to an observable other
// than (name, payload).
func (r *Registry) Check(obsID uint32, name string, payload []byte) error {
	o, ok := r.observables[obsID]
	if !ok || (o.Name == name && bytes.Equal(o.Payload, payload)) {
		return nil
	}
	return fmt.Errorf("%w: %d already serves %q %s", ErrObsIDCollision, obsID, o.Name, o.Payload)
}

func (r *Registry) ensure(obsID uint32, name string, payload []byte) (*Observable, bool) {
	if o, ok := r.observables[obsID]; ok {
		return o, false
	}
	o := &Observable{ObsID: obsID, Name: name, Payload: payload}
	r.observables[obsID] = o
	r.order = append(r.order, obsID)
	return o, true
}

func (r *Registry) drop(obsID uint32) {
	delete(r.observables, obsID)
	if i := slices.Index(r.order, obsID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// AddObserver registers cb for obsID, creating the observable if needed.
func (r *Registry) AddObserver(obsID uint32, name string, payload []byte, cb ObserveFunc) (SubID, *Observable, bool) {
	o, created := r.ensure(obsID, name, payload)
	id := nextSubID()
	r.subs[id] = &subscription{obsID: obsID, kind: kindObserve, onData: cb}
	o.observers = append(o.observers, id)
	return id, o, created
}

// AddGetter registers a one-shot cb for obsID, creating the observable if
// needed.
func (r *Registry) AddGetter(obsID uint32, name string, payload []byte, cb GetFunc) (SubID, *Observable, bool) {
	o, created := r.ensure(obsID, name, payload)
	id := nextSubID()
	r.subs[id] = &subscription{obsID: obsID, kind: kindGet, onResult: cb}
	o.getters = append(o.getters, id)
	return id, o, created
}

// SetGetterTimer attaches an expiry timer to a getter. It is stopped when
// the getter is resolved.
func (r *Registry) SetGetterTimer(id SubID, t *time.Timer) {
	if s, ok := r.subs[id]; ok && s.kind == kindGet {
		s.timer = t
	}
}

// RemoveObserver removes an observe subscription. It returns the owning
// observable and whether that observable was deleted because nothing else
// refers to it.
func (r *Registry) RemoveObserver(id SubID) (*Observable, bool, error) {
	s, ok := r.subs[id]
	if !ok || s.kind != kindObserve {
		return nil, false, ErrUnknownID
	}
	delete(r.subs, id)

	o := r.observables[s.obsID]
	o.observers = slices.DeleteFunc(o.observers, func(x SubID) bool { return x == id })
	if o.empty() {
		r.drop(o.ObsID)
		return o, true, nil
	}
	return o, false, nil
}

// RemoveGetter removes a pending getter without resolving it and returns
// its callback.
func (r *Registry) RemoveGetter(id SubID) (GetFunc, *Observable, bool, error) {
	s, ok := r.subs[id]
	if !ok || s.kind != kindGet {
		return nil, nil, false, ErrUnknownID
	}
	delete(r.subs, id)

	o := r.observables[s.obsID]
	o.getters = slices.DeleteFunc(o.getters, func(x SubID) bool { return x == id })
	if len(o.getters) == 0 {
		o.GetInFlight = false
	}
	if o.empty() {
		r.drop(o.ObsID)
		return s.onResult, o, true, nil
	}
	return s.onResult, o, false, nil
}

// ObserverFuncs returns the observe callbacks for obsID in subscription order.
func (r *Registry) ObserverFuncs(obsID uint32) []ObserveFunc {
	o, ok := r.observables[obsID]
	if !ok {
		return nil
	}
	out := make([]ObserveFunc, 0, len(o.observers))
	for _, id := range o.observers {
		out = append(out, r.subs[id].onData)
	}
	return out
}

// TakeGetters removes and returns every pending getter of obsID in
// registration order. The second result reports whether the observable was
// deleted as a consequence.
func (r *Registry) TakeGetters(obsID uint32) ([]GetFunc, bool) {
	o, ok := r.observables[obsID]
	if !ok || len(o.getters) == 0 {
		return nil, false
	}
	out := make([]GetFunc, 0, len(o.getters))
	for _, id := range o.getters {
		s := r.subs[id]
		if s.timer != nil {
			s.timer.Stop()
		}
		out = append(out, s.onResult)
		delete(r.subs, id)
	}
	o.getters = nil
	o.GetInFlight = false
	if o.empty() {
		r.drop(obsID)
		return out, true
	}
	return out, false
}

// SubscriptionObsID returns the obs-id a sub-id refers to.
func (r *Registry) SubscriptionObsID(id SubID) (uint32, bool) {
	s, ok := r.subs[id]
	if !ok {
		return 0, false
	}
	return s.obsID, true
}

// NextRequestID returns a free request id in [1, MaxRequestID].
func (r *Registry) NextRequestID() uint32 {
	for {
		r.lastRequest++
		if r.lastRequest > MaxRequestID {
			r.lastRequest = 1
		}
		id := r.lastRequest
		if _, busy := r.calls[id]; busy {
			continue
		}
		if r.auth != nil && r.auth.ID == id {
			continue
		}
		return id
	}
}

// AddCall registers a pending function call under a fresh request id.
func (r *Registry) AddCall(name string, cb FunctionFunc) *Call {
	c := &Call{ID: r.NextRequestID(), Name: name, Callback: cb}
	r.calls[c.ID] = c
	return c
}

// Call returns the pending call with id, or nil.
func (r *Registry) Call(id uint32) *Call {
	return r.calls[id]
}

// TakeCall removes and returns the pending call with id.
func (r *Registry) TakeCall(id uint32) (*Call, bool) {
	c, ok := r.calls[id]
	if !ok {
		return nil, false
	}
	delete(r.calls, id)
	if c.Timer != nil {
		c.Timer.Stop()
	}
	return c, true
}

// TakeSentCalls removes and returns every call already written to the
// connection, ordered by request id.
func (r *Registry) TakeSentCalls() []*Call {
	var out []*Call
	for id, c := range r.calls {
		if c.Sent {
			out = append(out, c)
			delete(r.calls, id)
			if c.Timer != nil {
				c.Timer.Stop()
			}
		}
	}
	slices.SortFunc(out, func(a, b *Call) int { return int(a.ID) - int(b.ID) })
	return out
}

// PendingCalls returns the number of in-flight function calls.
func (r *Registry) PendingCalls() int {
	return len(r.calls)
}

// SetAuth stores state as the current auth state and registers cb as the
// in-flight auth request. A previous in-flight request is superseded and
// its callback is dropped without being invoked.
func (r *Registry) SetAuth(state string, cb AuthFunc) *AuthRequest {
	if r.auth != nil && r.auth.Timer != nil {
		r.auth.Timer.Stop()
	}
	r.auth = nil
	r.authState = state
	r.hasAuth = true
	r.auth = &AuthRequest{ID: r.NextRequestID(), Callback: cb}
	return r.auth
}

// Auth returns the in-flight auth request, or nil.
func (r *Registry) Auth() *AuthRequest {
	return r.auth
}

// TakeAuth clears and returns the in-flight auth request if its id matches.
// Id 0 matches any request, for servers that do not echo the id.
func (r *Registry) TakeAuth(id uint32) (*AuthRequest, bool) {
	if r.auth == nil || (id != 0 && r.auth.ID != id) {
		return nil, false
	}
	a := r.auth
	r.auth = nil
	if a.Timer != nil {
		a.Timer.Stop()
	}
	return a, true
}

// AuthState returns the current auth state and whether one is set.
func (r *Registry) AuthState() (string, bool) {
	return r.authState, r.hasAuth
}

// ClearAuthState forgets the stored auth state.
func (r *Registry) ClearAuthState() {
	r.authState = ""
	r.hasAuth = false
}
