package bullwark

import (
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/bullwark/pkg/idx"
)

// Event names a lifecycle notification.
type Event string

const (
	EventUserHydrated       Event = "userHydrated"
	EventUserLoggedIn       Event = "userLoggedIn"
	EventUserRefreshed      Event = "userRefreshed"
	EventUserLoggedOut      Event = "userLoggedOut"
	EventBullwarkLoaded     Event = "bullwarkLoaded"
	EventSessionInvalidated Event = "sessionInvalidated"
)

// Payload accompanies an event. User is set for hydrated, logged in and
// refreshed; Err for sessionInvalidated.
type Payload struct {
	User *User
	Err  error
}

type Handler func(Event, Payload)

// Subscription identifies a registered handler for Off.
type Subscription idx.ID

type subscriber struct {
	id    Subscription
	event Event
	fn    Handler
}

// Emitter is a small publish/subscribe hub. Handlers run synchronously on
// the emitting goroutine, in subscription order, outside the lock. Each
// handler gets its own copy of the user.
type Emitter struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs []subscriber
}

func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger}
}

// On registers fn for event and returns a handle for Off.
func (e *Emitter) On(event Event, fn Handler) Subscription {
	id := Subscription(idx.New())
	e.mu.Lock()
	e.subs = append(e.subs, subscriber{id: id, event: event, fn: fn})
	e.mu.Unlock()
	return id
}

// Off removes a subscription. Unknown handles are ignored.
func (e *Emitter) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == sub {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every handler registered for event. A panicking handler is
// logged and does not stop the others.
func (e *Emitter) Emit(event Event, p Payload) {
	e.mu.Lock()
	var fns []Handler
	for _, s := range e.subs {
		if s.event == event {
			fns = append(fns, s.fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		e.call(fn, event, p)
	}
}

func (e *Emitter) call(fn Handler, event Event, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	fn(event, Payload{User: p.User.Clone(), Err: p.Err})
}
