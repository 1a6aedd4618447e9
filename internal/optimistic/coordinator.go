package optimistic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/toggle"
	"go.uber.org/zap"
)

var (
	// ErrToggleInFlight rejects a toggle on a key whose previous toggle has not resolved
	ErrToggleInFlight = errors.New("toggle already in flight")
	// ErrUnknownState rejects a toggle on a key that was never loaded or seeded
	ErrUnknownState = errors.New("relation state not loaded")
	// ErrTargetGone rejects a toggle on a target the server reported missing
	ErrTargetGone = errors.New("target no longer exists")
)

// Toggler is the remote toggle API
type Toggler interface {
	Toggle(ctx context.Context, targetID string, kind models.RelationKind) (toggle.Result, error)
	Status(ctx context.Context, targetID string, kind models.RelationKind) (toggle.Result, error)
}

// Session reports whether the current user is signed in
type Session interface {
	Authenticated() bool
}

// Coordinator keeps per-control prediction state for one UI session.
// It predicts a toggle immediately, then keeps or rolls back the prediction
// when the server answers. It never retries on its own.
type Coordinator struct {
	toggler  Toggler
	session  Session
	logger   *zap.Logger
	timeout  time.Duration
	onChange func(Key, State)

	mu      sync.Mutex
	entries map[Key]*entry
	gen     uint64
}

type entry struct {
	state State
	gen   uint64
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithListener registers fn to be called after every state change.
// fn is called without the coordinator lock held.
func WithListener(fn func(Key, State)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// WithTimeout bounds each remote toggle call
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLogger sets the logger used for failure notices
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a Coordinator
func NewCoordinator(toggler Toggler, session Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		toggler: toggler,
		session: session,
		logger:  zap.NewNop(),
		timeout: 10 * time.Second,
		entries: make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state of a key; Unknown if it is not tracked
func (c *Coordinator) State(targetID string, kind models.RelationKind) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[Key{targetID, kind}]; ok {
		return e.state
	}
	return State{}
}

// Seed records server-provided state. A key with a toggle in flight keeps its prediction.
func (c *Coordinator) Seed(targetID string, kind models.RelationKind, active bool, count int) State {
	key := Key{targetID, kind}
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.state.Pending {
		st := e.state
		c.mu.Unlock()
		return st
	}
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.state = State{Phase: Known, Active: active, Count: count}
	st := e.state
	c.mu.Unlock()

	c.notify(key, st)
	return st
}

// Load fetches the state of a key from the server and seeds it
func (c *Coordinator) Load(ctx context.Context, targetID string, kind models.RelationKind) (State, error) {
	if !c.session.Authenticated() {
		return State{}, toggle.ErrUnauthenticated
	}
	res, err := c.toggler.Status(ctx, targetID, kind)
	if err != nil {
		return State{}, err
	}
	return c.Seed(targetID, kind, res.Active, res.Count), nil
}

// Toggle applies the predicted state immediately and returns it together with
// a channel that receives exactly one Outcome once the server call resolves.
// The remote call is not cancelled when ctx is; it is bounded by the coordinator timeout.
func (c *Coordinator) Toggle(ctx context.Context, targetID string, kind models.RelationKind) (State, <-chan Outcome, error) {
	if !c.session.Authenticated() {
		return State{}, nil, toggle.ErrUnauthenticated
	}

	key := Key{targetID, kind}
	c.mu.Lock()
	e, ok := c.entries[key]
	switch {
	case !ok || e.state.Phase == Unknown:
		c.mu.Unlock()
		return State{}, nil, ErrUnknownState
	case e.state.Gone:
		st := e.state
		c.mu.Unlock()
		return st, nil, ErrTargetGone
	case e.state.Pending:
		st := e.state
		c.mu.Unlock()
		return st, nil, ErrToggleInFlight
	}

	snapshot := e.state
	predicted := snapshot.predict()
	e.state = predicted
	c.gen++
	e.gen = c.gen
	gen := e.gen
	c.mu.Unlock()

	c.notify(key, predicted)

	done := make(chan Outcome, 1)
	go c.resolve(context.WithoutCancel(ctx), key, gen, snapshot, predicted, done)
	return predicted, done, nil
}

func (c *Coordinator) resolve(ctx context.Context, key Key, gen uint64, snapshot, predicted State, done chan<- Outcome) {
	defer close(done)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.toggler.Toggle(ctx, key.TargetID, key.Kind)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		done <- Outcome{Key: key, Err: err, Discarded: true}
		return
	}

	out := Outcome{Key: key, Err: err}
	if err != nil {
		st := snapshot
		st.Pending = false
		if errors.Is(err, toggle.ErrTargetNotFound) {
			st.Gone = true
		}
		out.State = st
		out.RolledBack = true
	} else {
		// only this actor's toggle moves this actor's flag; the count follows the server
		st := predicted
		st.Pending = false
		st.Count = res.Count
		out.State = st
	}
	e.state = out.State
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Toggle failed, rolled back",
			zap.String("target_id", key.TargetID),
			zap.String("kind", string(key.Kind)),
			zap.Error(err),
		)
	}
	c.notify(key, out.State)
	done <- out
}

// Forget drops a key, e.g. when its view unmounts. An in-flight call still
// completes on the server but its result is discarded locally.
func (c *Coordinator) Forget(targetID string, kind models.RelationKind) {
	c.mu.Lock()
	delete(c.entries, Key{targetID, kind})
	c.mu.Unlock()
}

func (c *Coordinator) notify(key Key, st State) {
	if c.onChange != nil {
		c.onChange(key, st)
	}
}
