// Package engine owns a game's canonical event log. Commands are validated
// against the projected state, turned into events by the rules and the card
// registry, and appended only when every event applies cleanly.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"dominion/internal/cards"
	"dominion/internal/domain"
	"dominion/internal/projector"
)

// Journal persists appended events. A failing journal rejects the command.
type Journal interface {
	Append(ctx context.Context, events []domain.Event) error
	// Truncate removes every event after seq.
	Truncate(ctx context.Context, afterSeq int64) error
}

// Update is delivered to subscribers after every change to the log.
type Update struct {
	Events []domain.Event
	State  domain.GameState
	// Reset is set when the log was replaced or truncated rather than extended.
	Reset bool
	// After is the seq of the event that preceded Events in the log.
	After int64
}

type Listener func(Update)

type Options struct {
	Registry *cards.Registry
	Journal  Journal
	Logger   *log.Logger
	Now      func() time.Time
	// ReadOnly engines only accept events from elsewhere.
	ReadOnly bool
}

type Engine struct {
	mu        sync.Mutex
	registry  *cards.Registry
	journal   Journal
	logger    *log.Logger
	now       func() time.Time
	readOnly  bool
	log       []domain.Event
	state     domain.GameState
	counter   int64
	listeners map[int]Listener
	nextSub   int
	// outbox holds committed updates not yet handed to listeners.
	outbox     []delivery
	delivering bool
}

type delivery struct {
	listeners []Listener
	update    Update
}

type Setup struct {
	Players []string
	Kingdom []domain.CardName
	Seed    int64
	Rules   domain.Rules
}

func New(opts Options) *Engine {
	e := &Engine{
		registry:  opts.Registry,
		journal:   opts.Journal,
		logger:    opts.Logger,
		now:       opts.Now,
		readOnly:  opts.ReadOnly,
		listeners: map[int]Listener{},
	}
	if e.registry == nil {
		e.registry = cards.NewRegistry()
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Start appends the opening events: setup, each player's first hand, turn 1.
func (e *Engine) Start(ctx context.Context, setup Setup) ([]domain.Event, error) {
	if err := validateSetup(setup); err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.state.Started() {
		e.mu.Unlock()
		return nil, reject(CodeAlreadyStarted, "game already started")
	}
	t := e.begin()
	err := t.append(domain.GameInitialized{
		Players:      append([]string(nil), setup.Players...),
		Kingdom:      append([]domain.CardName(nil), setup.Kingdom...),
		Supply:       domain.SupplyFor(len(setup.Players), setup.Kingdom),
		StartingDeck: domain.StartingDeck(),
		Seed:         setup.Seed,
		Rules:        setup.Rules,
	})
	for _, p := range setup.Players {
		if err != nil {
			break
		}
		err = e.draw(t, p, 5)
	}
	if err == nil {
		err = t.append(domain.TurnStarted{Player: setup.Players[0], Turn: 1})
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return e.commitAndUnlock(ctx, t)
}

func validateSetup(setup Setup) error {
	if len(setup.Players) < 1 || len(setup.Players) > 4 {
		return reject(CodeInvalidSetup, "need 1 to 4 players, got %d", len(setup.Players))
	}
	seen := map[domain.CardName]bool{}
	for _, k := range setup.Kingdom {
		c, ok := domain.Lookup(k)
		if !ok {
			return reject(CodeUnknownCard, "unknown kingdom card %q", k)
		}
		for _, b := range domain.BasicCards() {
			if b == c.Name {
				return reject(CodeInvalidSetup, "%s is not a kingdom card", k)
			}
		}
		if seen[k] {
			return reject(CodeInvalidSetup, "duplicate kingdom card %s", k)
		}
		seen[k] = true
	}
	return nil
}

// Dispatch validates cmd and appends the events it produces.
func (e *Engine) Dispatch(ctx context.Context, cmd domain.Command) ([]domain.Event, error) {
	e.mu.Lock()
	if e.readOnly {
		e.mu.Unlock()
		return nil, reject(CodeNotHost, "this instance does not own the log")
	}
	t := e.begin()
	if err := e.decide(t, cmd); err != nil {
		e.mu.Unlock()
		if !IsRejection(err) {
			e.logger.Printf("engine: %s by %s failed: %v", cmd.Type, cmd.Player, err)
		}
		return nil, err
	}
	return e.commitAndUnlock(ctx, t)
}

// Subscribe registers fn for every future update and returns its cancel func.
// Updates arrive one at a time in commit order. A listener that changes the
// engine sees its own update only after it returns.
func (e *Engine) Subscribe(fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) State() domain.GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

func (e *Engine) Events() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Event(nil), e.log...)
}

// Counter is the last sequence number handed out. It never moves backwards.
func (e *Engine) Counter() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

func (e *Engine) ReadOnly() bool {
	return e.readOnly
}

// txn collects the events of one command against a private state.
type txn struct {
	state  domain.GameState
	events []domain.Event
	seq    int64
	at     time.Time
}

func (e *Engine) begin() *txn {
	return &txn{state: e.state.Clone(), seq: e.counter, at: e.now().UTC()}
}

func (t *txn) nextID() string {
	return domain.EventID(t.seq + 1)
}

func (t *txn) append(p domain.Payload) error {
	ev := domain.Event{ID: t.nextID(), Seq: t.seq + 1, At: t.at, Payload: p}
	if err := projector.Advance(&t.state, ev); err != nil {
		return fmt.Errorf("apply %s: %w", p.EventType(), err)
	}
	t.seq++
	t.events = append(t.events, ev)
	return nil
}

func (t *txn) appendAll(ps []domain.Payload) error {
	for _, p := range ps {
		if err := t.append(p); err != nil {
			return err
		}
	}
	return nil
}

// commitAndUnlock journals and publishes t. It must be called with e.mu held.
func (e *Engine) commitAndUnlock(ctx context.Context, t *txn) ([]domain.Event, error) {
	if len(t.events) == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	if e.journal != nil {
		if err := e.journal.Append(ctx, t.events); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("journal append: %w", err)
		}
	}
	u := Update{Events: append([]domain.Event(nil), t.events...), After: e.lastSeq()}
	e.log = projector.AppendEvents(e.log, t.events)
	e.state = t.state
	e.counter = t.seq
	u.State = e.state.Clone()
	e.publishAndUnlock(u)
	return u.Events, nil
}

func (e *Engine) lastSeq() int64 {
	if n := len(e.log); n > 0 {
		return e.log[n-1].Seq
	}
	return 0
}

// publishAndUnlock queues u for the current listeners and releases e.mu.
// The caller that finds no delivery running drains the queue, so updates
// reach listeners in the order they were committed.
func (e *Engine) publishAndUnlock(u Update) {
	e.outbox = append(e.outbox, delivery{listeners: e.snapshotListeners(), update: u})
	if e.delivering {
		e.mu.Unlock()
		return
	}
	e.delivering = true
	for len(e.outbox) > 0 {
		d := e.outbox[0]
		e.outbox = e.outbox[1:]
		e.mu.Unlock()
		notify(d.listeners, d.update)
		e.mu.Lock()
	}
	e.delivering = false
	e.mu.Unlock()
}

func (e *Engine) snapshotListeners() []Listener {
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.listeners[id])
	}
	return out
}

func notify(listeners []Listener, u Update) {
	for _, fn := range listeners {
		fn(u)
	}
}

func (e *Engine) draw(t *txn, player string, n int) error {
	ps, err := cards.Draw(t.state, player, n)
	if err != nil {
		return err
	}
	return t.appendAll(ps)
}
