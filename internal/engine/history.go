package engine

import (
	"context"
	"fmt"

	"dominion/internal/domain"
	"dominion/internal/projector"
)

// StateAt re-projects the prefix of the log ending at eventID.
func (e *Engine) StateAt(eventID string) (domain.GameState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.indexOf(eventID)
	if err != nil {
		return domain.GameState{}, err
	}
	return projector.Project(e.log[:idx+1])
}

// UndoTo discards every event after eventID and re-projects the rest.
// The id counter is left alone, so ids of discarded events are never reissued
// and decisions that referenced them stay stale.
func (e *Engine) UndoTo(ctx context.Context, eventID string) (domain.GameState, error) {
	e.mu.Lock()
	idx, err := e.indexOf(eventID)
	if err != nil {
		e.mu.Unlock()
		return domain.GameState{}, err
	}
	prefix := append([]domain.Event(nil), e.log[:idx+1]...)
	state, err := projector.Project(prefix)
	if err != nil {
		e.mu.Unlock()
		return domain.GameState{}, err
	}
	if e.journal != nil {
		if err := e.journal.Truncate(ctx, prefix[idx].Seq); err != nil {
			e.mu.Unlock()
			return domain.GameState{}, fmt.Errorf("journal truncate: %w", err)
		}
	}
	dropped := len(e.log) - len(prefix)
	e.log = prefix
	e.state = state
	e.logger.Printf("engine: undo to %s dropped %d event(s)", eventID, dropped)
	u := Update{Events: append([]domain.Event(nil), prefix...), State: state.Clone(), Reset: true}
	e.publishAndUnlock(u)
	return u.State, nil
}

// Load replaces the whole log, for example after a reconnect.
func (e *Engine) Load(ctx context.Context, events []domain.Event) (domain.GameState, error) {
	if err := checkOrder(events, 0); err != nil {
		return domain.GameState{}, err
	}
	state, err := projector.Project(events)
	if err != nil {
		return domain.GameState{}, err
	}
	e.mu.Lock()
	if e.journal != nil {
		if err := e.journal.Truncate(ctx, 0); err != nil {
			e.mu.Unlock()
			return domain.GameState{}, fmt.Errorf("journal truncate: %w", err)
		}
		if len(events) > 0 {
			if err := e.journal.Append(ctx, events); err != nil {
				e.mu.Unlock()
				return domain.GameState{}, fmt.Errorf("journal append: %w", err)
			}
		}
	}
	e.log = append([]domain.Event(nil), events...)
	e.state = state
	e.syncCounter(events)
	u := Update{Events: append([]domain.Event(nil), events...), State: state.Clone(), Reset: true}
	e.publishAndUnlock(u)
	return u.State, nil
}

// Restore builds an engine over a log that is already durable, such as rows
// read back from opts.Journal. Nothing is written to the journal. counter is
// the highest id ever issued and may exceed the last event after an undo.
func Restore(opts Options, events []domain.Event, counter int64) (*Engine, error) {
	if err := checkOrder(events, 0); err != nil {
		return nil, err
	}
	state, err := projector.Project(events)
	if err != nil {
		return nil, err
	}
	e := New(opts)
	e.log = append([]domain.Event(nil), events...)
	e.state = state
	e.counter = counter
	e.syncCounter(events)
	return e, nil
}

// ApplyExternal extends the log with events produced elsewhere. after is the
// seq that preceded events in the producer's log. Events already present are
// skipped. A batch that does not continue this log, or an event that does not
// apply, is reported as a desync.
func (e *Engine) ApplyExternal(ctx context.Context, after int64, events []domain.Event) (domain.GameState, error) {
	e.mu.Lock()
	last := e.lastSeq()
	prev := after
	var fresh []domain.Event
	for _, ev := range events {
		if ev.Seq <= last {
			prev = ev.Seq
			continue
		}
		fresh = append(fresh, ev)
	}
	if len(fresh) == 0 {
		defer e.mu.Unlock()
		return e.state.Clone(), nil
	}
	if prev != last {
		e.mu.Unlock()
		return domain.GameState{}, reject(CodeDesync, "events continue seq %d, log ends at %d", prev, last)
	}
	if err := checkOrder(fresh, last); err != nil {
		e.mu.Unlock()
		return domain.GameState{}, err
	}
	state := e.state.Clone()
	for _, ev := range fresh {
		if err := projector.Advance(&state, ev); err != nil {
			e.mu.Unlock()
			return domain.GameState{}, reject(CodeDesync, "%v", err)
		}
	}
	if e.journal != nil {
		if err := e.journal.Append(ctx, fresh); err != nil {
			e.mu.Unlock()
			return domain.GameState{}, fmt.Errorf("journal append: %w", err)
		}
	}
	e.log = projector.AppendEvents(e.log, fresh)
	e.state = state
	e.syncCounter(fresh)
	u := Update{Events: fresh, State: state.Clone(), After: last}
	e.publishAndUnlock(u)
	return u.State, nil
}

// SyncEventCounter raises the id counter past every event in events.
func (e *Engine) SyncEventCounter(events []domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncCounter(events)
}

func (e *Engine) syncCounter(events []domain.Event) {
	for _, ev := range events {
		if ev.Seq > e.counter {
			e.counter = ev.Seq
		}
	}
}

// Branch returns an independent engine whose log is the prefix ending at
// eventID. The branch has no journal and no subscribers.
func (e *Engine) Branch(eventID string) (*Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.indexOf(eventID)
	if err != nil {
		return nil, err
	}
	prefix := append([]domain.Event(nil), e.log[:idx+1]...)
	state, err := projector.Project(prefix)
	if err != nil {
		return nil, err
	}
	b := New(Options{Registry: e.registry, Logger: e.logger, Now: e.now})
	b.log = prefix
	b.state = state
	b.counter = e.counter
	return b, nil
}

func (e *Engine) indexOf(eventID string) (int, error) {
	seq, err := domain.ParseEventID(eventID)
	if err != nil {
		return 0, reject(CodeUnknownEvent, "%v", err)
	}
	for i := len(e.log) - 1; i >= 0; i-- {
		if e.log[i].Seq == seq {
			return i, nil
		}
	}
	return 0, reject(CodeUnknownEvent, "event %s is not in the log", eventID)
}

// checkOrder requires strictly increasing sequence numbers above after.
// Gaps are allowed: ids discarded by an undo are never reused.
func checkOrder(events []domain.Event, after int64) error {
	prev := after
	for _, ev := range events {
		if ev.Seq <= prev {
			return reject(CodeDesync, "event %s out of order after seq %d", ev.ID, prev)
		}
		if ev.ID != domain.EventID(ev.Seq) {
			return reject(CodeDesync, "event id %s does not match seq %d", ev.ID, ev.Seq)
		}
		prev = ev.Seq
	}
	return nil
}
