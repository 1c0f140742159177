package engine_test

import (
	"context"
	"testing"
	"time"

	"dominion/internal/domain"
	"dominion/internal/engine"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

// table describes a scripted opening: every player owns deck, stacked in the
// given order (first five cards are the opening hand).
type table struct {
	players []string
	deck    []domain.CardName
	orders  map[string][]domain.CardName
	kingdom []domain.CardName
	supply  map[domain.CardName]int
	rules   domain.Rules
}

func (tb table) events() []domain.Event {
	kingdom := tb.kingdom
	if kingdom == nil {
		kingdom = domain.KingdomCards()
	}
	supply := domain.SupplyFor(len(tb.players), kingdom)
	for k, v := range tb.supply {
		supply[k] = v
	}
	var out []domain.Event
	add := func(p domain.Payload) {
		seq := int64(len(out) + 1)
		out = append(out, domain.Event{ID: domain.EventID(seq), Seq: seq, At: fixedNow(), Payload: p})
	}
	add(domain.GameInitialized{Players: tb.players, Kingdom: kingdom, Supply: supply, StartingDeck: tb.deck, Seed: 7, Rules: tb.rules})
	for _, p := range tb.players {
		order, ok := tb.orders[p]
		if !ok {
			order = tb.deck
		}
		add(domain.DeckShuffled{Player: p, Order: order})
		add(domain.CardDrawn{Player: p, Count: 5})
	}
	add(domain.TurnStarted{Player: tb.players[0], Turn: 1})
	return out
}

func newTable(t *testing.T, tb table) *engine.Engine {
	t.Helper()
	eng := engine.New(engine.Options{Now: fixedNow})
	if _, err := eng.Load(context.Background(), tb.events()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return eng
}

func cardsOf(names ...domain.CardName) []domain.CardName {
	return names
}

func mustDispatch(t *testing.T, eng *engine.Engine, cmd domain.Command) []domain.Event {
	t.Helper()
	evs, err := eng.Dispatch(context.Background(), cmd)
	if err != nil {
		t.Fatalf("dispatch %s by %s: %v", cmd.Type, cmd.Player, err)
	}
	return evs
}

func expectCode(t *testing.T, err error, code engine.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s rejection, got nil", code)
	}
	if got := engine.CodeOf(err); got != code {
		t.Fatalf("expected code %s, got %q (%v)", code, got, err)
	}
}

func countType(evs []domain.Event, typ domain.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

func pending(t *testing.T, eng *engine.Engine) domain.PendingChoice {
	t.Helper()
	p := eng.State().Pending
	if p == nil {
		t.Fatalf("expected a pending choice")
	}
	return *p
}

func hand(eng *engine.Engine, player string) []domain.CardName {
	s := eng.State()
	return s.Player(player).Hand
}
