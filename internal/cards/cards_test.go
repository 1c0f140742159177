package cards_test

import (
	"reflect"
	"testing"

	"dominion/internal/cards"
	"dominion/internal/domain"
	"dominion/internal/projector"
)

type zones struct {
	hand, deck, discard []domain.CardName
}

// stateWith builds a two-player game where ann holds z and it is her action phase.
func stateWith(t *testing.T, z zones, supply map[domain.CardName]int) domain.GameState {
	t.Helper()
	order := append(append(append([]domain.CardName(nil), z.hand...), z.discard...), z.deck...)
	full := domain.SupplyFor(2, domain.KingdomCards())
	for k, v := range supply {
		full[k] = v
	}
	payloads := []domain.Payload{
		domain.GameInitialized{Players: []string{"ann", "ben"}, Kingdom: domain.KingdomCards(), Supply: full, StartingDeck: order, Seed: 3},
		domain.DeckShuffled{Player: "ann", Order: order},
		domain.CardDrawn{Player: "ann", Count: len(z.hand) + len(z.discard)},
	}
	for _, c := range z.discard {
		payloads = append(payloads, domain.CardDiscarded{Player: "ann", Card: c, From: domain.ZoneHand})
	}
	payloads = append(payloads,
		domain.DeckShuffled{Player: "ben", Order: order},
		domain.CardDrawn{Player: "ben", Count: min(5, len(order))},
		domain.TurnStarted{Player: "ann", Turn: 1},
	)
	var s domain.GameState
	for i, p := range payloads {
		ev := domain.Event{ID: domain.EventID(int64(i + 1)), Seq: int64(i + 1), Payload: p}
		if err := projector.Advance(&s, ev); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	return s
}

func apply(t *testing.T, s domain.GameState, ps []domain.Payload) domain.GameState {
	t.Helper()
	next := s.Clone()
	for _, p := range ps {
		if err := projector.Step(&next, p); err != nil {
			t.Fatalf("apply %s: %v", p.EventType(), err)
		}
	}
	return next
}

func resolve(t *testing.T, kind domain.ResolutionKind, ctx cards.Context) cards.Result {
	t.Helper()
	res, err := cards.NewRegistry().Resolve(kind, ctx)
	if err != nil {
		t.Fatalf("resolve %s %s: %v", ctx.Card, ctx.Stage, err)
	}
	return res
}

func names(cs ...domain.CardName) []domain.CardName { return cs }

func TestRegistryCoversCatalogue(t *testing.T) {
	if err := cards.NewRegistry().Validate(); err != nil {
		t.Fatalf("registry incomplete: %v", err)
	}
	r := cards.NewRegistry()
	r.Register(cards.Definition{Card: domain.Witch})
	if err := r.Validate(); err == nil {
		t.Fatalf("expected missing Witch stages to be reported")
	}
}

func TestSimpleCards(t *testing.T) {
	deck := names(domain.Estate, domain.Estate, domain.Copper, domain.Copper)
	cases := []struct {
		card                       domain.CardName
		hand, actions, buys, coins int
	}{
		{domain.Village, 1, 2, 0, 0},
		{domain.Smithy, 3, 0, 0, 0},
		{domain.Festival, 0, 2, 1, 2},
		{domain.Laboratory, 2, 1, 0, 0},
		{domain.Market, 1, 1, 1, 1},
		{domain.Moat, 2, 0, 0, 0},
		{domain.Witch, 2, 0, 0, 0},
		{domain.Militia, 0, 0, 0, 2},
	}
	for _, tc := range cases {
		t.Run(string(tc.card), func(t *testing.T) {
			s := stateWith(t, zones{deck: deck}, nil)
			res := resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: tc.card})
			if res.Pending != nil {
				t.Fatalf("simple card asked a question")
			}
			after := apply(t, s, res.Events)
			if got := len(after.Player("ann").Hand); got != tc.hand {
				t.Fatalf("hand %d, want %d", got, tc.hand)
			}
			if after.Actions-s.Actions != tc.actions || after.Buys-s.Buys != tc.buys || after.Coins-s.Coins != tc.coins {
				t.Fatalf("got +%d actions +%d buys +%d coins", after.Actions-s.Actions, after.Buys-s.Buys, after.Coins-s.Coins)
			}
		})
	}
}

func TestDrawReshufflesDiscard(t *testing.T) {
	s := stateWith(t, zones{deck: names(domain.Gold), discard: names(domain.Copper, domain.Estate, domain.Silver)}, nil)
	ps, err := cards.Draw(s, "ann", 3)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	var types []domain.EventType
	for _, p := range ps {
		types = append(types, p.EventType())
	}
	want := []domain.EventType{domain.EventCardDrawn, domain.EventDeckShuffled, domain.EventCardDrawn}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	after := apply(t, s, ps)
	ann := after.Player("ann")
	if len(ann.Hand) != 3 || len(ann.Deck) != 1 || len(ann.Discard) != 0 || ann.Hand[0] != domain.Gold {
		t.Fatalf("hand=%v deck=%v discard=%v", ann.Hand, ann.Deck, ann.Discard)
	}

	again, _ := cards.Draw(s, "ann", 3)
	if !reflect.DeepEqual(ps, again) {
		t.Fatalf("same state shuffled differently")
	}

	empty := stateWith(t, zones{}, nil)
	ps, err = cards.Draw(empty, "ann", 2)
	if err != nil || len(ps) != 0 {
		t.Fatalf("drawing from nothing should produce no events, got %v %v", ps, err)
	}
}

func TestMerchantPaysOnFirstSilver(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Silver, domain.Silver), deck: names(domain.Copper)}, nil)
	res := resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: domain.Merchant})
	s = apply(t, s, res.Events)

	for i, want := range []int{3, 2} {
		s = apply(t, s, []domain.Payload{domain.CardPlayed{Player: "ann", Card: domain.Silver, From: domain.ZoneHand}})
		before := s.Coins
		res = resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: domain.Silver})
		s = apply(t, s, res.Events)
		if s.Coins-before != want {
			t.Fatalf("silver %d paid %d, want %d", i+1, s.Coins-before, want)
		}
	}
}

func TestThroneRoomQueuesTwoPlays(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Smithy, domain.Copper)}, nil)
	res := resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: domain.ThroneRoom})
	if res.Pending == nil || !reflect.DeepEqual(res.Pending.CardOptions, names(domain.Smithy)) || res.Pending.Min != 0 {
		t.Fatalf("unexpected choice %+v", res.Pending)
	}
	res = resolve(t, domain.ResolvePlay, cards.Context{
		State: s, Player: "ann", Card: domain.ThroneRoom, Stage: domain.StagePlay,
		Decision: &domain.Decision{Selected: names(domain.Smithy)},
	})
	want := domain.Resolution{Kind: domain.ResolvePlay, Card: domain.Smithy, Player: "ann"}
	if len(res.Then) != 2 || res.Then[0] != want || res.Then[1] != want {
		t.Fatalf("unexpected follow-ups %+v", res.Then)
	}
	if len(res.Events) != 1 || res.Events[0] != (domain.CardPlayed{Player: "ann", Card: domain.Smithy, From: domain.ZoneHand}) {
		t.Fatalf("unexpected events %+v", res.Events)
	}
}

func TestRemodelGainRespectsBudget(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Silver, domain.Estate)}, nil)
	res := resolve(t, domain.ResolvePlay, cards.Context{
		State: s, Player: "ann", Card: domain.Remodel, Stage: domain.StageTrash,
		Decision: &domain.Decision{Selected: names(domain.Silver)},
	})
	if res.Pending == nil || res.Pending.Stage != domain.StageGain {
		t.Fatalf("expected a gain stage, got %+v", res.Pending)
	}
	budget, ok := res.Pending.Continuation.(domain.GainBudget)
	if !ok || budget.MaxCost != 5 {
		t.Fatalf("unexpected budget %#v", res.Pending.Continuation)
	}
	for _, c := range res.Pending.CardOptions {
		if domain.CostOf(c) > 5 {
			t.Fatalf("%s costs more than 5", c)
		}
	}
}

func TestMineGainsTreasureToHand(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Silver, domain.Estate)}, nil)
	res := resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: domain.Mine})
	if !reflect.DeepEqual(res.Pending.CardOptions, names(domain.Silver)) {
		t.Fatalf("only treasures should be offered, got %v", res.Pending.CardOptions)
	}
	res = resolve(t, domain.ResolvePlay, cards.Context{
		State: s, Player: "ann", Card: domain.Mine, Stage: domain.StageTrash,
		Decision: &domain.Decision{Selected: names(domain.Silver)},
	})
	if !reflect.DeepEqual(res.Pending.CardOptions, names(domain.Copper, domain.Gold, domain.Silver)) {
		t.Fatalf("unexpected gain options %v", res.Pending.CardOptions)
	}
	s = apply(t, s, res.Events)
	res = resolve(t, domain.ResolvePlay, cards.Context{
		State: s, Player: "ann", Card: domain.Mine, Stage: domain.StageGain,
		Decision: &domain.Decision{Selected: names(domain.Gold)}, Continuation: res.Pending.Continuation,
	})
	s = apply(t, s, res.Events)
	if !reflect.DeepEqual(s.Player("ann").Hand, names(domain.Estate, domain.Gold)) {
		t.Fatalf("unexpected hand %v", s.Player("ann").Hand)
	}
}

func TestLibrarySetsAsideActions(t *testing.T) {
	s := stateWith(t, zones{
		hand: names(domain.Copper, domain.Copper, domain.Copper, domain.Copper),
		deck: names(domain.Village, domain.Estate, domain.Gold, domain.Silver),
	}, nil)
	res := resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: domain.Library})
	if res.Pending == nil || res.Pending.Stage != domain.StageSetAside || res.Pending.CardOptions[0] != domain.Village {
		t.Fatalf("expected to be asked about Village, got %+v", res.Pending)
	}
	s = apply(t, s, res.Events)
	res = resolve(t, domain.ResolvePlay, cards.Context{
		State: s, Player: "ann", Card: domain.Library, Stage: domain.StageSetAside,
		Decision: &domain.Decision{Selected: names(domain.Village)},
	})
	if res.Pending != nil {
		t.Fatalf("unexpected choice %+v", res.Pending)
	}
	s = apply(t, s, res.Events)
	ann := s.Player("ann")
	if len(ann.Hand) != 7 || !reflect.DeepEqual(ann.Discard, names(domain.Village)) || len(ann.Aside) != 0 {
		t.Fatalf("hand=%v discard=%v aside=%v", ann.Hand, ann.Discard, ann.Aside)
	}
}

func TestVassalPlaysDiscardedAction(t *testing.T) {
	s := stateWith(t, zones{deck: names(domain.Smithy, domain.Copper)}, nil)
	res := resolve(t, domain.ResolvePlay, cards.Context{State: s, Player: "ann", Card: domain.Vassal})
	if res.Pending == nil || res.Pending.From != domain.ZoneDiscard {
		t.Fatalf("expected an offer to play Smithy, got %+v", res.Pending)
	}
	s = apply(t, s, res.Events)
	res = resolve(t, domain.ResolvePlay, cards.Context{
		State: s, Player: "ann", Card: domain.Vassal, Stage: domain.StagePlay,
		Decision: &domain.Decision{Selected: names(domain.Smithy)}, Continuation: res.Pending.Continuation,
	})
	s = apply(t, s, res.Events)
	if !reflect.DeepEqual(s.Player("ann").InPlay, names(domain.Smithy)) || len(res.Then) != 1 {
		t.Fatalf("in_play=%v then=%v", s.Player("ann").InPlay, res.Then)
	}
}

func TestBanditTargetChoosesBetweenTreasures(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Copper)}, nil)
	// Move ben's only card to his discard so the reveal has to reshuffle.
	s = apply(t, s, []domain.Payload{
		domain.CardDiscarded{Player: "ben", Card: domain.Copper, From: domain.ZoneHand},
	})
	ctx := cards.Context{State: s, Player: "ben", Attacker: "ann", Card: domain.Bandit}
	res := resolve(t, domain.ResolveAttack, ctx)
	if res.Pending != nil {
		t.Fatalf("lone copper needs no choice")
	}

	s = stateWith(t, zones{hand: names(domain.Estate, domain.Estate, domain.Estate, domain.Estate, domain.Estate), deck: names(domain.Silver, domain.Gold)}, nil)
	ctx = cards.Context{State: s, Player: "ben", Attacker: "ann", Card: domain.Bandit}
	res = resolve(t, domain.ResolveAttack, ctx)
	if res.Pending == nil || res.Pending.Player != "ben" || !reflect.DeepEqual(res.Pending.CardOptions, names(domain.Silver, domain.Gold)) {
		t.Fatalf("expected ben to choose, got %+v", res.Pending)
	}
	s = apply(t, s, res.Events)
	ctx.State, ctx.Stage = s, domain.StageTrash
	ctx.Decision = &domain.Decision{Selected: names(domain.Gold)}
	res = resolve(t, domain.ResolveAttack, ctx)
	s = apply(t, s, res.Events)
	if !reflect.DeepEqual(s.Trash, names(domain.Gold)) || !reflect.DeepEqual(s.Player("ben").Discard, names(domain.Silver)) {
		t.Fatalf("trash=%v discard=%v", s.Trash, s.Player("ben").Discard)
	}
}

func TestBureaucratTopdecksSingleVictoryType(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Estate, domain.Estate, domain.Copper, domain.Copper, domain.Copper)}, nil)
	res := resolve(t, domain.ResolveAttack, cards.Context{State: s, Player: "ben", Attacker: "ann", Card: domain.Bureaucrat})
	if res.Pending != nil || len(res.Events) != 1 {
		t.Fatalf("expected an automatic topdeck, got %+v", res)
	}
	s = apply(t, s, res.Events)
	if s.Player("ben").Deck[0] != domain.Estate {
		t.Fatalf("estate not on top: %v", s.Player("ben").Deck)
	}
}

func TestScoresCountGardens(t *testing.T) {
	s := stateWith(t, zones{hand: names(domain.Gardens, domain.Province, domain.Curse), deck: names(
		domain.Copper, domain.Copper, domain.Copper, domain.Copper, domain.Copper, domain.Copper, domain.Copper)}, nil)
	if got := cards.Scores(s)["ann"]; got != 6 {
		t.Fatalf("expected 6 (1 gardens + 6 - 1), got %d", got)
	}
}
