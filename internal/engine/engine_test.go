package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"dominion/internal/domain"
	"dominion/internal/engine"
	"dominion/internal/projector"
)

var sentryDeck = cardsOf(
	domain.Sentry, domain.Copper, domain.Copper, domain.Copper, domain.Copper,
	domain.Silver, domain.Estate, domain.Gold, domain.Copper, domain.Estate,
)

func sentryTable() table {
	return table{players: []string{"alice", "bob"}, deck: sentryDeck}
}

func TestStartIsDeterministic(t *testing.T) {
	setup := engine.Setup{Players: []string{"alice", "bob"}, Kingdom: domain.FirstGame, Seed: 42}
	run := func() []domain.Event {
		eng := engine.New(engine.Options{Now: fixedNow})
		evs, err := eng.Start(context.Background(), setup)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		return evs
	}
	a, b := run(), run()
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("same seed produced different logs")
	}

	s, err := projector.Project(a)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if s.ActivePlayer != "alice" || s.Phase != domain.PhaseAction || s.Turn != 1 {
		t.Fatalf("unexpected opening: active=%s phase=%s turn=%d", s.ActivePlayer, s.Phase, s.Turn)
	}
	for _, p := range s.Players {
		if len(p.Hand) != 5 || len(p.Deck) != 5 || len(p.Discard) != 0 {
			t.Fatalf("%s: hand=%d deck=%d discard=%d", p.ID, len(p.Hand), len(p.Deck), len(p.Discard))
		}
	}
	if s.Supply[domain.Copper] != 46 || s.Supply[domain.Province] != 8 || s.Supply[domain.Curse] != 10 {
		t.Fatalf("unexpected supply: %v", s.Supply)
	}

	eng := engine.New(engine.Options{Now: fixedNow})
	if _, err := eng.Start(context.Background(), engine.Setup{Players: nil}); engine.CodeOf(err) != engine.CodeInvalidSetup {
		t.Fatalf("expected invalid setup, got %v", err)
	}
	if _, err := eng.Start(context.Background(), engine.Setup{Players: []string{"a"}, Kingdom: cardsOf(domain.Copper)}); engine.CodeOf(err) != engine.CodeInvalidSetup {
		t.Fatalf("expected basic card rejection, got %v", err)
	}
}

func TestSoloGameOpensWithoutEmptyPiles(t *testing.T) {
	eng := engine.New(engine.Options{Now: fixedNow})
	if _, err := eng.Start(context.Background(), engine.Setup{Players: []string{"alice"}, Kingdom: domain.FirstGame, Seed: 3}); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := eng.State()
	if n := st.EmptyPiles(); n != 0 {
		t.Fatalf("solo game opens with %d empty pile(s): %v", n, st.Supply)
	}
	if _, ok := st.Supply[domain.Curse]; ok {
		t.Fatalf("solo supply should have no Curse pile")
	}
	_, err := eng.Dispatch(context.Background(), domain.Command{Type: domain.CmdPlayAllTreasures, Player: "alice"})
	if err != nil {
		t.Fatalf("play treasures: %v", err)
	}
	_, err = eng.Dispatch(context.Background(), domain.Command{Type: domain.CmdBuyCard, Player: "alice", Card: domain.Curse})
	if engine.CodeOf(err) != engine.CodeUnknownCard {
		t.Fatalf("expected unknown_card for a solo Curse, got %v", err)
	}
}

func TestProjectionIsComposable(t *testing.T) {
	eng := newTable(t, sentryTable())
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))
	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Estate)}))
	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{}))
	mustDispatch(t, eng, domain.Command{Type: domain.CmdPlayAllTreasures, Player: "alice"})
	mustDispatch(t, eng, domain.EndPhase("alice"))

	log := eng.Events()
	first, err := projector.Project(log)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	second, _ := projector.Project(log)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("projection is not deterministic")
	}
	if !reflect.DeepEqual(first, eng.State()) {
		t.Fatalf("engine state differs from projection of its log")
	}
	for k := 0; k <= len(log); k++ {
		s, err := projector.Project(log[:k])
		if err != nil {
			t.Fatalf("project prefix %d: %v", k, err)
		}
		for _, ev := range log[k:] {
			if s, err = projector.Apply(s, ev); err != nil {
				t.Fatalf("apply %s: %v", ev.ID, err)
			}
		}
		if !reflect.DeepEqual(s, first) {
			t.Fatalf("split at %d diverges", k)
		}
	}
}

func TestSentryTrashThenDiscard(t *testing.T) {
	eng := newTable(t, sentryTable())
	var all []domain.Event
	all = append(all, mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))...)

	p := pending(t, eng)
	if p.Stage != domain.StageTrash || p.Min != 0 || p.Max != 2 {
		t.Fatalf("unexpected first stage: %+v", p)
	}
	if !reflect.DeepEqual(p.CardOptions, cardsOf(domain.Estate, domain.Gold)) {
		t.Fatalf("unexpected revealed cards: %v", p.CardOptions)
	}
	if got := hand(eng, "alice"); len(got) != 5 {
		t.Fatalf("expected sentry to draw one card, hand=%v", got)
	}
	all = append(all, mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{ChoiceID: p.ID, Stage: p.Stage, Selected: cardsOf(domain.Estate)}))...)

	p = pending(t, eng)
	if p.Stage != domain.StageDiscard || !reflect.DeepEqual(p.CardOptions, cardsOf(domain.Gold)) {
		t.Fatalf("unexpected second stage: %+v", p)
	}
	all = append(all, mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Gold)}))...)

	if countType(all, domain.EventCardTrashed) != 1 || countType(all, domain.EventCardDiscarded) != 1 {
		t.Fatalf("expected one trash and one discard, got %d and %d",
			countType(all, domain.EventCardTrashed), countType(all, domain.EventCardDiscarded))
	}
	s := eng.State()
	if s.Pending != nil {
		t.Fatalf("expected no pending choice, got %+v", s.Pending)
	}
	if !reflect.DeepEqual(s.Trash, cardsOf(domain.Estate)) || s.Actions != 1 {
		t.Fatalf("trash=%v actions=%d", s.Trash, s.Actions)
	}
}

func TestSentryOrderPutsFirstChoiceOnTop(t *testing.T) {
	eng := newTable(t, sentryTable())
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))
	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{}))
	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{}))

	p := pending(t, eng)
	if p.Stage != domain.StageOrder || !p.RequireOrder || p.Min != 2 {
		t.Fatalf("unexpected order stage: %+v", p)
	}
	_, err := eng.Dispatch(context.Background(), domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Estate, domain.Gold), Order: []int{0, 0}}))
	expectCode(t, err, engine.CodeInvalidDecision)

	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Estate, domain.Gold), Order: []int{1, 0}}))
	st := eng.State()
	deck := st.Player("alice").Deck
	if deck[0] != domain.Gold || deck[1] != domain.Estate {
		t.Fatalf("expected Gold then Estate on top, got %v", deck)
	}
}

func TestSentryPerCardActions(t *testing.T) {
	tb := sentryTable()
	tb.rules = domain.Rules{SentryPerCard: true}
	eng := newTable(t, tb)
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))

	p := pending(t, eng)
	if p.Stage != domain.StageSort || len(p.ActionOptions) != 3 {
		t.Fatalf("unexpected per-card stage: %+v", p)
	}
	_, err := eng.Dispatch(context.Background(), domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Estate, domain.Gold)}))
	expectCode(t, err, engine.CodeInvalidDecision)

	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{
		Selected:    cardsOf(domain.Estate, domain.Gold),
		CardActions: []domain.CardAction{domain.CardActionTrash, domain.CardActionTopdeck},
	}))
	s := eng.State()
	if s.Pending != nil || s.Player("alice").Deck[0] != domain.Gold || len(s.Trash) != 1 {
		t.Fatalf("pending=%v deck=%v trash=%v", s.Pending, s.Player("alice").Deck, s.Trash)
	}
}

func TestUndoRestoresPrefixAndRejectsStaleChoice(t *testing.T) {
	eng := newTable(t, sentryTable())
	before := eng.Events()
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))
	stale := pending(t, eng)
	counter := eng.Counter()

	mark := before[len(before)-1].ID
	got, err := eng.UndoTo(context.Background(), mark)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	want, _ := projector.Project(before)
	if !reflect.DeepEqual(got, want) || !reflect.DeepEqual(eng.State(), want) {
		t.Fatalf("state after undo differs from projection of the prefix")
	}

	_, err = eng.Dispatch(context.Background(), domain.SubmitDecision("alice", domain.Decision{ChoiceID: stale.ID, Selected: cardsOf(domain.Estate)}))
	expectCode(t, err, engine.CodeStaleDecision)

	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))
	fresh := pending(t, eng)
	if fresh.ID == stale.ID {
		t.Fatalf("choice id %s was reused after undo", fresh.ID)
	}
	if eng.Counter() <= counter {
		t.Fatalf("counter went backwards: %d <= %d", eng.Counter(), counter)
	}
	_, err = eng.Dispatch(context.Background(), domain.SubmitDecision("alice", domain.Decision{ChoiceID: stale.ID}))
	expectCode(t, err, engine.CodeStaleDecision)
}

func TestUndoToMiddleOfLog(t *testing.T) {
	eng := newTable(t, sentryTable())
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))
	mustDispatch(t, eng, domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Estate)}))
	log := eng.Events()
	if len(log) < 10 {
		t.Fatalf("expected at least 10 events, got %d", len(log))
	}
	if _, err := eng.UndoTo(context.Background(), log[3].ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	want, _ := projector.Project(log[:4])
	if !reflect.DeepEqual(eng.State(), want) {
		t.Fatalf("state after undo differs from projection of E1..E4")
	}
	if n := len(eng.Events()); n != 4 {
		t.Fatalf("expected 4 events after undo, got %d", n)
	}
	if _, err := eng.UndoTo(context.Background(), "evt-99"); engine.CodeOf(err) != engine.CodeUnknownEvent {
		t.Fatalf("expected unknown event, got %v", err)
	}
}

func TestStateAtAndBranch(t *testing.T) {
	eng := newTable(t, sentryTable())
	mark := eng.Events()[5].ID
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Sentry))

	at, err := eng.StateAt(mark)
	if err != nil {
		t.Fatalf("state at: %v", err)
	}
	if at.Pending != nil || at.LastEventID != mark {
		t.Fatalf("unexpected preview state: last=%s pending=%v", at.LastEventID, at.Pending)
	}

	branch, err := eng.Branch(mark)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	mustDispatch(t, branch, domain.EndPhase("alice"))
	if eng.State().Pending == nil {
		t.Fatalf("branch changed the original engine")
	}
	if branch.State().Phase != domain.PhaseBuy {
		t.Fatalf("expected branch in buy phase, got %s", branch.State().Phase)
	}
	if last := branch.Events()[len(branch.Events())-1]; last.Seq <= eng.Counter() {
		t.Fatalf("branch event %s reuses an id of the original log", last.ID)
	}
}

var militiaDeck = cardsOf(
	domain.Militia, domain.Moat, domain.Copper, domain.Copper, domain.Copper,
	domain.Estate, domain.Estate, domain.Estate, domain.Copper, domain.Copper,
)

func militiaTable() table {
	return table{
		players: []string{"alice", "bob"},
		deck:    militiaDeck,
		orders: map[string][]domain.CardName{
			"alice": cardsOf(domain.Militia, domain.Copper, domain.Copper, domain.Copper, domain.Estate, domain.Moat, domain.Estate, domain.Estate, domain.Copper, domain.Copper),
			"bob":   cardsOf(domain.Moat, domain.Copper, domain.Copper, domain.Estate, domain.Estate, domain.Militia, domain.Copper, domain.Copper, domain.Copper, domain.Estate),
		},
	}
}

func TestReactionBlocksAttack(t *testing.T) {
	eng := newTable(t, militiaTable())
	evs := mustDispatch(t, eng, domain.PlayAction("alice", domain.Militia))
	if countType(evs, domain.EventCardDiscarded) != 0 {
		t.Fatalf("attack resolved before the reaction window")
	}
	p := pending(t, eng)
	if p.Kind != domain.ChoiceReaction || p.Player != "bob" || p.Card != domain.Militia {
		t.Fatalf("expected reaction for bob, got %+v", p)
	}
	if eng.State().Coins != 2 {
		t.Fatalf("militia should give +2 before the attack, coins=%d", eng.State().Coins)
	}

	_, err := eng.Dispatch(context.Background(), domain.EndPhase("alice"))
	expectCode(t, err, engine.CodePendingChoice)
	_, err = eng.Dispatch(context.Background(), domain.RevealReaction("alice", domain.Moat))
	expectCode(t, err, engine.CodeWrongPlayer)
	_, err = eng.Dispatch(context.Background(), domain.RevealReaction("bob", domain.Copper))
	expectCode(t, err, engine.CodeCardNotAvailable)

	mustDispatch(t, eng, domain.RevealReaction("bob", domain.Moat))
	if eng.State().Pending != nil {
		t.Fatalf("expected attack to be blocked")
	}
	if got := hand(eng, "bob"); len(got) != 5 {
		t.Fatalf("bob should keep 5 cards, has %v", got)
	}
}

func TestDeclinedReactionLetsTargetDecide(t *testing.T) {
	eng := newTable(t, militiaTable())
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Militia))
	mustDispatch(t, eng, domain.DeclineReaction("bob"))

	p := pending(t, eng)
	if p.Kind != domain.ChoiceDecision || p.Player != "bob" || p.Min != 2 || p.Max != 2 {
		t.Fatalf("expected bob to discard 2, got %+v", p)
	}
	_, err := eng.Dispatch(context.Background(), domain.SubmitDecision("alice", domain.Decision{Selected: cardsOf(domain.Estate, domain.Estate)}))
	expectCode(t, err, engine.CodeWrongPlayer)
	_, err = eng.Dispatch(context.Background(), domain.SubmitDecision("bob", domain.Decision{Selected: cardsOf(domain.Estate)}))
	expectCode(t, err, engine.CodeInvalidDecision)
	_, err = eng.Dispatch(context.Background(), domain.SubmitDecision("bob", domain.Decision{Selected: cardsOf(domain.Gold, domain.Estate)}))
	expectCode(t, err, engine.CodeCardNotAvailable)

	mustDispatch(t, eng, domain.SubmitDecision("bob", domain.Decision{Selected: cardsOf(domain.Estate, domain.Estate)}))
	if got := hand(eng, "bob"); len(got) != 3 {
		t.Fatalf("bob should have 3 cards, has %v", got)
	}
	if eng.State().ActivePlayer != "alice" || eng.State().Pending != nil {
		t.Fatalf("expected play to return to alice")
	}
}

func TestAttackChoicesAreAskedPerTargetInTurnOrder(t *testing.T) {
	deck := cardsOf(domain.Militia, domain.Copper, domain.Copper, domain.Copper, domain.Copper,
		domain.Estate, domain.Estate, domain.Estate, domain.Copper, domain.Copper)
	eng := newTable(t, table{players: []string{"alice", "bob", "carol"}, deck: deck})
	mustDispatch(t, eng, domain.PlayAction("alice", domain.Militia))

	for _, target := range []string{"bob", "carol"} {
		p := pending(t, eng)
		if p.Player != target || p.Source.Kind != domain.ResolveAttack {
			t.Fatalf("expected attack choice for %s, got %+v", target, p)
		}
		mustDispatch(t, eng, domain.SubmitDecision(target, domain.Decision{Selected: cardsOf(domain.Militia, domain.Copper)}))
	}
	if eng.State().Pending != nil {
		t.Fatalf("expected no pending choice")
	}
}

func TestCommandRejectionsAppendNothing(t *testing.T) {
	eng := newTable(t, sentryTable())
	n := len(eng.Events())
	cases := []struct {
		name string
		cmd  domain.Command
		code engine.Code
	}{
		{"not your turn", domain.PlayAction("bob", domain.Sentry), engine.CodeWrongPlayer},
		{"unknown player", domain.EndPhase("mallory"), engine.CodeWrongPlayer},
		{"buy in action phase", domain.BuyCard("alice", domain.Copper), engine.CodeWrongPhase},
		{"not in hand", domain.PlayAction("alice", domain.Smithy), engine.CodeCardNotAvailable},
		{"not an action", domain.PlayAction("alice", domain.Copper), engine.CodeNotPlayable},
		{"unknown card", domain.PlayAction("alice", "Dragon"), engine.CodeUnknownCard},
		{"nothing to decide", domain.SubmitDecision("alice", domain.Decision{}), engine.CodeNoPendingChoice},
		{"no reaction", domain.DeclineReaction("alice"), engine.CodeNoPendingChoice},
		{"bad command", domain.Command{Type: "FLY", Player: "alice"}, engine.CodeUnknownCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Dispatch(context.Background(), tc.cmd)
			expectCode(t, err, tc.code)
			if len(eng.Events()) != n {
				t.Fatalf("rejected command appended events")
			}
		})
	}
}

func TestBuyingRules(t *testing.T) {
	deck := cardsOf(domain.Gold, domain.Gold, domain.Copper, domain.Copper, domain.Estate,
		domain.Estate, domain.Estate, domain.Copper, domain.Copper, domain.Copper)
	eng := newTable(t, table{players: []string{"alice", "bob"}, deck: deck, supply: map[domain.CardName]int{domain.Smithy: 0}})

	mustDispatch(t, eng, domain.PlayTreasure("alice", domain.Gold))
	if s := eng.State(); s.Phase != domain.PhaseBuy || s.Coins != 3 {
		t.Fatalf("expected buy phase with 3 coins, got %s/%d", s.Phase, s.Coins)
	}
	_, err := eng.Dispatch(context.Background(), domain.BuyCard("alice", domain.Gold))
	expectCode(t, err, engine.CodeInsufficientCoin)
	_, err = eng.Dispatch(context.Background(), domain.BuyCard("alice", domain.Smithy))
	expectCode(t, err, engine.CodePileEmpty)

	mustDispatch(t, eng, domain.BuyCard("alice", domain.Silver))
	_, err = eng.Dispatch(context.Background(), domain.PlayTreasure("alice", domain.Gold))
	expectCode(t, err, engine.CodeWrongPhase)
	_, err = eng.Dispatch(context.Background(), domain.BuyCard("alice", domain.Copper))
	expectCode(t, err, engine.CodeNoBuys)

	s := eng.State()
	if s.Coins != 0 || s.Supply[domain.Silver] != 39 || s.Player("alice").Discard[0] != domain.Silver {
		t.Fatalf("coins=%d silver=%d discard=%v", s.Coins, s.Supply[domain.Silver], s.Player("alice").Discard)
	}
}

func TestCleanupPassesTheTurn(t *testing.T) {
	eng := newTable(t, sentryTable())
	mustDispatch(t, eng, domain.EndPhase("alice"))
	mustDispatch(t, eng, domain.EndPhase("alice"))

	s := eng.State()
	if s.ActivePlayer != "bob" || s.Turn != 2 || s.Phase != domain.PhaseAction {
		t.Fatalf("expected bob's turn 2, got %s turn %d %s", s.ActivePlayer, s.Turn, s.Phase)
	}
	alice := s.Player("alice")
	if len(alice.Hand) != 5 || len(alice.InPlay) != 0 || len(alice.Discard) != 5 {
		t.Fatalf("alice hand=%v in_play=%v discard=%v", alice.Hand, alice.InPlay, alice.Discard)
	}
	if s.Actions != 1 || s.Buys != 1 || s.Coins != 0 {
		t.Fatalf("turn counters not reset: %d/%d/%d", s.Actions, s.Buys, s.Coins)
	}
}

func TestGameEndsWhenProvincesRunOut(t *testing.T) {
	deck := cardsOf(domain.Gold, domain.Gold, domain.Gold, domain.Copper, domain.Copper,
		domain.Estate, domain.Estate, domain.Estate, domain.Copper, domain.Copper)
	eng := newTable(t, table{players: []string{"alice", "bob"}, deck: deck, supply: map[domain.CardName]int{domain.Province: 1}})

	mustDispatch(t, eng, domain.Command{Type: domain.CmdPlayAllTreasures, Player: "alice"})
	if c := eng.State().Coins; c != 11 {
		t.Fatalf("expected 11 coins, got %d", c)
	}
	mustDispatch(t, eng, domain.BuyCard("alice", domain.Province))
	evs := mustDispatch(t, eng, domain.EndPhase("alice"))
	if countType(evs, domain.EventGameEnded) != 1 {
		t.Fatalf("expected game end")
	}
	s := eng.State()
	if !s.Over() || s.Result.Scores["alice"] != 9 || s.Result.Scores["bob"] != 3 {
		t.Fatalf("unexpected result: %+v", s.Result)
	}
	if !reflect.DeepEqual(s.Result.Winners, []string{"alice"}) {
		t.Fatalf("unexpected winners %v", s.Result.Winners)
	}
	_, err := eng.Dispatch(context.Background(), domain.EndPhase("bob"))
	expectCode(t, err, engine.CodeGameOver)
}

type failingJournal struct{ appended int }

func (j *failingJournal) Append(context.Context, []domain.Event) error {
	j.appended++
	if j.appended > 1 {
		return errors.New("disk full")
	}
	return nil
}

func (j *failingJournal) Truncate(context.Context, int64) error { return nil }

func TestJournalFailureRejectsCommand(t *testing.T) {
	j := &failingJournal{}
	eng := engine.New(engine.Options{Now: fixedNow, Journal: j})
	if _, err := eng.Load(context.Background(), sentryTable().events()); err != nil {
		t.Fatalf("load: %v", err)
	}
	n := len(eng.Events())
	if _, err := eng.Dispatch(context.Background(), domain.EndPhase("alice")); err == nil {
		t.Fatalf("expected journal error")
	}
	if len(eng.Events()) != n || eng.State().Phase != domain.PhaseAction {
		t.Fatalf("failed journal write still changed the engine")
	}
}

func TestSubscribeAndReplicate(t *testing.T) {
	host := newTable(t, sentryTable())
	peer := engine.New(engine.Options{Now: fixedNow, ReadOnly: true})
	if _, err := peer.Load(context.Background(), host.Events()); err != nil {
		t.Fatalf("peer load: %v", err)
	}

	var updates []engine.Update
	cancel := host.Subscribe(func(u engine.Update) {
		updates = append(updates, u)
		if _, err := peer.ApplyExternal(context.Background(), u.After, u.Events); err != nil {
			t.Errorf("apply external: %v", err)
		}
	})
	mustDispatch(t, host, domain.PlayAction("alice", domain.Sentry))
	mustDispatch(t, host, domain.SubmitDecision("alice", domain.Decision{}))
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if !reflect.DeepEqual(peer.State(), host.State()) {
		t.Fatalf("peer diverged from host")
	}
	if _, err := peer.Dispatch(context.Background(), domain.EndPhase("alice")); engine.CodeOf(err) != engine.CodeNotHost {
		t.Fatalf("expected not_host, got %v", err)
	}

	// Re-delivery is ignored; out-of-order delivery is a desync.
	if _, err := peer.ApplyExternal(context.Background(), 0, host.Events()); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	log := host.Events()
	shifted := func(by int64) domain.Event {
		ev := log[len(log)-1]
		ev.Seq += by
		ev.ID = domain.EventID(ev.Seq)
		return ev
	}
	tail := log[len(log)-1].Seq
	if _, err := peer.ApplyExternal(context.Background(), tail, []domain.Event{shifted(5), shifted(3)}); engine.CodeOf(err) != engine.CodeDesync {
		t.Fatalf("expected desync, got %v", err)
	}
	// A batch that skips over a missed one is a desync too.
	if _, err := peer.ApplyExternal(context.Background(), tail+2, []domain.Event{shifted(3)}); engine.CodeOf(err) != engine.CodeDesync {
		t.Fatalf("expected desync for a gap, got %v", err)
	}
	if len(peer.Events()) != len(log) {
		t.Fatalf("rejected batches changed the peer log")
	}

	cancel()
	mustDispatch(t, host, domain.SubmitDecision("alice", domain.Decision{}))
	if len(updates) != 2 {
		t.Fatalf("listener called after cancel")
	}

	peer.SyncEventCounter([]domain.Event{{ID: domain.EventID(500), Seq: 500}})
	if peer.Counter() != 500 {
		t.Fatalf("expected counter 500, got %d", peer.Counter())
	}
}

func TestListenersSeeCommitOrder(t *testing.T) {
	eng := newTable(t, sentryTable())
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		seen  []engine.Update
		first = true
	)
	eng.Subscribe(func(u engine.Update) {
		if first {
			first = false
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, u)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := eng.Dispatch(context.Background(), domain.EndPhase("alice"))
		done <- err
	}()
	<-entered
	mustDispatch(t, eng, domain.EndPhase("alice"))
	mu.Lock()
	early := len(seen)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("second update delivered while the first was still running")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(seen))
	}
	if seen[1].After != seen[0].Events[len(seen[0].Events)-1].Seq {
		t.Fatalf("updates out of order: second follows seq %d, first ends at %s", seen[1].After, seen[0].Events[len(seen[0].Events)-1].ID)
	}
}
