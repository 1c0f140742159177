// Package projector derives GameState from the event log. It is the only code
// that changes a GameState.
package projector

import (
	"fmt"

	"dominion/internal/domain"
)

// InvalidEventError reports an event that cannot apply to the state it follows.
type InvalidEventError struct {
	EventID string
	Type    domain.EventType
	Reason  string
}

func (e *InvalidEventError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("invalid event %s (%s): %s", e.EventID, e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid %s event: %s", e.Type, e.Reason)
}

// Project folds events over an empty state.
func Project(events []domain.Event) (domain.GameState, error) {
	var s domain.GameState
	for _, ev := range events {
		if err := Advance(&s, ev); err != nil {
			return domain.GameState{}, err
		}
	}
	return s, nil
}

// ProjectUntil folds the prefix of events ending at seq (inclusive).
func ProjectUntil(events []domain.Event, seq int64) (domain.GameState, error) {
	var s domain.GameState
	for _, ev := range events {
		if ev.Seq > seq {
			break
		}
		if err := Advance(&s, ev); err != nil {
			return domain.GameState{}, err
		}
	}
	return s, nil
}

// Apply returns the state after ev without touching the input.
func Apply(state domain.GameState, ev domain.Event) (domain.GameState, error) {
	next := state.Clone()
	if err := Advance(&next, ev); err != nil {
		return domain.GameState{}, err
	}
	return next, nil
}

// AppendEvents concatenates a log with new events.
func AppendEvents(log, events []domain.Event) []domain.Event {
	out := make([]domain.Event, 0, len(log)+len(events))
	out = append(out, log...)
	return append(out, events...)
}

// Advance applies ev to s in place, including the event counters.
// The caller must own s.
func Advance(s *domain.GameState, ev domain.Event) error {
	if err := Step(s, ev.Payload); err != nil {
		if ie, ok := err.(*InvalidEventError); ok {
			ie.EventID = ev.ID
		}
		return err
	}
	s.EventCount++
	s.LastEventID = ev.ID
	return nil
}

// Step applies a payload to s in place without touching the event counters.
// Card handlers use it to simulate their own output on a private copy.
func Step(s *domain.GameState, p domain.Payload) error {
	if p == nil {
		return &InvalidEventError{Reason: "missing payload"}
	}
	fail := func(format string, args ...any) error {
		return &InvalidEventError{Type: p.EventType(), Reason: fmt.Sprintf(format, args...)}
	}
	if _, ok := p.(domain.GameInitialized); !ok && !s.Started() {
		return fail("game not initialized")
	}

	switch e := p.(type) {
	case domain.GameInitialized:
		if s.Started() {
			return fail("game already initialized")
		}
		if len(e.Players) == 0 {
			return fail("no players")
		}
		seen := map[string]bool{}
		for _, id := range e.Players {
			if id == "" || seen[id] {
				return fail("invalid player id %q", id)
			}
			seen[id] = true
			s.Players = append(s.Players, domain.PlayerState{ID: id, Discard: cards(e.StartingDeck)})
		}
		s.Supply = make(map[domain.CardName]int, len(e.Supply))
		for k, v := range e.Supply {
			s.Supply[k] = v
		}
		s.Kingdom = cards(e.Kingdom)
		s.Seed = e.Seed
		s.Rules = e.Rules
		s.Phase = domain.PhaseSetup

	case domain.TurnStarted:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		pl.Turns++
		s.ActivePlayer = e.Player
		s.Turn = e.Turn
		s.Phase = domain.PhaseAction
		s.Actions, s.Buys, s.Coins = 1, 1, 0
		s.SilverBonus, s.Bought = 0, 0

	case domain.PhaseChanged:
		s.Phase = e.Phase

	case domain.TurnEnded:
		if e.Player != s.ActivePlayer {
			return fail("%s is not the active player", e.Player)
		}
		s.Actions, s.Buys, s.Coins = 0, 0, 0
		s.SilverBonus, s.Bought = 0, 0

	case domain.DeckShuffled:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if len(e.Order) != len(pl.Discard) || !domain.ContainsAll(pl.Discard, e.Order) {
			return fail("shuffle order does not match discard pile of %s", e.Player)
		}
		pl.Deck = join(pl.Deck, e.Order)
		pl.Discard = nil

	case domain.CardDrawn:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if e.Count < 0 || e.Count > len(pl.Deck) {
			return fail("cannot draw %d from a deck of %d", e.Count, len(pl.Deck))
		}
		pl.Hand = join(pl.Hand, pl.Deck[:e.Count])
		pl.Deck = cards(pl.Deck[e.Count:])

	case domain.CardPlayed:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if e.From != domain.ZoneHand && e.From != domain.ZoneDiscard {
			return fail("cannot play from %s", e.From)
		}
		if !take(pl, e.From, e.Card) {
			return fail("%s not in %s of %s", e.Card, e.From, e.Player)
		}
		pl.InPlay = join(pl.InPlay, []domain.CardName{e.Card})

	case domain.CardBought:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if s.Supply[e.Card] <= 0 {
			return fail("%s pile is empty", e.Card)
		}
		s.Supply[e.Card]--
		pl.Discard = join(pl.Discard, []domain.CardName{e.Card})
		s.Bought++

	case domain.CardGained:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if s.Supply[e.Card] <= 0 {
			return fail("%s pile is empty", e.Card)
		}
		if !put(pl, e.To, e.Card) {
			return fail("cannot gain to %s", e.To)
		}
		s.Supply[e.Card]--

	case domain.CardTrashed:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if !take(pl, e.From, e.Card) {
			return fail("%s not in %s of %s", e.Card, e.From, e.Player)
		}
		s.Trash = join(s.Trash, []domain.CardName{e.Card})

	case domain.CardDiscarded:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if e.From == domain.ZoneDiscard || !take(pl, e.From, e.Card) {
			return fail("%s not in %s of %s", e.Card, e.From, e.Player)
		}
		pl.Discard = join(pl.Discard, []domain.CardName{e.Card})

	case domain.CardPutOnDeck:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if e.From == domain.ZoneDeck || !take(pl, e.From, e.Card) {
			return fail("%s not in %s of %s", e.Card, e.From, e.Player)
		}
		pl.Deck = join([]domain.CardName{e.Card}, pl.Deck)

	case domain.CardRevealed:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if !take(pl, domain.ZoneDeck, e.Card) {
			return fail("%s is not the top card of %s", e.Card, e.Player)
		}
		pl.Revealed = join(pl.Revealed, []domain.CardName{e.Card})

	case domain.CardSetAside:
		pl := s.Player(e.Player)
		if pl == nil {
			return fail("unknown player %q", e.Player)
		}
		if e.From == domain.ZoneAside || !take(pl, e.From, e.Card) {
			return fail("%s not in %s of %s", e.Card, e.From, e.Player)
		}
		pl.Aside = join(pl.Aside, []domain.CardName{e.Card})

	case domain.ActionsModified:
		if s.Actions+e.Delta < 0 {
			return fail("actions would go negative")
		}
		s.Actions += e.Delta

	case domain.BuysModified:
		if s.Buys+e.Delta < 0 {
			return fail("buys would go negative")
		}
		s.Buys += e.Delta

	case domain.CoinsModified:
		if s.Coins+e.Delta < 0 {
			return fail("coins would go negative")
		}
		s.Coins += e.Delta

	case domain.SilverBonusAdded:
		s.SilverBonus += e.Amount

	case domain.DecisionRequired:
		if s.Pending != nil {
			return fail("choice %s is still open", s.Pending.ID)
		}
		if s.Player(e.Choice.Player) == nil {
			return fail("unknown player %q", e.Choice.Player)
		}
		c := e.Choice.Clone()
		s.Pending = &c

	case domain.DecisionResolved:
		if s.Pending == nil || s.Pending.Kind != domain.ChoiceDecision || s.Pending.ID != e.ChoiceID {
			return fail("no open decision %s", e.ChoiceID)
		}
		s.Pending = nil

	case domain.ReactionRevealed:
		if s.Pending == nil || s.Pending.Kind != domain.ChoiceReaction || s.Pending.ID != e.ChoiceID {
			return fail("no open reaction %s", e.ChoiceID)
		}
		s.Pending = nil

	case domain.ReactionDeclined:
		if s.Pending == nil || s.Pending.Kind != domain.ChoiceReaction || s.Pending.ID != e.ChoiceID {
			return fail("no open reaction %s", e.ChoiceID)
		}
		s.Pending = nil

	case domain.GameEnded:
		scores := make(map[string]int, len(e.Scores))
		for k, v := range e.Scores {
			scores[k] = v
		}
		s.Result = &domain.GameResult{Scores: scores, Winners: append([]string(nil), e.Winners...)}
		s.Phase = domain.PhaseGameOver
		s.Pending = nil

	default:
		return fail("unhandled event type")
	}
	return nil
}

// take removes card from zone. Deck removals only ever take the top card.
func take(pl *domain.PlayerState, z domain.Zone, card domain.CardName) bool {
	from := pl.Zone(z)
	if z == domain.ZoneDeck {
		if len(from) == 0 || from[0] != card {
			return false
		}
		return pl.SetZone(z, cards(from[1:]))
	}
	for i, c := range from {
		if c != card {
			continue
		}
		rest := join(from[:i:i], from[i+1:])
		return pl.SetZone(z, rest)
	}
	return false
}

func put(pl *domain.PlayerState, z domain.Zone, card domain.CardName) bool {
	switch z {
	case domain.ZoneDeck:
		pl.Deck = join([]domain.CardName{card}, pl.Deck)
	case domain.ZoneHand, domain.ZoneDiscard:
		pl.SetZone(z, join(pl.Zone(z), []domain.CardName{card}))
	default:
		return false
	}
	return true
}

// join copies a and b into a fresh slice; empty results are nil so that
// states built along different paths compare equal.
func join(a, b []domain.CardName) []domain.CardName {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make([]domain.CardName, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func cards(in []domain.CardName) []domain.CardName {
	return join(in, nil)
}
