// Package consensus splits compound choices into small sets of atomic actions
// so that independent voters can each pick one, and folds the winning actions
// back into a single engine command.
package consensus

import (
	"errors"
	"fmt"

	"dominion/internal/domain"
)

type ActionType string

const (
	ActionPlay         ActionType = "play"
	ActionPlayTreasure ActionType = "play_treasure"
	ActionBuy          ActionType = "buy"
	ActionEndPhase     ActionType = "end_phase"
	ActionTrash        ActionType = "trash"
	ActionDiscard      ActionType = "discard"
	ActionGain         ActionType = "gain"
	ActionTopdeck      ActionType = "topdeck"
	ActionPlayCard     ActionType = "play_card"
	ActionSetAside     ActionType = "set_aside"
	ActionSelect       ActionType = "select"
	ActionReveal       ActionType = "reveal"
	ActionDecline      ActionType = "decline"
	ActionSkip         ActionType = "skip"
)

// Action is one atomic move a voter can pick.
type Action struct {
	Type ActionType      `json:"type"`
	Card domain.CardName `json:"card,omitempty"`
	// Index is the position in the choice's card options for per-card decisions.
	Index int `json:"index,omitempty"`
}

func (a Action) String() string {
	switch {
	case a.Card == "":
		return string(a.Type)
	case a.Index > 0:
		return fmt.Sprintf("%s %s #%d", a.Type, a.Card, a.Index)
	}
	return fmt.Sprintf("%s %s", a.Type, a.Card)
}

var ErrInvalidAction = errors.New("consensus: invalid action")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}

// StageAction names the atomic action for picking a card at stage.
func StageAction(stage domain.Stage) ActionType {
	switch stage {
	case domain.StageTrash:
		return ActionTrash
	case domain.StageDiscard:
		return ActionDiscard
	case domain.StageGain:
		return ActionGain
	case domain.StageTopdeck:
		return ActionTopdeck
	case domain.StagePlay:
		return ActionPlayCard
	case domain.StageSetAside:
		return ActionSetAside
	}
	return ActionSelect
}

// Decompose lists the atomic actions still open on choice after the actions
// in decided have been taken. It returns nil once nothing is left to decide.
//
// Per-card decisions advance one card at a time: only the next undecided card
// is offered, once per sub-action.
func Decompose(choice domain.PendingChoice, decided []Action) []Action {
	if choice.Kind == domain.ChoiceReaction {
		if len(decided) > 0 {
			return nil
		}
		var out []Action
		for _, c := range domain.Distinct(choice.CardOptions) {
			out = append(out, Action{Type: ActionReveal, Card: c})
		}
		return append(out, Action{Type: ActionDecline})
	}

	if len(choice.ActionOptions) > 0 {
		i := len(decided)
		if i >= len(choice.CardOptions) || i >= choice.Max {
			return nil
		}
		var out []Action
		for _, sub := range choice.ActionOptions {
			out = append(out, Action{Type: ActionType(sub), Card: choice.CardOptions[i], Index: i})
		}
		if i >= choice.Min {
			out = append(out, Action{Type: ActionSkip})
		}
		return out
	}

	if len(decided) >= choice.Max {
		return nil
	}
	remaining := remove(choice.CardOptions, cardsOf(decided))
	typ := StageAction(choice.Stage)
	var out []Action
	for _, c := range domain.Distinct(remaining) {
		out = append(out, Action{Type: typ, Card: c})
	}
	if len(decided) >= choice.Min {
		out = append(out, Action{Type: ActionSkip})
	}
	return out
}

// Assemble rebuilds the command that answers choice with the given actions.
// A skip ends the selection; anything after it is ignored.
func Assemble(choice domain.PendingChoice, chosen ...Action) (domain.Command, error) {
	if choice.Kind == domain.ChoiceReaction {
		if len(chosen) != 1 {
			return domain.Command{}, invalid("a reaction takes exactly one action, got %d", len(chosen))
		}
		switch a := chosen[0]; a.Type {
		case ActionReveal:
			if !contains(choice.CardOptions, a.Card) {
				return domain.Command{}, invalid("%s is not an offered reaction", a.Card)
			}
			return domain.RevealReaction(choice.Player, a.Card), nil
		case ActionDecline:
			return domain.DeclineReaction(choice.Player), nil
		default:
			return domain.Command{}, invalid("%s does not answer a reaction", a.Type)
		}
	}

	d := domain.Decision{ChoiceID: choice.ID, Stage: choice.Stage}
	for i, a := range chosen {
		if a.Type == ActionSkip {
			break
		}
		if len(choice.ActionOptions) > 0 {
			if a.Index != i || i >= len(choice.CardOptions) || choice.CardOptions[i] != a.Card {
				return domain.Command{}, invalid("%s is out of turn, expected card #%d", a, i)
			}
			if !offered(choice.ActionOptions, domain.CardAction(a.Type)) {
				return domain.Command{}, invalid("%s is not an offered action", a.Type)
			}
			d.CardActions = append(d.CardActions, domain.CardAction(a.Type))
		} else if want := StageAction(choice.Stage); a.Type != want {
			return domain.Command{}, invalid("%s does not fit a %s choice", a.Type, choice.Stage)
		}
		d.Selected = append(d.Selected, a.Card)
	}
	if n := len(d.Selected); n < choice.Min || n > choice.Max {
		return domain.Command{}, invalid("%d card(s) chosen, need %d to %d", n, choice.Min, choice.Max)
	}
	if !domain.ContainsAll(choice.CardOptions, d.Selected) {
		return domain.Command{}, invalid("%v is not within %v", d.Selected, choice.CardOptions)
	}
	return domain.SubmitDecision(choice.Player, d), nil
}

// LegalActions lists what player may do right now. With a choice open only
// its owner has actions.
func LegalActions(state domain.GameState, player string) []Action {
	if !state.Started() || state.Over() {
		return nil
	}
	if p := state.Pending; p != nil {
		if p.Player != player {
			return nil
		}
		return Decompose(*p, nil)
	}
	if state.ActivePlayer != player {
		return nil
	}
	pl := state.Player(player)
	if pl == nil {
		return nil
	}

	var out []Action
	hand := domain.Distinct(pl.Hand)
	if state.Phase == domain.PhaseAction && state.Actions > 0 {
		for _, c := range hand {
			if domain.IsType(c, domain.TypeAction) {
				out = append(out, Action{Type: ActionPlay, Card: c})
			}
		}
	}
	if (state.Phase == domain.PhaseAction || state.Phase == domain.PhaseBuy) && state.Bought == 0 {
		for _, c := range hand {
			if domain.IsType(c, domain.TypeTreasure) {
				out = append(out, Action{Type: ActionPlayTreasure, Card: c})
			}
		}
	}
	if state.Phase == domain.PhaseBuy && state.Buys > 0 {
		for _, c := range domain.AllCards() {
			if state.Supply[c] > 0 && domain.CostOf(c) <= state.Coins {
				out = append(out, Action{Type: ActionBuy, Card: c})
			}
		}
	}
	if state.Phase == domain.PhaseAction || state.Phase == domain.PhaseBuy {
		out = append(out, Action{Type: ActionEndPhase})
	}
	return out
}

// TurnCommand converts a turn-level action into a command for player.
func TurnCommand(player string, a Action) (domain.Command, error) {
	switch a.Type {
	case ActionPlay:
		return domain.PlayAction(player, a.Card), nil
	case ActionPlayTreasure:
		return domain.PlayTreasure(player, a.Card), nil
	case ActionBuy:
		return domain.BuyCard(player, a.Card), nil
	case ActionEndPhase:
		return domain.EndPhase(player), nil
	}
	return domain.Command{}, invalid("%s needs an open choice", a.Type)
}

// Tally returns the plurality winner. Ties go to the action that received
// its first vote earliest.
func Tally(votes []Action) (Action, bool) {
	if len(votes) == 0 {
		return Action{}, false
	}
	counts := map[Action]int{}
	var order []Action
	for _, v := range votes {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := order[0]
	for _, a := range order[1:] {
		if counts[a] > counts[best] {
			best = a
		}
	}
	return best, true
}

func cardsOf(actions []Action) []domain.CardName {
	out := make([]domain.CardName, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Card)
	}
	return out
}

// remove drops one occurrence of each card in taken.
func remove(from, taken []domain.CardName) []domain.CardName {
	out := append([]domain.CardName(nil), from...)
	for _, t := range taken {
		for i, c := range out {
			if c == t {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
	}
	return out
}

func contains(cards []domain.CardName, card domain.CardName) bool {
	for _, c := range cards {
		if c == card {
			return true
		}
	}
	return false
}

func offered(options []domain.CardAction, a domain.CardAction) bool {
	for _, o := range options {
		if o == a {
			return true
		}
	}
	return false
}
