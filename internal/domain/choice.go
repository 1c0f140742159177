package domain

import (
	"encoding/json"
	"fmt"
)

// Stage names one step of a card's resolution. Card stage tables are keyed by it.
type Stage string

const (
	StageInitial  Stage = "initial"
	StageTrash    Stage = "trash"
	StageDiscard  Stage = "discard"
	StageOrder    Stage = "order"
	StageGain     Stage = "gain"
	StageTopdeck  Stage = "topdeck"
	StagePlay     Stage = "play"
	StageSetAside Stage = "set_aside"
	StageSort     Stage = "sort"
)

// CardAction is a per-card sub-action offered by a decision.
type CardAction string

const (
	CardActionTrash   CardAction = "trash"
	CardActionDiscard CardAction = "discard"
	CardActionTopdeck CardAction = "topdeck"
)

type ChoiceKind string

const (
	ChoiceDecision ChoiceKind = "decision"
	ChoiceReaction ChoiceKind = "reaction"
)

type ResolutionKind string

const (
	// ResolvePlay runs a card's own stage table for the active player.
	ResolvePlay ResolutionKind = "play"
	// ResolveReaction offers the target a chance to reveal a reaction.
	ResolveReaction ResolutionKind = "reaction"
	// ResolveAttack runs a card's attack stage table against one target.
	ResolveAttack ResolutionKind = "attack"
)

// Resolution is one queued unit of card resolution.
type Resolution struct {
	Kind     ResolutionKind `json:"kind"`
	Card     CardName       `json:"card"`
	Player   string         `json:"player"`
	Attacker string         `json:"attacker,omitempty"`
}

// PendingChoice is the single open input the game is waiting for.
type PendingChoice struct {
	Kind   ChoiceKind `json:"kind"`
	ID     string     `json:"id"`
	Player string     `json:"player"`
	// Source is the resolution the choice belongs to.
	Source        Resolution   `json:"source"`
	Card          CardName     `json:"card"`
	Stage         Stage        `json:"stage,omitempty"`
	Prompt        string       `json:"prompt,omitempty"`
	From          Zone         `json:"from,omitempty"`
	CardOptions   []CardName   `json:"card_options"`
	Min           int          `json:"min"`
	Max           int          `json:"max"`
	RequireOrder  bool         `json:"require_order,omitempty"`
	ActionOptions []CardAction `json:"action_options,omitempty"`
	Continuation  Continuation `json:"-"`
	Queue         []Resolution `json:"queue,omitempty"`
}

func (p PendingChoice) Clone() PendingChoice {
	out := p
	out.CardOptions = cloneCards(p.CardOptions)
	out.ActionOptions = append([]CardAction(nil), p.ActionOptions...)
	out.Queue = append([]Resolution(nil), p.Queue...)
	if p.Continuation != nil {
		out.Continuation = p.Continuation.clone()
	}
	return out
}

type pendingChoiceJSON PendingChoice

type pendingChoiceWire struct {
	pendingChoiceJSON
	Continuation *continuationWire `json:"continuation,omitempty"`
}

type continuationWire struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (p PendingChoice) MarshalJSON() ([]byte, error) {
	w := pendingChoiceWire{pendingChoiceJSON: pendingChoiceJSON(p)}
	if p.Continuation != nil {
		data, err := json.Marshal(p.Continuation)
		if err != nil {
			return nil, err
		}
		w.Continuation = &continuationWire{Kind: p.Continuation.ContinuationKind(), Data: data}
	}
	return json.Marshal(w)
}

func (p *PendingChoice) UnmarshalJSON(data []byte) error {
	var w pendingChoiceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = PendingChoice(w.pendingChoiceJSON)
	p.Continuation = nil
	if w.Continuation == nil {
		return nil
	}
	decode, ok := continuationDecoders[w.Continuation.Kind]
	if !ok {
		return fmt.Errorf("unknown continuation kind %q", w.Continuation.Kind)
	}
	cont, err := decode(w.Continuation.Data)
	if err != nil {
		return fmt.Errorf("decode continuation %s: %w", w.Continuation.Kind, err)
	}
	p.Continuation = cont
	return nil
}

// Continuation is the typed state a card carries between stages.
type Continuation interface {
	ContinuationKind() string
	clone() Continuation
}

// GainBudget limits what a following gain stage may take.
type GainBudget struct {
	MaxCost      int  `json:"max_cost"`
	TreasureOnly bool `json:"treasure_only,omitempty"`
	To           Zone `json:"to"`
}

func (GainBudget) ContinuationKind() string { return "gain_budget" }
func (g GainBudget) clone() Continuation    { return g }

// CardRef points at the single card a stage is about.
type CardRef struct {
	Card CardName `json:"card"`
}

func (CardRef) ContinuationKind() string { return "card_ref" }
func (c CardRef) clone() Continuation    { return c }

// RevealedCards records cards revealed earlier in the resolution, in reveal order.
type RevealedCards struct {
	Cards []CardName `json:"cards"`
}

func (RevealedCards) ContinuationKind() string { return "revealed_cards" }
func (r RevealedCards) clone() Continuation {
	return RevealedCards{Cards: cloneCards(r.Cards)}
}

var continuationDecoders = map[string]func([]byte) (Continuation, error){
	"gain_budget":    decodeContinuation[GainBudget],
	"card_ref":       decodeContinuation[CardRef],
	"revealed_cards": decodeContinuation[RevealedCards],
}

func decodeContinuation[T Continuation](data []byte) (Continuation, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decision is a player's answer to an open decision.
type Decision struct {
	// ChoiceID and Stage, when set, must match the open choice.
	ChoiceID    string       `json:"choice_id,omitempty"`
	Stage       Stage        `json:"stage,omitempty"`
	Selected    []CardName   `json:"selected_cards,omitempty"`
	CardActions []CardAction `json:"card_actions,omitempty"`
	// Order is a permutation of indexes into Selected. Empty means as given.
	Order []int `json:"card_order,omitempty"`
}

// Ordered returns Selected arranged by Order.
func (d Decision) Ordered() []CardName {
	if len(d.Order) == 0 {
		return cloneCards(d.Selected)
	}
	out := make([]CardName, 0, len(d.Order))
	for _, i := range d.Order {
		out = append(out, d.Selected[i])
	}
	return out
}
