package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventGameInitialized  EventType = "GAME_INITIALIZED"
	EventTurnStarted      EventType = "TURN_STARTED"
	EventPhaseChanged     EventType = "PHASE_CHANGED"
	EventTurnEnded        EventType = "TURN_ENDED"
	EventDeckShuffled     EventType = "DECK_SHUFFLED"
	EventCardDrawn        EventType = "CARD_DRAWN"
	EventCardPlayed       EventType = "CARD_PLAYED"
	EventCardBought       EventType = "CARD_BOUGHT"
	EventCardGained       EventType = "CARD_GAINED"
	EventCardTrashed      EventType = "CARD_TRASHED"
	EventCardDiscarded    EventType = "CARD_DISCARDED"
	EventCardPutOnDeck    EventType = "CARD_PUT_ON_DECK"
	EventCardRevealed     EventType = "CARD_REVEALED"
	EventCardSetAside     EventType = "CARD_SET_ASIDE"
	EventActionsModified  EventType = "ACTIONS_MODIFIED"
	EventBuysModified     EventType = "BUYS_MODIFIED"
	EventCoinsModified    EventType = "COINS_MODIFIED"
	EventSilverBonusAdded EventType = "SILVER_BONUS_ADDED"
	EventDecisionRequired EventType = "DECISION_REQUIRED"
	EventDecisionResolved EventType = "DECISION_RESOLVED"
	EventReactionRevealed EventType = "REACTION_REVEALED"
	EventReactionDeclined EventType = "REACTION_DECLINED"
	EventGameEnded        EventType = "GAME_ENDED"
)

// Payload is the type-specific body of an event. Payloads are plain values.
type Payload interface {
	EventType() EventType
}

// Event is one immutable entry of a game log.
type Event struct {
	ID      string    `json:"id"`
	Seq     int64     `json:"seq"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"-"`
}

func (e Event) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// EventID formats the id of the event at seq.
func EventID(seq int64) string {
	return "evt-" + strconv.FormatInt(seq, 10)
}

// ParseEventID returns the sequence number encoded in an event id.
func ParseEventID(id string) (int64, error) {
	raw, ok := strings.CutPrefix(id, "evt-")
	if !ok {
		return 0, fmt.Errorf("invalid event id %q", id)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("invalid event id %q", id)
	}
	return seq, nil
}

type eventHeader struct {
	ID   string    `json:"id"`
	Seq  int64     `json:"seq"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

// MarshalJSON flattens the payload next to id, seq, type and at.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	head, err := json.Marshal(eventHeader{ID: e.ID, Seq: e.Seq, Type: e.Type(), At: e.At})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var head eventHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	p, err := DecodePayload(head.Type, data)
	if err != nil {
		return err
	}
	*e = Event{ID: head.ID, Seq: head.Seq, At: head.At, Payload: p}
	return nil
}

// DecodePayload decodes the body of an event of the given type.
func DecodePayload(t EventType, data []byte) (Payload, error) {
	decode, ok := payloadDecoders[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	p, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return p, nil
}

var payloadDecoders = map[EventType]func([]byte) (Payload, error){
	EventGameInitialized:  decodePayload[GameInitialized],
	EventTurnStarted:      decodePayload[TurnStarted],
	EventPhaseChanged:     decodePayload[PhaseChanged],
	EventTurnEnded:        decodePayload[TurnEnded],
	EventDeckShuffled:     decodePayload[DeckShuffled],
	EventCardDrawn:        decodePayload[CardDrawn],
	EventCardPlayed:       decodePayload[CardPlayed],
	EventCardBought:       decodePayload[CardBought],
	EventCardGained:       decodePayload[CardGained],
	EventCardTrashed:      decodePayload[CardTrashed],
	EventCardDiscarded:    decodePayload[CardDiscarded],
	EventCardPutOnDeck:    decodePayload[CardPutOnDeck],
	EventCardRevealed:     decodePayload[CardRevealed],
	EventCardSetAside:     decodePayload[CardSetAside],
	EventActionsModified:  decodePayload[ActionsModified],
	EventBuysModified:     decodePayload[BuysModified],
	EventCoinsModified:    decodePayload[CoinsModified],
	EventSilverBonusAdded: decodePayload[SilverBonusAdded],
	EventDecisionRequired: decodePayload[DecisionRequired],
	EventDecisionResolved: decodePayload[DecisionResolved],
	EventReactionRevealed: decodePayload[ReactionRevealed],
	EventReactionDeclined: decodePayload[ReactionDeclined],
	EventGameEnded:        decodePayload[GameEnded],
}

func decodePayload[T Payload](data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// GameInitialized creates the players and supply. Starting decks go to discard
// so the first shuffle is an ordinary DECK_SHUFFLED event.
type GameInitialized struct {
	Players      []string         `json:"players"`
	Kingdom      []CardName       `json:"kingdom"`
	Supply       map[CardName]int `json:"supply"`
	StartingDeck []CardName       `json:"starting_deck"`
	Seed         int64            `json:"seed"`
	Rules        Rules            `json:"rules"`
}

type TurnStarted struct {
	Player string `json:"player"`
	Turn   int    `json:"turn"`
}

type PhaseChanged struct {
	Phase Phase `json:"phase"`
}

type TurnEnded struct {
	Player string `json:"player"`
}

// DeckShuffled moves the whole discard pile under the deck in Order.
type DeckShuffled struct {
	Player string     `json:"player"`
	Order  []CardName `json:"order"`
}

type CardDrawn struct {
	Player string `json:"player"`
	Count  int    `json:"count"`
}

type CardPlayed struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
	From   Zone     `json:"from"`
}

type CardBought struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
}

type CardGained struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
	To     Zone     `json:"to"`
}

type CardTrashed struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
	From   Zone     `json:"from"`
}

type CardDiscarded struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
	From   Zone     `json:"from"`
}

type CardPutOnDeck struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
	From   Zone     `json:"from"`
}

// CardRevealed moves the top card of the deck to the revealed zone.
type CardRevealed struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
}

type CardSetAside struct {
	Player string   `json:"player"`
	Card   CardName `json:"card"`
	From   Zone     `json:"from"`
}

type ActionsModified struct {
	Delta int `json:"delta"`
}

type BuysModified struct {
	Delta int `json:"delta"`
}

type CoinsModified struct {
	Delta int `json:"delta"`
}

type SilverBonusAdded struct {
	Amount int `json:"amount"`
}

type DecisionRequired struct {
	Choice PendingChoice `json:"choice"`
}

type DecisionResolved struct {
	Player      string       `json:"player"`
	ChoiceID    string       `json:"choice_id"`
	Stage       Stage        `json:"stage"`
	Selected    []CardName   `json:"selected_cards"`
	CardActions []CardAction `json:"card_actions,omitempty"`
	Order       []int        `json:"card_order,omitempty"`
}

type ReactionRevealed struct {
	Player   string   `json:"player"`
	ChoiceID string   `json:"choice_id"`
	Card     CardName `json:"card"`
	Attack   CardName `json:"attack"`
}

type ReactionDeclined struct {
	Player   string   `json:"player"`
	ChoiceID string   `json:"choice_id"`
	Attack   CardName `json:"attack"`
}

type GameEnded struct {
	Scores  map[string]int `json:"scores"`
	Winners []string       `json:"winners"`
}

func (GameInitialized) EventType() EventType  { return EventGameInitialized }
func (TurnStarted) EventType() EventType      { return EventTurnStarted }
func (PhaseChanged) EventType() EventType     { return EventPhaseChanged }
func (TurnEnded) EventType() EventType        { return EventTurnEnded }
func (DeckShuffled) EventType() EventType     { return EventDeckShuffled }
func (CardDrawn) EventType() EventType        { return EventCardDrawn }
func (CardPlayed) EventType() EventType       { return EventCardPlayed }
func (CardBought) EventType() EventType       { return EventCardBought }
func (CardGained) EventType() EventType       { return EventCardGained }
func (CardTrashed) EventType() EventType      { return EventCardTrashed }
func (CardDiscarded) EventType() EventType    { return EventCardDiscarded }
func (CardPutOnDeck) EventType() EventType    { return EventCardPutOnDeck }
func (CardRevealed) EventType() EventType     { return EventCardRevealed }
func (CardSetAside) EventType() EventType     { return EventCardSetAside }
func (ActionsModified) EventType() EventType  { return EventActionsModified }
func (BuysModified) EventType() EventType     { return EventBuysModified }
func (CoinsModified) EventType() EventType    { return EventCoinsModified }
func (SilverBonusAdded) EventType() EventType { return EventSilverBonusAdded }
func (DecisionRequired) EventType() EventType { return EventDecisionRequired }
func (DecisionResolved) EventType() EventType { return EventDecisionResolved }
func (ReactionRevealed) EventType() EventType { return EventReactionRevealed }
func (ReactionDeclined) EventType() EventType { return EventReactionDeclined }
func (GameEnded) EventType() EventType        { return EventGameEnded }
