package domain

type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseAction   Phase = "action"
	PhaseBuy      Phase = "buy"
	PhaseCleanup  Phase = "cleanup"
	PhaseGameOver Phase = "game_over"
)

type Zone string

const (
	ZoneHand     Zone = "hand"
	ZoneDeck     Zone = "deck"
	ZoneDiscard  Zone = "discard"
	ZoneInPlay   Zone = "in_play"
	ZoneRevealed Zone = "revealed"
	ZoneAside    Zone = "aside"
	ZoneSupply   Zone = "supply"
	ZoneTrash    Zone = "trash"
)

// Rules are table options fixed when a game is initialized.
type Rules struct {
	// SentryPerCard offers Sentry as a single per-card trash/discard/topdeck choice.
	SentryPerCard bool `json:"sentry_per_card,omitempty" yaml:"sentry_per_card"`
}

type PlayerState struct {
	ID       string     `json:"id"`
	Hand     []CardName `json:"hand"`
	Deck     []CardName `json:"deck"` // index 0 is the top card
	Discard  []CardName `json:"discard"`
	InPlay   []CardName `json:"in_play"`
	Revealed []CardName `json:"revealed,omitempty"`
	Aside    []CardName `json:"aside,omitempty"`
	Turns    int        `json:"turns"`
}

// Zone returns the cards in a per-player zone.
func (p *PlayerState) Zone(z Zone) []CardName {
	switch z {
	case ZoneHand:
		return p.Hand
	case ZoneDeck:
		return p.Deck
	case ZoneDiscard:
		return p.Discard
	case ZoneInPlay:
		return p.InPlay
	case ZoneRevealed:
		return p.Revealed
	case ZoneAside:
		return p.Aside
	}
	return nil
}

// SetZone replaces a per-player zone. Only the projector calls it.
func (p *PlayerState) SetZone(z Zone, cards []CardName) bool {
	switch z {
	case ZoneHand:
		p.Hand = cards
	case ZoneDeck:
		p.Deck = cards
	case ZoneDiscard:
		p.Discard = cards
	case ZoneInPlay:
		p.InPlay = cards
	case ZoneRevealed:
		p.Revealed = cards
	case ZoneAside:
		p.Aside = cards
	default:
		return false
	}
	return true
}

// AllCards returns every card the player owns.
func (p *PlayerState) AllCards() []CardName {
	var out []CardName
	for _, z := range [][]CardName{p.Hand, p.Deck, p.Discard, p.InPlay, p.Revealed, p.Aside} {
		out = append(out, z...)
	}
	return out
}

type GameState struct {
	Players      []PlayerState    `json:"players"`
	Supply       map[CardName]int `json:"supply"`
	Kingdom      []CardName       `json:"kingdom"`
	Trash        []CardName       `json:"trash"`
	Seed         int64            `json:"seed"`
	Rules        Rules            `json:"rules"`
	Turn         int              `json:"turn"`
	ActivePlayer string           `json:"active_player,omitempty"`
	Phase        Phase            `json:"phase"`
	Actions      int              `json:"actions"`
	Buys         int              `json:"buys"`
	Coins        int              `json:"coins"`
	SilverBonus  int              `json:"silver_bonus,omitempty"`
	Bought       int              `json:"bought,omitempty"`
	Pending      *PendingChoice   `json:"pending_choice,omitempty"`
	EventCount   int              `json:"event_count"`
	LastEventID  string           `json:"last_event_id,omitempty"`
	Result       *GameResult      `json:"result,omitempty"`
}

type GameResult struct {
	Scores  map[string]int `json:"scores"`
	Winners []string       `json:"winners"`
}

func (s *GameState) Started() bool {
	return len(s.Players) > 0
}

func (s *GameState) Over() bool {
	return s.Phase == PhaseGameOver
}

func (s *GameState) PlayerIndex(id string) int {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// Player returns a pointer into s.Players, or nil.
func (s *GameState) Player(id string) *PlayerState {
	if i := s.PlayerIndex(id); i >= 0 {
		return &s.Players[i]
	}
	return nil
}

// Opponents lists the other players in turn order, starting to the left of id.
func (s *GameState) Opponents(id string) []string {
	idx := s.PlayerIndex(id)
	if idx < 0 {
		return nil
	}
	var out []string
	for i := 1; i < len(s.Players); i++ {
		out = append(out, s.Players[(idx+i)%len(s.Players)].ID)
	}
	return out
}

// NextPlayer is the player seated after id.
func (s *GameState) NextPlayer(id string) string {
	idx := s.PlayerIndex(id)
	if idx < 0 || len(s.Players) == 0 {
		return ""
	}
	return s.Players[(idx+1)%len(s.Players)].ID
}

// EmptyPiles counts supply piles that have run out.
func (s *GameState) EmptyPiles() int {
	n := 0
	for _, count := range s.Supply {
		if count == 0 {
			n++
		}
	}
	return n
}

// Clone deep-copies the state so callers can never alias projector-owned slices.
func (s GameState) Clone() GameState {
	out := s
	out.Players = make([]PlayerState, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = PlayerState{
			ID:       p.ID,
			Hand:     cloneCards(p.Hand),
			Deck:     cloneCards(p.Deck),
			Discard:  cloneCards(p.Discard),
			InPlay:   cloneCards(p.InPlay),
			Revealed: cloneCards(p.Revealed),
			Aside:    cloneCards(p.Aside),
			Turns:    p.Turns,
		}
	}
	if s.Supply != nil {
		out.Supply = make(map[CardName]int, len(s.Supply))
		for k, v := range s.Supply {
			out.Supply[k] = v
		}
	}
	out.Kingdom = cloneCards(s.Kingdom)
	out.Trash = cloneCards(s.Trash)
	if s.Pending != nil {
		p := s.Pending.Clone()
		out.Pending = &p
	}
	if s.Result != nil {
		r := GameResult{Scores: map[string]int{}, Winners: append([]string(nil), s.Result.Winners...)}
		for k, v := range s.Result.Scores {
			r.Scores[k] = v
		}
		out.Result = &r
	}
	return out
}

func cloneCards(in []CardName) []CardName {
	if in == nil {
		return nil
	}
	return append(make([]CardName, 0, len(in)), in...)
}
