package server

import (
	"dominion/internal/consensus"
	"dominion/internal/domain"
	"dominion/internal/room"
)

// Request payloads

type CreateGameRequest struct {
	Name    string            `json:"name,omitempty"`
	Players []string          `json:"players" minItems:"1" maxItems:"4"`
	Preset  string            `json:"preset,omitempty"`
	Kingdom []domain.CardName `json:"kingdom,omitempty"`
	Seed    int64             `json:"seed,omitempty"`
	Rules   *domain.Rules     `json:"rules,omitempty"`
	// UndoTTLSeconds of 0 keeps the default.
	UndoTTLSeconds int `json:"undo_ttl_seconds,omitempty"`
}

type VoteRequest struct {
	Player string             `json:"player"`
	Votes  []consensus.Action `json:"votes" minItems:"1"`
}

type UndoBody struct {
	ToEventID string `json:"to_event_id"`
	Reason    string `json:"reason,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Seats   []string `json:"seats,omitempty"`
}

// Responses

type GameResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	EventCounter int64             `json:"event_counter"`
	Players      []string          `json:"players,omitempty"`
	Kingdom      []domain.CardName `json:"kingdom,omitempty"`
	Turn         int               `json:"turn"`
	ActivePlayer string            `json:"active_player,omitempty"`
	Phase        domain.Phase      `json:"phase,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

type paginatedGames struct {
	Items      []GameResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type CommandResponse struct {
	Events []domain.Event   `json:"events"`
	State  domain.GameState `json:"state"`
}

type ActionsResponse struct {
	Player   string             `json:"player"`
	ChoiceID string             `json:"choice_id,omitempty"`
	Actions  []consensus.Action `json:"actions"`
}

type VoteResponse struct {
	Winner  consensus.Action   `json:"winner"`
	Done    bool               `json:"done"`
	Decided []consensus.Action `json:"decided,omitempty"`
	// Options are the actions of the next round while the ballot is open.
	Options []consensus.Action `json:"options,omitempty"`
	Events  []domain.Event     `json:"events,omitempty"`
}

type UndoResponse struct {
	Request *room.UndoRequest `json:"request,omitempty"`
	State   *domain.GameState `json:"state,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func gameResponse(g domain.Game, st domain.GameState) GameResponse {
	out := GameResponse{
		ID:           g.ID,
		Name:         g.Name,
		Status:       g.Status,
		EventCounter: g.EventCounter,
		Kingdom:      st.Kingdom,
		Turn:         st.Turn,
		ActivePlayer: st.ActivePlayer,
		Phase:        st.Phase,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
	for _, p := range st.Players {
		out.Players = append(out.Players, p.ID)
	}
	return out
}
