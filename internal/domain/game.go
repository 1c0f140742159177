package domain

const (
	GameActive   = "active"
	GameFinished = "finished"
)

// Game is the stored record of one game. Its state lives in the event log.
type Game struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	// EventCounter is the highest event id ever issued, including undone ones.
	EventCounter int64  `json:"event_counter"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// RoomInfo is what a peer remembers about the room it last joined.
type RoomInfo struct {
	GameID    string   `json:"game_id"`
	Code      string   `json:"code"`
	PeerID    string   `json:"peer_id"`
	IsHost    bool     `json:"is_host"`
	Roster    []string `json:"roster"`
	UpdatedAt string   `json:"updated_at"`
}
