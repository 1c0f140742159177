package room

import (
	"dominion/internal/domain"
)

type MessageType string

const (
	MsgHello       MessageType = "hello"
	MsgBye         MessageType = "bye"
	MsgRoster      MessageType = "roster"
	MsgEvents      MessageType = "events"
	MsgFullSync    MessageType = "full_sync"
	MsgCommand     MessageType = "command"
	MsgError       MessageType = "error"
	MsgUndoRequest MessageType = "undo_request"
	MsgUndoApprove MessageType = "undo_approve"
	MsgUndoDeny    MessageType = "undo_deny"
	MsgUndoStatus  MessageType = "undo_status"
)

// Message is the envelope every relay carries. To is empty for broadcasts.
type Message struct {
	Type MessageType `json:"type"`
	From string      `json:"from"`
	To   string      `json:"to,omitempty"`
	Host bool        `json:"host,omitempty"`

	Events []domain.Event `json:"events,omitempty"`
	// After is the seq the host's log ended at before Events.
	After   int64             `json:"after,omitempty"`
	State   *domain.GameState `json:"state,omitempty"`
	Roster  []string          `json:"roster,omitempty"`
	Command *domain.Command   `json:"command,omitempty"`
	Undo    *UndoRequest      `json:"undo,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (m Message) addressedTo(peer string) bool {
	return m.From != peer && (m.To == "" || m.To == peer)
}
