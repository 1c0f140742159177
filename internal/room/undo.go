package room

import (
	"slices"
	"time"
)

type UndoStatus string

const (
	UndoPending  UndoStatus = "pending"
	UndoApproved UndoStatus = "approved"
	UndoDenied   UndoStatus = "denied"
	UndoExpired  UndoStatus = "expired"
	UndoFailed   UndoStatus = "failed"
)

// UndoRequest asks the room to truncate the log after ToEventID. Every peer
// in Required has to approve it.
type UndoRequest struct {
	ID        string     `json:"id"`
	Player    string     `json:"player"`
	ToEventID string     `json:"to_event_id"`
	Reason    string     `json:"reason,omitempty"`
	Status    UndoStatus `json:"status"`
	Required  []string   `json:"required,omitempty"`
	Approvals []string   `json:"approvals,omitempty"`
	DeniedBy  string     `json:"denied_by,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	// ExpiresAt is zero when requests never expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (u UndoRequest) Open() bool {
	return u.Status == UndoPending
}

func (u UndoRequest) clone() UndoRequest {
	u.Required = slices.Clone(u.Required)
	u.Approvals = slices.Clone(u.Approvals)
	return u
}

// expire marks a pending request expired once now reaches ExpiresAt.
func (u *UndoRequest) expire(now time.Time) bool {
	if u.Status != UndoPending || u.ExpiresAt.IsZero() || now.Before(u.ExpiresAt) {
		return false
	}
	u.Status = UndoExpired
	return true
}

func (u *UndoRequest) approve(peer string) {
	if !slices.Contains(u.Approvals, peer) {
		u.Approvals = append(u.Approvals, peer)
	}
}

func (u *UndoRequest) deny(peer string) {
	u.Status = UndoDenied
	u.DeniedBy = peer
}

// drop removes a peer that left the room from the quorum.
func (u *UndoRequest) drop(peer string) {
	u.Required = slices.DeleteFunc(u.Required, func(p string) bool { return p == peer })
}

func (u UndoRequest) quorum() bool {
	for _, p := range u.Required {
		if !slices.Contains(u.Approvals, p) {
			return false
		}
	}
	return true
}
