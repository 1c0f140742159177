package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dominion/internal/domain"
	"dominion/internal/engine"
)

var (
	ErrNotHost     = errors.New("room: only the host can do that")
	ErrNoHost      = errors.New("room: no host has answered yet")
	ErrUndoPending = errors.New("room: an undo request is already open")
	ErrNoUndo      = errors.New("room: no such undo request")
	ErrUndoClosed  = errors.New("room: undo request is no longer open")
	ErrClosed      = errors.New("room: closed")
)

// Store remembers room membership between runs. repo.Repo implements it.
type Store interface {
	UpsertRoom(ctx context.Context, info domain.RoomInfo) error
}

type Options struct {
	GameID string
	Code   string
	PeerID string
	// Host owns the log. A peer's engine must be read-only.
	Host    bool
	Engine  *engine.Engine
	Relay   Relay
	Store   Store
	UndoTTL time.Duration
	Logger  *log.Logger
	Now     func() time.Time
	NewID   func() string
	// OnError receives rejections the host sent back to this peer.
	OnError func(Message)
}

// Room joins an engine to a relay. The host dispatches and broadcasts every
// change; peers forward commands and follow the host's log.
type Room struct {
	gameID  string
	code    string
	self    string
	host    bool
	eng     *engine.Engine
	relay   Relay
	store   Store
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
	onError func(Message)

	mu     sync.Mutex
	hostID string
	roster map[string]bool
	undo   *UndoRequest
	stops  []func()
	closed bool
}

// Join subscribes to the relay and announces this participant.
func Join(ctx context.Context, opts Options) (*Room, error) {
	switch {
	case opts.Code == "":
		return nil, errors.New("room: code is required")
	case opts.PeerID == "":
		return nil, errors.New("room: peer id is required")
	case opts.Engine == nil || opts.Relay == nil:
		return nil, errors.New("room: engine and relay are required")
	case opts.Host && opts.Engine.ReadOnly():
		return nil, errors.New("room: host engine must not be read-only")
	case !opts.Host && !opts.Engine.ReadOnly():
		return nil, errors.New("room: peer engine must be read-only")
	}
	r := &Room{
		gameID:  opts.GameID,
		code:    opts.Code,
		self:    opts.PeerID,
		host:    opts.Host,
		eng:     opts.Engine,
		relay:   opts.Relay,
		store:   opts.Store,
		ttl:     opts.UndoTTL,
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
		onError: opts.OnError,
		roster:  map[string]bool{opts.PeerID: true},
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.host {
		r.hostID = r.self
	}

	stop, err := r.relay.Subscribe(r.handle)
	if err != nil {
		return nil, err
	}
	r.stops = append(r.stops, stop)
	if r.host {
		r.stops = append(r.stops, r.eng.Subscribe(r.broadcast))
	}
	if err := r.publish(ctx, Message{Type: MsgHello, Host: r.host}); err != nil {
		r.stop()
		return nil, err
	}
	r.save(ctx)
	return r, nil
}

// NewCode returns a short room code.
func NewCode() string {
	return fmt.Sprintf("%08X", uuid.New().ID())[:6]
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) IsHost() bool {
	return r.host
}

func (r *Room) Engine() *engine.Engine {
	return r.eng
}

// Roster lists every known participant, this one included.
func (r *Room) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []string {
	out := make([]string, 0, len(r.roster))
	for p := range r.roster {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Room) Info() domain.RoomInfo {
	return domain.RoomInfo{
		GameID:    r.gameID,
		Code:      r.code,
		PeerID:    r.self,
		IsHost:    r.host,
		Roster:    r.Roster(),
		UpdatedAt: r.now().UTC().Format(time.RFC3339),
	}
}

// Dispatch runs cmd on the host. A peer forwards it and returns no events;
// the result arrives through the relay.
func (r *Room) Dispatch(ctx context.Context, cmd domain.Command) ([]domain.Event, error) {
	if r.host {
		return r.eng.Dispatch(ctx, cmd)
	}
	host, err := r.currentHost()
	if err != nil {
		return nil, err
	}
	c := cmd
	return nil, r.publish(ctx, Message{Type: MsgCommand, To: host, Command: &c, RequestID: r.newID()})
}

// RequestUndo opens an undo request. On a peer the request is sent to the
// host and the returned copy is what was proposed.
func (r *Room) RequestUndo(ctx context.Context, toEventID, reason string) (UndoRequest, error) {
	req := UndoRequest{ID: r.newID(), Player: r.self, ToEventID: toEventID, Reason: reason, Status: UndoPending}
	if r.host {
		return r.openUndo(ctx, req)
	}
	host, err := r.currentHost()
	if err != nil {
		return UndoRequest{}, err
	}
	req.CreatedAt = r.now().UTC()
	return req, r.publish(ctx, Message{Type: MsgUndoRequest, To: host, Undo: &req, RequestID: req.ID})
}

func (r *Room) ApproveUndo(ctx context.Context, requestID string) error {
	return r.voteUndo(ctx, requestID, true)
}

func (r *Room) DenyUndo(ctx context.Context, requestID string) error {
	return r.voteUndo(ctx, requestID, false)
}

func (r *Room) voteUndo(ctx context.Context, requestID string, approve bool) error {
	if r.host {
		return r.vote(ctx, r.self, requestID, approve)
	}
	host, err := r.currentHost()
	if err != nil {
		return err
	}
	typ := MsgUndoDeny
	if approve {
		typ = MsgUndoApprove
	}
	return r.publish(ctx, Message{Type: typ, To: host, RequestID: requestID})
}

// Undo returns the latest undo request known here.
func (r *Room) Undo() (UndoRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.undo == nil {
		return UndoRequest{}, false
	}
	r.undo.expire(r.now())
	return r.undo.clone(), true
}

// Close says goodbye and stops listening.
func (r *Room) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	err := r.publish(ctx, Message{Type: MsgBye, Host: r.host})
	r.stop()
	return err
}

func (r *Room) stop() {
	r.mu.Lock()
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()
	for _, fn := range stops {
		fn()
	}
}

func (r *Room) currentHost() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	if r.hostID == "" {
		return "", ErrNoHost
	}
	return r.hostID, nil
}

func (r *Room) publish(ctx context.Context, msg Message) error {
	msg.From = r.self
	return r.relay.Publish(ctx, msg)
}

func (r *Room) save(ctx context.Context) {
	if r.store == nil || r.gameID == "" {
		return
	}
	if err := r.store.UpsertRoom(ctx, r.Info()); err != nil {
		r.logger.Printf("room=%s save room info: %v", r.code, err)
	}
}

// broadcast forwards host engine updates to every peer.
func (r *Room) broadcast(u engine.Update) {
	ctx := context.Background()
	if u.Reset {
		if err := r.publish(ctx, r.syncMessage("")); err != nil {
			r.logger.Printf("room=%s broadcast full sync: %v", r.code, err)
		}
		return
	}
	if err := r.publish(ctx, Message{Type: MsgEvents, Events: u.Events, After: u.After}); err != nil {
		r.logger.Printf("room=%s broadcast %d event(s): %v", r.code, len(u.Events), err)
	}
}

func (r *Room) syncMessage(to string) Message {
	state := r.eng.State()
	msg := Message{Type: MsgFullSync, To: to, Host: true, Events: r.eng.Events(), State: &state}
	r.mu.Lock()
	msg.Roster = r.rosterLocked()
	if r.undo != nil {
		u := r.undo.clone()
		msg.Undo = &u
	}
	r.mu.Unlock()
	return msg
}

func (r *Room) handle(msg Message) {
	if !msg.addressedTo(r.self) {
		return
	}
	ctx := context.Background()
	if r.host {
		r.handleAsHost(ctx, msg)
		return
	}
	r.handleAsPeer(ctx, msg)
}

func (r *Room) handleAsHost(ctx context.Context, msg Message) {
	switch msg.Type {
	case MsgHello:
		if msg.Host {
			r.logger.Printf("room=%s ignoring second host %s", r.code, msg.From)
			return
		}
		r.mu.Lock()
		r.roster[msg.From] = true
		r.mu.Unlock()
		if err := r.publish(ctx, r.syncMessage(msg.From)); err != nil {
			r.logger.Printf("room=%s sync %s: %v", r.code, msg.From, err)
		}
		r.rosterChanged(ctx)
	case MsgBye:
		r.mu.Lock()
		delete(r.roster, msg.From)
		if r.undo != nil && r.undo.Open() {
			r.undo.drop(msg.From)
		}
		r.mu.Unlock()
		r.rosterChanged(ctx)
		r.settle(ctx)
	case MsgCommand:
		if msg.Command == nil {
			return
		}
		if msg.Command.Player != msg.From {
			r.reply(ctx, msg, string(engine.CodeWrongPlayer), fmt.Errorf("%s cannot command for %s", msg.From, msg.Command.Player))
			return
		}
		if _, err := r.eng.Dispatch(ctx, *msg.Command); err != nil {
			r.reply(ctx, msg, string(engine.CodeOf(err)), err)
		}
	case MsgUndoRequest:
		if msg.Undo == nil {
			return
		}
		req := *msg.Undo
		req.Player = msg.From
		if _, err := r.openUndo(ctx, req); err != nil {
			r.reply(ctx, msg, undoCode(err), err)
		}
	case MsgUndoApprove, MsgUndoDeny:
		if err := r.vote(ctx, msg.From, msg.RequestID, msg.Type == MsgUndoApprove); err != nil {
			r.reply(ctx, msg, undoCode(err), err)
		}
	}
}

func (r *Room) handleAsPeer(ctx context.Context, msg Message) {
	switch msg.Type {
	case MsgHello:
		if !msg.Host {
			return
		}
		r.mu.Lock()
		r.hostID = msg.From
		r.mu.Unlock()
		if err := r.publish(ctx, Message{Type: MsgHello, To: msg.From}); err != nil {
			r.logger.Printf("room=%s greet host %s: %v", r.code, msg.From, err)
		}
	case MsgBye:
		r.mu.Lock()
		delete(r.roster, msg.From)
		if msg.From == r.hostID {
			r.hostID = ""
		}
		r.mu.Unlock()
	case MsgFullSync:
		if _, err := r.eng.Load(ctx, msg.Events); err != nil {
			r.logger.Printf("room=%s load full sync from %s: %v", r.code, msg.From, err)
			return
		}
		r.eng.SyncEventCounter(msg.Events)
		r.mu.Lock()
		r.hostID = msg.From
		r.setRosterLocked(msg.Roster)
		if msg.Undo != nil {
			u := msg.Undo.clone()
			r.undo = &u
		}
		r.mu.Unlock()
		r.save(ctx)
	case MsgEvents:
		if _, err := r.eng.ApplyExternal(ctx, msg.After, msg.Events); err != nil {
			r.logger.Printf("room=%s apply events from %s: %v; asking for full sync", r.code, msg.From, err)
			if err := r.publish(ctx, Message{Type: MsgHello, To: msg.From}); err != nil {
				r.logger.Printf("room=%s resync request: %v", r.code, err)
			}
		}
	case MsgRoster:
		r.mu.Lock()
		r.setRosterLocked(msg.Roster)
		r.mu.Unlock()
		r.save(ctx)
	case MsgUndoStatus:
		if msg.Undo == nil {
			return
		}
		u := msg.Undo.clone()
		r.mu.Lock()
		r.undo = &u
		r.mu.Unlock()
	case MsgError:
		r.logger.Printf("room=%s host rejected request %s: %s", r.code, msg.RequestID, msg.Error)
		if r.onError != nil {
			r.onError(msg)
		}
	}
}

func (r *Room) setRosterLocked(peers []string) {
	r.roster = map[string]bool{r.self: true}
	for _, p := range peers {
		r.roster[p] = true
	}
}

func (r *Room) rosterChanged(ctx context.Context) {
	if err := r.publish(ctx, Message{Type: MsgRoster, Roster: r.Roster()}); err != nil {
		r.logger.Printf("room=%s broadcast roster: %v", r.code, err)
	}
	r.save(ctx)
}

func (r *Room) reply(ctx context.Context, to Message, code string, err error) {
	msg := Message{Type: MsgError, To: to.From, RequestID: to.RequestID, Code: code, Error: err.Error()}
	if perr := r.publish(ctx, msg); perr != nil {
		r.logger.Printf("room=%s reply to %s: %v", r.code, to.From, perr)
	}
}

// openUndo registers req on the host. Every other participant must approve;
// the requester's own vote is counted at once.
func (r *Room) openUndo(ctx context.Context, req UndoRequest) (UndoRequest, error) {
	if _, err := r.eng.StateAt(req.ToEventID); err != nil {
		return UndoRequest{}, err
	}
	r.mu.Lock()
	now := r.now().UTC()
	if r.undo != nil {
		r.undo.expire(now)
		if r.undo.Open() {
			r.mu.Unlock()
			return UndoRequest{}, ErrUndoPending
		}
	}
	if req.ID == "" {
		req.ID = r.newID()
	}
	req.Status = UndoPending
	req.CreatedAt = now
	req.ExpiresAt = time.Time{}
	if r.ttl > 0 {
		req.ExpiresAt = now.Add(r.ttl)
	}
	req.Required = slices.DeleteFunc(r.rosterLocked(), func(p string) bool { return p == r.self })
	req.Approvals = nil
	req.DeniedBy = ""
	req.Error = ""
	if req.Player != r.self {
		req.approve(req.Player)
	}
	r.undo = &req
	r.mu.Unlock()
	r.logger.Printf("room=%s undo %s to %s requested by %s", r.code, req.ID, req.ToEventID, req.Player)
	return r.settle(ctx), nil
}

func (r *Room) vote(ctx context.Context, peer, requestID string, approve bool) error {
	r.mu.Lock()
	if r.undo == nil || r.undo.ID != requestID {
		r.mu.Unlock()
		return ErrNoUndo
	}
	expired := r.undo.expire(r.now())
	if !r.undo.Open() {
		r.mu.Unlock()
		if expired {
			r.settle(ctx)
		}
		return ErrUndoClosed
	}
	if approve {
		r.undo.approve(peer)
	} else {
		r.undo.deny(peer)
	}
	r.mu.Unlock()
	r.settle(ctx)
	return nil
}

// settle executes the open request once it has its quorum, then tells every
// peer where it stands.
func (r *Room) settle(ctx context.Context) UndoRequest {
	r.mu.Lock()
	if r.undo == nil {
		r.mu.Unlock()
		return UndoRequest{}
	}
	r.undo.expire(r.now())
	run := r.undo.Open() && r.undo.quorum()
	if run {
		r.undo.Status = UndoApproved
	}
	req := r.undo.clone()
	r.mu.Unlock()

	if run {
		if _, err := r.eng.UndoTo(ctx, req.ToEventID); err != nil {
			r.logger.Printf("room=%s undo %s failed: %v", r.code, req.ID, err)
			r.mu.Lock()
			if r.undo != nil && r.undo.ID == req.ID {
				r.undo.Status = UndoFailed
				r.undo.Error = err.Error()
				req = r.undo.clone()
			}
			r.mu.Unlock()
		}
	}
	if err := r.publish(ctx, Message{Type: MsgUndoStatus, Undo: &req, RequestID: req.ID}); err != nil {
		r.logger.Printf("room=%s broadcast undo status: %v", r.code, err)
	}
	return req
}

func undoCode(err error) string {
	switch {
	case errors.Is(err, ErrUndoPending):
		return "undo_pending"
	case errors.Is(err, ErrNoUndo):
		return "unknown_undo"
	case errors.Is(err, ErrUndoClosed):
		return "undo_closed"
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return "internal"
}
