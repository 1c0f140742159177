package dominionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dominion HTTP API client.
type Client struct {
	BaseURL     string
	GameID      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, gameID string) *Client {
	return &Client{
		BaseURL: baseURL,
		GameID:  gameID,
		Timeout: 10 * time.Second,
	}
}

// Game represents the API game model (partial).
type Game struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	EventCounter int64    `json:"event_counter"`
	Players      []string `json:"players"`
	Kingdom      []string `json:"kingdom"`
	Turn         int      `json:"turn"`
	ActivePlayer string   `json:"active_player"`
	Phase        string   `json:"phase"`
}

// NewGame describes a game to create.
type NewGame struct {
	Name    string   `json:"name,omitempty"`
	Players []string `json:"players"`
	Preset  string   `json:"preset,omitempty"`
	Kingdom []string `json:"kingdom,omitempty"`
	Seed    int64    `json:"seed,omitempty"`
}

// Event is a log entry. Fields holds the type-specific payload.
type Event struct {
	ID     string         `json:"id"`
	Seq    int64          `json:"seq"`
	Type   string         `json:"type"`
	At     string         `json:"at"`
	Fields map[string]any `json:"-"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	type head Event
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, k := range []string{"id", "seq", "type", "at"} {
		delete(fields, k)
	}
	*e = Event(h)
	e.Fields = fields
	return nil
}

// Command is a player command.
type Command struct {
	Type     string    `json:"type"`
	Player   string    `json:"player"`
	Card     string    `json:"card,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
}

// Decision answers an open decision.
type Decision struct {
	ChoiceID    string   `json:"choice_id,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	Selected    []string `json:"selected_cards,omitempty"`
	CardActions []string `json:"card_actions,omitempty"`
	Order       []int    `json:"card_order,omitempty"`
}

// Action is one atomic move offered to a voter.
type Action struct {
	Type  string `json:"type"`
	Card  string `json:"card,omitempty"`
	Index int    `json:"index,omitempty"`
}

// Actions lists what a player may do next.
type Actions struct {
	Player   string   `json:"player"`
	ChoiceID string   `json:"choice_id"`
	Actions  []Action `json:"actions"`
}

// VoteResult reports one settled voting round.
type VoteResult struct {
	Winner  Action   `json:"winner"`
	Done    bool     `json:"done"`
	Decided []Action `json:"decided"`
	Options []Action `json:"options"`
	Events  []Event  `json:"events"`
}

// CommandResult holds the events a command appended and the state after it.
type CommandResult struct {
	Events []Event         `json:"events"`
	State  json.RawMessage `json:"state"`
}

// UndoRequest is an undo waiting on, or settled by, the peers of a room.
type UndoRequest struct {
	ID        string    `json:"id"`
	Player    string    `json:"player"`
	ToEventID string    `json:"to_event_id"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	Required  []string  `json:"required"`
	Approvals []string  `json:"approvals"`
	DeniedBy  string    `json:"denied_by"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UndoResult carries the room's request, when the game is shared, and the
// state after the call.
type UndoResult struct {
	Request *UndoRequest    `json:"request"`
	State   json.RawMessage `json:"state"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// DevLogin mints a development token and keeps it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string, seats ...string) error {
	body := map[string]any{"actor_id": actorID}
	if len(seats) > 0 {
		body["seats"] = seats
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/auth/dev/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateGame creates a game and makes it the client's game.
func (c *Client) CreateGame(ctx context.Context, g NewGame) (Game, error) {
	var resp Game
	if err := c.do(ctx, http.MethodPost, "v1/games", g, &resp); err != nil {
		return Game{}, err
	}
	c.GameID = resp.ID
	return resp, nil
}

// Game fetches the client's game.
func (c *Client) Game(ctx context.Context) (Game, error) {
	var resp Game
	err := c.do(ctx, http.MethodGet, c.gamePath(""), nil, &resp)
	return resp, err
}

// State returns the raw game state, optionally as of an event id.
func (c *Client) State(ctx context.Context, at string) (json.RawMessage, error) {
	endpoint := c.gamePath("state")
	if at != "" {
		endpoint += "?at=" + url.QueryEscape(at)
	}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Dispatch sends a command.
func (c *Client) Dispatch(ctx context.Context, cmd Command) (CommandResult, error) {
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, c.gamePath("commands"), cmd, &resp)
	return resp, err
}

// Actions lists the atomic actions open to player.
func (c *Client) Actions(ctx context.Context, player string) (Actions, error) {
	var resp Actions
	err := c.do(ctx, http.MethodGet, c.gamePath("actions")+"?player="+url.QueryEscape(player), nil, &resp)
	return resp, err
}

// Vote settles one voting round for player.
func (c *Client) Vote(ctx context.Context, player string, votes []Action) (VoteResult, error) {
	body := map[string]any{"player": player, "votes": votes}
	var resp VoteResult
	err := c.do(ctx, http.MethodPost, c.gamePath("votes"), body, &resp)
	return resp, err
}

// Undo rewinds the game to eventID. In a shared room it opens a request
// that the other peers must approve.
func (c *Client) Undo(ctx context.Context, eventID, reason string) (UndoResult, error) {
	body := map[string]any{"to_event_id": eventID}
	if reason != "" {
		body["reason"] = reason
	}
	var out UndoResult
	err := c.do(ctx, http.MethodPost, c.gamePath("undo"), body, &out)
	return out, err
}

// UndoStatus returns the latest undo request of a shared game.
func (c *Client) UndoStatus(ctx context.Context) (UndoRequest, error) {
	var out UndoResult
	if err := c.do(ctx, http.MethodGet, c.gamePath("undo"), nil, &out); err != nil {
		return UndoRequest{}, err
	}
	if out.Request == nil {
		return UndoRequest{}, nil
	}
	return *out.Request, nil
}

// ApproveUndo approves requestID on behalf of the server's participant.
func (c *Client) ApproveUndo(ctx context.Context, requestID string) (UndoResult, error) {
	var out UndoResult
	err := c.do(ctx, http.MethodPost, c.gamePath("undo/"+url.PathEscape(requestID)+"/approve"), nil, &out)
	return out, err
}

// DenyUndo denies requestID on behalf of the server's participant.
func (c *Client) DenyUndo(ctx context.Context, requestID string) (UndoResult, error) {
	var out UndoResult
	err := c.do(ctx, http.MethodPost, c.gamePath("undo/"+url.PathEscape(requestID)+"/deny"), nil, &out)
	return out, err
}

// Events returns the first events of the log.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.gamePath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) gamePath(p string) string {
	game := url.PathEscape(c.GameID)
	if p == "" {
		return fmt.Sprintf("v1/games/%s", game)
	}
	return fmt.Sprintf("v1/games/%s/%s", game, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
