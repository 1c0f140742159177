package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"dominion/internal/app"
	"dominion/internal/config"
	"dominion/internal/consensus"
	"dominion/internal/db"
	"dominion/internal/domain"
	"dominion/internal/engine"
	"dominion/internal/migrate"
	"dominion/internal/repo"
	"dominion/internal/room"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Games  *app.Games
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func listen(t *testing.T, handler http.Handler) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	return "http://" + ln.Addr().String(), func() {
		srv.Shutdown(context.Background())
		ln.Close()
	}
}

func openRepo(t *testing.T) (repo.Repo, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, func() { conn.Close() }
}

func serveConfig(t *testing.T, cfg Config, closeRepo func()) *testServer {
	t.Helper()
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = testSecret
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	url, stop := listen(t, handler)
	return &testServer{
		URL:    url,
		Games:  cfg.Games,
		client: &http.Client{},
		close: func() {
			stop()
			closeRepo()
		},
	}
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	r, closeRepo := openRepo(t)
	testSrv := serveConfig(t, Config{Games: app.NewGames(r, nil), BasePath: "/v1"}, closeRepo)
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, actor string, seats ...string) map[string]string {
	t.Helper()
	body := map[string]any{"actor_id": actor}
	if len(seats) > 0 {
		body["seats"] = seats
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", body, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", actor, res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func createGame(t *testing.T, srv *testServer, auth map[string]string) GameResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/games", map[string]any{
		"name":    "friday",
		"players": []string{"ann", "ben"},
		"seed":    42,
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create game: %d %s", res.StatusCode, string(data))
	}
	var g GameResponse
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("unmarshal game: %v", err)
	}
	return g
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/games", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/games", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestCommandsRespectSeats(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ann := login(t, srv, "ann")
	g := createGame(t, srv, ann)
	if g.ActivePlayer != "ann" || len(g.Players) != 2 {
		t.Fatalf("unexpected game: %+v", g)
	}
	base := srv.URL + "/v1/games/" + g.ID

	res, data := doJSON(t, client, http.MethodGet, base+"/actions?player=ann", nil, ann)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("actions: %d %s", res.StatusCode, string(data))
	}
	var actions ActionsResponse
	_ = json.Unmarshal(data, &actions)
	found := false
	for _, a := range actions.Actions {
		if a.Type == consensus.ActionPlayTreasure {
			found = true
		}
	}
	if !found {
		t.Fatalf("play_treasure not offered: %+v", actions.Actions)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/commands", map[string]any{"type": "PLAY_ALL_TREASURES", "player": "ann"}, ann)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("play treasures: %d %s", res.StatusCode, string(data))
	}
	var played CommandResponse
	if err := json.Unmarshal(data, &played); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(played.Events) == 0 || played.State.Phase != domain.PhaseBuy {
		t.Fatalf("expected buy phase after treasures: %+v", played.State.Phase)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/commands", map[string]any{"type": "END_PHASE", "player": "ben"}, ann)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "seat_forbidden" {
		t.Fatalf("expected seat_forbidden, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/commands", map[string]any{"type": "BUY_CARD", "player": "ann", "card": "Province"}, ann)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "insufficient_coins" {
		t.Fatalf("expected insufficient_coins, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/commands", map[string]any{"type": "BUY_CARD", "player": "ann", "card": "Dragon"}, ann)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "unknown_card" {
		t.Fatalf("expected unknown_card, got %d %s", res.StatusCode, string(data))
	}
}

func TestVotesPickTurnAction(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ann := login(t, srv, "ann")
	g := createGame(t, srv, ann)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/games/"+g.ID+"/votes", map[string]any{
		"player": "ann",
		"votes":  []map[string]any{{"type": "end_phase"}, {"type": "buy", "card": "Gold"}, {"type": "end_phase"}},
	}, ann)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("votes: %d %s", res.StatusCode, string(data))
	}
	var vote VoteResponse
	_ = json.Unmarshal(data, &vote)
	if vote.Winner.Type != consensus.ActionEndPhase || !vote.Done || len(vote.Events) == 0 {
		t.Fatalf("unexpected vote result: %+v", vote)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/games/"+g.ID+"/votes", map[string]any{
		"player": "ann",
		"votes":  []map[string]any{{"type": "buy", "card": "Gold"}},
	}, ann)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_action" {
		t.Fatalf("expected invalid_action, got %d %s", res.StatusCode, string(data))
	}
}

func TestEventsPagingAndUndo(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	admin := login(t, srv, "admin", AnySeat)
	g := createGame(t, srv, admin)
	base := srv.URL + "/v1/games/" + g.ID

	res, data := doJSON(t, client, http.MethodGet, base+"/events?limit=3", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 3 || page.NextCursor != "3" || page.Items[0].Type() != domain.EventGameInitialized {
		t.Fatalf("first page: %d items, cursor %q", len(page.Items), page.NextCursor)
	}
	mark := page.Items[2].ID

	res, data = doJSON(t, client, http.MethodGet, base+"/state?at="+mark, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state at: %d %s", res.StatusCode, string(data))
	}
	var past domain.GameState
	_ = json.Unmarshal(data, &past)
	if past.LastEventID != mark {
		t.Fatalf("state at %s ends at %s", mark, past.LastEventID)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/undo", map[string]any{"to_event_id": mark}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("undo: %d %s", res.StatusCode, string(data))
	}
	var undone UndoResponse
	_ = json.Unmarshal(data, &undone)
	if undone.State == nil || undone.State.LastEventID != mark {
		t.Fatalf("undo did not rewind to %s", mark)
	}

	ann := login(t, srv, "ann")
	res, data = doJSON(t, client, http.MethodPost, base+"/undo", map[string]any{"to_event_id": "evt-1"}, ann)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("players cannot undo alone: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/undo", map[string]any{"to_event_id": "evt-99"}, admin)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "unknown_event" {
		t.Fatalf("expected unknown_event, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/games/missing", nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestWebhookDeliversSignedEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var (
		mu       sync.Mutex
		received []http.Header
		bodies   [][]byte
	)
	hookURL, stop := listen(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, r.Header.Clone())
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer stop()

	d := NewWebhookDispatcher(srv.Games.Repo, nil, time.Hour)
	cfg := config.Default()
	cfg.Game.Players = []string{"ann", "ben"}
	cfg.Webhooks = []config.WebhookConfig{{URL: hookURL, Secret: "hush", Events: []string{"TURN_STARTED"}}}
	g, _, err := srv.Games.Create(context.Background(), "hooked", cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	d.DispatchAll(context.Background())
	d.DispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	h := received[0]
	if h.Get("X-Dominion-Event") != "TURN_STARTED" || h.Get("X-Dominion-Game") != g.ID {
		t.Fatalf("headers: %v", h)
	}
	if h.Get("X-Dominion-Signature") != Sign("hush", bodies[0]) {
		t.Fatalf("bad signature %q", h.Get("X-Dominion-Signature"))
	}
	if !strings.Contains(string(bodies[0]), `"type":"TURN_STARTED"`) {
		t.Fatalf("body: %s", string(bodies[0]))
	}
}

func TestOpenAPIListsUndoSchemas(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			Schemas map[string]any `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	for _, name := range []string{"UndoBody", "UndoRequest", "UndoResponse"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Fatalf("schema %s missing", name)
		}
	}
	for _, p := range []string{"/v1/games/{game_id}/undo", "/v1/games/{game_id}/undo/{request_id}/approve", "/v1/games/{game_id}/undo/{request_id}/deny"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("path %s missing", p)
		}
	}
}

type sharedTable struct {
	srv    *testServer
	host   *room.Room
	gameID string
}

// newSharedTable serves ann's follower seat of a game hosted by "table" in
// the same process.
func newSharedTable(t *testing.T) sharedTable {
	t.Helper()
	ctx := context.Background()
	r, closeRepo := openRepo(t)
	cfg := config.Default()
	cfg.Game.Players = []string{"ann", "ben"}
	g, hostEng, err := app.NewGames(r, nil).Create(ctx, "shared", cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	relay := room.NewMemoryRelay()
	host, err := room.Join(ctx, room.Options{GameID: g.ID, Code: "TBL1", PeerID: "table", Host: true, Engine: hostEng, Relay: relay})
	if err != nil {
		t.Fatalf("join host: %v", err)
	}
	peerEng := engine.New(engine.Options{ReadOnly: true})
	games := app.NewGames(r, nil)
	games.Adopt(g.ID, peerEng)
	ann, err := room.Join(ctx, room.Options{GameID: g.ID, Code: "TBL1", PeerID: "ann", Engine: peerEng, Relay: relay})
	if err != nil {
		t.Fatalf("join ann: %v", err)
	}
	srv := serveConfig(t, Config{Games: games, Room: ann, RoomGame: g.ID}, closeRepo)
	t.Cleanup(srv.Close)
	return sharedTable{srv: srv, host: host, gameID: g.ID}
}

func TestSharedUndoWaitsForApproval(t *testing.T) {
	tbl := newSharedTable(t)
	ctx := context.Background()
	client := tbl.srv.Client()
	admin := login(t, tbl.srv, "admin", AnySeat)
	base := tbl.srv.URL + "/v1/games/" + tbl.gameID

	res, data := doJSON(t, client, http.MethodGet, base+"/undo", nil, admin)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "unknown_undo" {
		t.Fatalf("expected unknown_undo, got %d %s", res.StatusCode, string(data))
	}

	events := tbl.host.Engine().Events()
	mark := events[len(events)-1].ID
	if _, err := tbl.host.Dispatch(ctx, domain.Command{Type: domain.CmdPlayAllTreasures, Player: "ann"}); err != nil {
		t.Fatalf("play treasures: %v", err)
	}
	req, err := tbl.host.RequestUndo(ctx, mark, "misclick")
	if err != nil || req.Status != room.UndoPending {
		t.Fatalf("request: %+v %v", req, err)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/undo", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("undo status: %d %s", res.StatusCode, string(data))
	}
	var status UndoResponse
	_ = json.Unmarshal(data, &status)
	if status.Request == nil || status.Request.ID != req.ID || status.Request.Status != room.UndoPending {
		t.Fatalf("follower should see the open request: %+v", status.Request)
	}

	ann := login(t, tbl.srv, "ann")
	res, data = doJSON(t, client, http.MethodPost, base+"/undo/"+req.ID+"/approve", nil, ann)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("a single seat cannot answer for the table: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/undo/"+req.ID+"/approve", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved UndoResponse
	_ = json.Unmarshal(data, &approved)
	if approved.Request == nil || approved.Request.Status != room.UndoApproved {
		t.Fatalf("expected approved request: %+v", approved.Request)
	}
	if approved.State == nil || approved.State.LastEventID != mark {
		t.Fatalf("follower state was not rewound to %s", mark)
	}
	if got := tbl.host.Engine().Events(); got[len(got)-1].ID != mark {
		t.Fatalf("host log not truncated to %s", mark)
	}

	req, err = tbl.host.RequestUndo(ctx, events[0].ID, "")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/undo/"+req.ID+"/deny", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deny: %d %s", res.StatusCode, string(data))
	}
	var denied UndoResponse
	_ = json.Unmarshal(data, &denied)
	if denied.Request == nil || denied.Request.Status != room.UndoDenied || denied.Request.DeniedBy != "ann" {
		t.Fatalf("expected denial by ann: %+v", denied.Request)
	}
	if got := tbl.host.Engine().Events(); got[len(got)-1].ID != mark {
		t.Fatalf("denied undo changed the host log")
	}

	local := createGame(t, tbl.srv, admin)
	res, data = doJSON(t, client, http.MethodGet, tbl.srv.URL+"/v1/games/"+local.ID+"/undo", nil, admin)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("unshared game has no undo requests: %d %s", res.StatusCode, string(data))
	}
}

// chapelOpening is a log where ann opens with Chapel in hand.
func chapelOpening() []domain.Event {
	hand := []domain.CardName{domain.Chapel, domain.Copper, domain.Estate, domain.Silver, domain.Copper}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payloads := []domain.Payload{
		domain.GameInitialized{Players: []string{"ann", "ben"}, Kingdom: domain.KingdomCards(), Supply: domain.SupplyFor(2, domain.KingdomCards()), StartingDeck: hand, Seed: 11},
		domain.DeckShuffled{Player: "ann", Order: hand},
		domain.CardDrawn{Player: "ann", Count: 5},
		domain.DeckShuffled{Player: "ben", Order: hand},
		domain.CardDrawn{Player: "ben", Count: 5},
		domain.TurnStarted{Player: "ann", Turn: 1},
	}
	var out []domain.Event
	for i, p := range payloads {
		seq := int64(i + 1)
		out = append(out, domain.Event{ID: domain.EventID(seq), Seq: seq, At: at, Payload: p})
	}
	return out
}

func TestRewindDropsOpenBallot(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	ann := login(t, srv, "ann")
	cfg := config.Default()
	cfg.Game.Players = []string{"ann", "ben"}
	g, eng, err := srv.Games.Create(ctx, "chapel", cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.Load(ctx, chapelOpening()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := eng.Dispatch(ctx, domain.PlayAction("ann", domain.Chapel)); err != nil {
		t.Fatalf("play chapel: %v", err)
	}
	base := srv.URL + "/v1/games/" + g.ID
	trashEstate := consensus.Action{Type: consensus.ActionTrash, Card: domain.Estate}

	offered := func() bool {
		t.Helper()
		res, data := doJSON(t, srv.Client(), http.MethodGet, base+"/actions?player=ann", nil, ann)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("actions: %d %s", res.StatusCode, string(data))
		}
		var actions ActionsResponse
		_ = json.Unmarshal(data, &actions)
		for _, a := range actions.Actions {
			if a == trashEstate {
				return true
			}
		}
		return false
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/votes", map[string]any{
		"player": "ann",
		"votes":  []consensus.Action{trashEstate},
	}, ann)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("votes: %d %s", res.StatusCode, string(data))
	}
	var vote VoteResponse
	_ = json.Unmarshal(data, &vote)
	if vote.Done || vote.Winner != trashEstate {
		t.Fatalf("expected an open ballot after trashing Estate: %+v", vote)
	}
	if offered() {
		t.Fatalf("Estate is already decided and should not be offered")
	}

	events := eng.Events()
	if _, err := eng.UndoTo(ctx, events[len(events)-1].ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !offered() {
		t.Fatalf("rewinding the log should reopen the choice from scratch")
	}
}
