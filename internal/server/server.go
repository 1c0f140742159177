package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"dominion/internal/app"
	"dominion/internal/config"
	"dominion/internal/consensus"
	"dominion/internal/domain"
	"dominion/internal/engine"
	"dominion/internal/repo"
	"dominion/internal/room"
)

// Config for the HTTP API handler.
type Config struct {
	Games    *app.Games
	BasePath string
	Auth     AuthConfig
	// Room, when set, routes undo requests for RoomGame through its quorum.
	Room     *room.Room
	RoomGame string
	Logger   *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_coins"`
	Message string         `json:"message" example:"Gold costs 6, ann has 5"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"card\":\"Gold\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type server struct {
	games    *app.Games
	repo     repo.Repo
	room     *room.Room
	roomGame string
	logger   *log.Logger

	mu      sync.Mutex
	ballots map[string]*consensus.Ballot
}

// New returns an HTTP handler exposing the Dominion API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Games == nil {
		return nil, errors.New("server: games registry is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	s := &server{
		games:    cfg.Games,
		repo:     cfg.Games.Repo,
		room:     cfg.Room,
		roomGame: cfg.RoomGame,
		logger:   logger,
		ballots:  map[string]*consensus.Ballot{},
	}
	cfg.Games.Watch(s.forgetBallot)

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Dominion API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGames(group, s)
	registerState(group, s)
	registerEvents(group, s)
	registerCommands(group, s)
	registerActions(group, s)
	registerVotes(group, s)
	registerUndo(group, s)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// statusForCode maps engine rejections onto HTTP statuses.
func statusForCode(code engine.Code) int {
	switch code {
	case engine.CodeNotHost, engine.CodeWrongPlayer:
		return http.StatusForbidden
	case engine.CodeInvalidSetup, engine.CodeUnknownCommand, engine.CodeInvalidDecision,
		engine.CodeUnknownCard, engine.CodeUnknownEvent:
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return newAPIError(statusForCode(ee.Code), string(ee.Code), ee.Message, nil)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, consensus.ErrInvalidAction):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_action", err.Error(), nil)
	case errors.Is(err, room.ErrUndoPending):
		return newAPIError(http.StatusConflict, "undo_pending", err.Error(), nil)
	case errors.Is(err, room.ErrNotHost), errors.Is(err, room.ErrNoHost):
		return newAPIError(http.StatusConflict, "not_host", err.Error(), nil)
	case errors.Is(err, room.ErrNoUndo):
		return newAPIError(http.StatusNotFound, "unknown_undo", err.Error(), nil)
	case errors.Is(err, room.ErrUndoClosed):
		return newAPIError(http.StatusConflict, "undo_closed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"),
		strings.Contains(lowered, "unknown") || strings.Contains(lowered, "duplicate"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dominion API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type gamePath struct {
	GameID string `path:"game_id"`
}

func registerGames(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "create-game",
		Method:      http.MethodPost,
		Path:        "/games",
		Summary:     "Create and start a game",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateGameRequest `json:"body"`
	}) (*struct {
		Body GameResponse `json:"body"`
	}, error) {
		cfg := config.Default()
		cfg.Game.Players = input.Body.Players
		cfg.Game.Preset = input.Body.Preset
		cfg.Game.Kingdom = input.Body.Kingdom
		cfg.Game.Seed = input.Body.Seed
		if input.Body.Rules != nil {
			cfg.Rules = *input.Body.Rules
		}
		if input.Body.UndoTTLSeconds > 0 {
			cfg.Undo.RequestTTL = time.Duration(input.Body.UndoTTLSeconds) * time.Second
		}
		if err := cfg.Validate(); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		g, eng, err := s.games.Create(ctx, strings.TrimSpace(input.Body.Name), cfg)
		if err != nil {
			return nil, handleError(err)
		}
		s.logger.Printf("game=%s created name=%q players=%s", g.ID, g.Name, strings.Join(cfg.Game.Players, ","))
		return &struct {
			Body GameResponse `json:"body"`
		}{Body: gameResponse(g, eng.State())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-games",
		Method:      http.MethodGet,
		Path:        "/games",
		Summary:     "List games",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,finished"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedGames `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := s.repo.ListGames(ctx, input.Status, limit+1, cursorTS, cursorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedGames{Items: []GameResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		for _, g := range items {
			resp.Items = append(resp.Items, gameResponse(g, domain.GameState{}))
		}
		return &struct {
			Body paginatedGames `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-game",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}",
		Summary:     "Get a game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gamePath) (*struct {
		Body GameResponse `json:"body"`
	}, error) {
		g, err := s.repo.GetGame(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		eng, err := s.games.Engine(ctx, g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		g.EventCounter = eng.Counter()
		return &struct {
			Body GameResponse `json:"body"`
		}{Body: gameResponse(g, eng.State())}, nil
	})
}

func registerState(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/state",
		Summary:     "Current state, or the state as of an event",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		GameID string `path:"game_id"`
		At     string `query:"at" doc:"Event id to project up to"`
	}) (*struct {
		Body domain.GameState `json:"body"`
	}, error) {
		eng, err := s.games.Engine(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		state := eng.State()
		if input.At != "" {
			state, err = eng.StateAt(input.At)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body domain.GameState `json:"body"`
		}{Body: state}, nil
	})
}

func registerEvents(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/events",
		Summary:     "Page through the event log",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GameID string `path:"game_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor" doc:"Sequence number of the last event already seen"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := s.repo.GetGame(ctx, input.GameID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := s.repo.EventsAfter(ctx, input.GameID, cursor, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].Seq, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerCommands(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "dispatch-command",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/commands",
		Summary:     "Dispatch a player command",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		GameID string         `path:"game_id"`
		Body   domain.Command `json:"body"`
	}) (*struct {
		Body CommandResponse `json:"body"`
	}, error) {
		if err := requireSeat(ctx, input.Body.Player); err != nil {
			return nil, err
		}
		eng, err := s.games.Engine(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		events, err := s.dispatch(ctx, input.GameID, eng, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommandResponse `json:"body"`
		}{Body: CommandResponse{Events: events, State: eng.State()}}, nil
	})
}

func registerActions(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/actions",
		Summary:     "Atomic actions open to a player",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GameID string `path:"game_id"`
		Player string `query:"player" required:"true"`
	}) (*struct {
		Body ActionsResponse `json:"body"`
	}, error) {
		eng, err := s.games.Engine(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		state := eng.State()
		resp := ActionsResponse{Player: input.Player, Actions: []consensus.Action{}}
		if state.Pending != nil && state.Pending.Player == input.Player {
			resp.ChoiceID = state.Pending.ID
			s.mu.Lock()
			if b := s.ballots[input.GameID]; b != nil && b.Choice.ID == state.Pending.ID {
				resp.Actions = append(resp.Actions, b.Options()...)
				s.mu.Unlock()
				return &struct {
					Body ActionsResponse `json:"body"`
				}{Body: resp}, nil
			}
			s.mu.Unlock()
		}
		resp.Actions = append(resp.Actions, consensus.LegalActions(state, input.Player)...)
		return &struct {
			Body ActionsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerVotes(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "cast-votes",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/votes",
		Summary:     "Settle one round of voting for a player",
		Description: "Votes are tallied by plurality; ties go to the earliest vote. " +
			"A decision is answered once every round of its ballot has been settled.",
		Errors: []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		GameID string      `path:"game_id"`
		Body   VoteRequest `json:"body"`
	}) (*struct {
		Body VoteResponse `json:"body"`
	}, error) {
		if err := requireSeat(ctx, input.Body.Player); err != nil {
			return nil, err
		}
		eng, err := s.games.Engine(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := s.vote(ctx, input.GameID, eng, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VoteResponse `json:"body"`
		}{Body: resp}, nil
	})
}

// vote runs one round for the player's open choice, or picks a turn action
// when nothing is pending.
func (s *server) vote(ctx context.Context, gameID string, eng *engine.Engine, req VoteRequest) (VoteResponse, error) {
	state := eng.State()
	if state.Pending == nil {
		winner, ok := consensus.Tally(onlyOpen(consensus.LegalActions(state, req.Player), req.Votes))
		if !ok {
			return VoteResponse{}, fmt.Errorf("%w: no valid votes for %s", consensus.ErrInvalidAction, req.Player)
		}
		cmd, err := consensus.TurnCommand(req.Player, winner)
		if err != nil {
			return VoteResponse{}, err
		}
		events, err := s.dispatch(ctx, gameID, eng, cmd)
		if err != nil {
			return VoteResponse{}, err
		}
		return VoteResponse{Winner: winner, Done: true, Events: events}, nil
	}
	choice := *state.Pending
	if choice.Player != req.Player {
		return VoteResponse{}, newAPIError(http.StatusConflict, string(engine.CodePendingChoice),
			fmt.Sprintf("waiting on %s to answer %s", choice.Player, choice.Card), map[string]any{"choice_id": choice.ID})
	}

	s.mu.Lock()
	b := s.ballots[gameID]
	if b == nil || b.Choice.ID != choice.ID {
		b = consensus.NewBallot(choice)
		s.ballots[gameID] = b
	}
	winner, done, err := b.Vote(req.Votes)
	if err != nil {
		s.mu.Unlock()
		return VoteResponse{}, err
	}
	resp := VoteResponse{Winner: winner, Done: done, Decided: append([]consensus.Action(nil), b.Decided...)}
	if !done {
		resp.Options = b.Options()
		s.mu.Unlock()
		return resp, nil
	}
	cmd, err := b.Command()
	delete(s.ballots, gameID)
	s.mu.Unlock()
	if err != nil {
		return VoteResponse{}, err
	}
	resp.Events, err = s.dispatch(ctx, gameID, eng, cmd)
	if err != nil {
		return VoteResponse{}, err
	}
	return resp, nil
}

// dispatch sends commands for the room's game through the room, so a
// follower forwards them to the host.
func (s *server) dispatch(ctx context.Context, gameID string, eng *engine.Engine, cmd domain.Command) ([]domain.Event, error) {
	if s.shared(gameID) {
		return s.room.Dispatch(ctx, cmd)
	}
	return eng.Dispatch(ctx, cmd)
}

func onlyOpen(open, votes []consensus.Action) []consensus.Action {
	var out []consensus.Action
	for _, v := range votes {
		for _, o := range open {
			if o == v {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func registerUndo(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "undo",
		Method:      http.MethodPost,
		Path:        "/games/{game_id}/undo",
		Summary:     "Undo back to an event",
		Description: "In a shared room this opens an undo request that every peer must approve.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		GameID string   `path:"game_id"`
		Body   UndoBody `json:"body"`
	}) (*struct {
		Body UndoResponse `json:"body"`
	}, error) {
		if err := requireSeat(ctx, AnySeat); err != nil {
			return nil, err
		}
		eng, err := s.games.Engine(ctx, input.GameID)
		if err != nil {
			return nil, handleError(err)
		}
		var resp UndoResponse
		if s.shared(input.GameID) {
			req, err := s.room.RequestUndo(ctx, input.Body.ToEventID, input.Body.Reason)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Request = &req
		} else if _, err := eng.UndoTo(ctx, input.Body.ToEventID); err != nil {
			return nil, handleError(err)
		}
		state := eng.State()
		resp.State = &state
		return &struct {
			Body UndoResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-undo",
		Method:      http.MethodGet,
		Path:        "/games/{game_id}/undo",
		Summary:     "Latest undo request of a shared game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gamePath) (*struct {
		Body UndoResponse `json:"body"`
	}, error) {
		if !s.shared(input.GameID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "game "+input.GameID+" is not shared in a room", nil)
		}
		req, ok := s.room.Undo()
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "unknown_undo", "no undo request yet", nil)
		}
		return &struct {
			Body UndoResponse `json:"body"`
		}{Body: UndoResponse{Request: &req}}, nil
	})

	for _, verdict := range []struct {
		name    string
		approve bool
	}{{"approve", true}, {"deny", false}} {
		huma.Register(api, huma.Operation{
			OperationID: verdict.name + "-undo",
			Method:      http.MethodPost,
			Path:        "/games/{game_id}/undo/{request_id}/" + verdict.name,
			Summary:     "Answer an open undo request for this participant",
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			GameID    string `path:"game_id"`
			RequestID string `path:"request_id"`
		}) (*struct {
			Body UndoResponse `json:"body"`
		}, error) {
			if err := requireSeat(ctx, AnySeat); err != nil {
				return nil, err
			}
			if !s.shared(input.GameID) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "game "+input.GameID+" is not shared in a room", nil)
			}
			answer := s.room.DenyUndo
			if verdict.approve {
				answer = s.room.ApproveUndo
			}
			if err := answer(ctx, input.RequestID); err != nil {
				return nil, handleError(err)
			}
			var resp UndoResponse
			if req, ok := s.room.Undo(); ok {
				resp.Request = &req
			}
			state := s.room.Engine().State()
			resp.State = &state
			return &struct {
				Body UndoResponse `json:"body"`
			}{Body: resp}, nil
		})
	}
}

// shared reports whether gameID is the game this process plays in a room.
func (s *server) shared(gameID string) bool {
	return s.room != nil && s.roomGame == gameID
}

// forgetBallot drops the open ballot of a game whose log was rewound or
// replaced.
func (s *server) forgetBallot(gameID string, u engine.Update) {
	if !u.Reset {
		return
	}
	s.mu.Lock()
	delete(s.ballots, gameID)
	s.mu.Unlock()
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		seats := input.Body.Seats
		if len(seats) == 0 {
			seats = []string{actor}
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, seats, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
