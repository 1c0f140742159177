package app

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"dominion/internal/config"
	"dominion/internal/domain"
	"dominion/internal/engine"
	"dominion/internal/repo"
)

// Games keeps one live engine per game for a long-running process.
type Games struct {
	Repo   repo.Repo
	Logger *log.Logger
	Now    func() time.Time

	mu       sync.Mutex
	engines  map[string]*engine.Engine
	watchers []func(string, engine.Update)
}

func NewGames(r repo.Repo, logger *log.Logger) *Games {
	if logger == nil {
		logger = log.Default()
	}
	return &Games{Repo: r, Logger: logger, engines: map[string]*engine.Engine{}}
}

func (g *Games) options() engine.Options {
	return engine.Options{Logger: g.Logger, Now: g.Now}
}

// Create starts a new game and keeps its engine.
func (g *Games) Create(ctx context.Context, name string, cfg *config.Config) (domain.Game, *engine.Engine, error) {
	game, eng, err := CreateGame(ctx, g.Repo, name, cfg, g.options())
	if err != nil {
		return domain.Game{}, nil, err
	}
	g.mu.Lock()
	g.engines[game.ID] = eng
	g.mu.Unlock()
	g.track(game.ID, eng)
	return game, eng, nil
}

// Engine returns the live engine of a game, restoring it on first use.
func (g *Games) Engine(ctx context.Context, id string) (*engine.Engine, error) {
	g.mu.Lock()
	eng, ok := g.engines[id]
	g.mu.Unlock()
	if ok {
		return eng, nil
	}
	game, err := g.Repo.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	loaded, err := LoadEngine(ctx, g.Repo, game, g.options())
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if eng, ok := g.engines[id]; ok {
		return eng, nil
	}
	g.engines[id] = loaded
	g.track(id, loaded)
	return loaded, nil
}

// Adopt registers an engine built elsewhere, such as a room's.
func (g *Games) Adopt(id string, eng *engine.Engine) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engines[id] = eng
	g.track(id, eng)
}

// Watch registers fn for the updates of every live engine, including engines
// loaded later.
func (g *Games) Watch(fn func(gameID string, u engine.Update)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchers = append(g.watchers, fn)
}

// track forwards updates to watchers and flips the stored status once the
// game ends.
func (g *Games) track(id string, eng *engine.Engine) {
	var once sync.Once
	eng.Subscribe(func(u engine.Update) {
		g.mu.Lock()
		watchers := slices.Clone(g.watchers)
		g.mu.Unlock()
		for _, fn := range watchers {
			fn(id, u)
		}
		if !u.State.Over() {
			return
		}
		once.Do(func() {
			if err := g.Repo.UpdateGameStatus(context.Background(), id, domain.GameFinished); err != nil {
				g.Logger.Printf("game=%s mark finished: %v", id, err)
			}
		})
	})
}
