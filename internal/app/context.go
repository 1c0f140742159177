package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dominion/internal/config"
	"dominion/internal/domain"
	"dominion/internal/engine"
	"dominion/internal/repo"
)

// ResolveGame picks the active game. It prefers the override (id or name),
// then the only game of the workspace.
func ResolveGame(ctx context.Context, override string, r repo.Repo) (domain.Game, *config.Config, error) {
	var (
		g   domain.Game
		err error
	)
	if override != "" {
		g, err = r.FindGame(ctx, override)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Game{}, nil, fmt.Errorf("game %q not found", override)
		}
	} else {
		g, err = r.SingleGame(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Game{}, nil, fmt.Errorf("no game yet; run `dom game new`")
		}
	}
	if err != nil {
		return domain.Game{}, nil, err
	}
	cfg, err := r.GetGameConfig(ctx, g.ID)
	if err != nil {
		return domain.Game{}, nil, fmt.Errorf("game config: %w", err)
	}
	return g, cfg, nil
}

// GameID is stable for a name and creation time.
func GameID(name string, created time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("dominion:"+name+":"+created.UTC().Format(time.RFC3339Nano))).String()
}

// SeedFor derives a non-zero shuffle seed from a game id.
func SeedFor(id string) int64 {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	seed := int64(binary.BigEndian.Uint64(u[:8]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}

// CreateGame stores a new game and starts it with the journal attached, so
// the opening events are durable before it returns.
func CreateGame(ctx context.Context, r repo.Repo, name string, cfg *config.Config, opts engine.Options) (domain.Game, *engine.Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	created := now().UTC()
	g := domain.Game{
		ID:        GameID(name, created),
		Name:      name,
		Status:    domain.GameActive,
		CreatedAt: created.Format(time.RFC3339),
		UpdatedAt: created.Format(time.RFC3339),
	}
	if g.Name == "" {
		g.Name = g.ID[:8]
	}
	if cfg.Game.Seed == 0 {
		cfg.Game.Seed = SeedFor(g.ID)
	}
	setup, err := cfg.Setup(0)
	if err != nil {
		return domain.Game{}, nil, err
	}
	if err := r.InsertGame(ctx, g, cfg); err != nil {
		return domain.Game{}, nil, fmt.Errorf("insert game: %w", err)
	}
	opts.Journal = r.Journal(g.ID)
	eng := engine.New(opts)
	if _, err := eng.Start(ctx, setup); err != nil {
		if derr := r.DeleteGame(ctx, g.ID); derr != nil {
			return domain.Game{}, nil, errors.Join(err, derr)
		}
		return domain.Game{}, nil, err
	}
	g.EventCounter = eng.Counter()
	return g, eng, nil
}

// LoadEngine rebuilds a game's engine from its stored events.
func LoadEngine(ctx context.Context, r repo.Repo, g domain.Game, opts engine.Options) (*engine.Engine, error) {
	journal := r.Journal(g.ID)
	events, err := journal.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("read events of %s: %w", g.ID, err)
	}
	opts.Journal = journal
	return engine.Restore(opts, events, g.EventCounter)
}
