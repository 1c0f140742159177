package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"dominion/internal/app"
	"dominion/internal/db"
	"dominion/internal/engine"
	"dominion/internal/migrate"
	"dominion/internal/repo"
	"dominion/internal/room"
	"dominion/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serve the HTTP API for every game of the workspace.
Runtime settings come from DOMINION_* environment variables (DOMINION_ADDR,
DOMINION_JWT_SECRET, DOMINION_NATS_URL, DOMINION_ROOM, ...). With a NATS URL and
a room code the current game also joins that room, as host or as a follower.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.LoadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			if env.JWTSecret == "" && !env.Anonymous {
				return fmt.Errorf("DOMINION_JWT_SECRET is required for bearer auth (or set DOMINION_ANONYMOUS=true)")
			}

			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			logger := log.New(os.Stderr, "dom: ", log.LstdFlags)
			games := app.NewGames(r, logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			srvCfg := server.Config{
				Games:    games,
				BasePath: env.BasePath,
				Auth:     server.AuthConfig{JWTSecret: env.JWTSecret, Anonymous: env.Anonymous, Logger: logger},
				Logger:   logger,
			}
			if env.Relayed() {
				rm, closeRoom, err := joinRoom(ctx, env, r, games, logger)
				if err != nil {
					return err
				}
				defer closeRoom()
				srvCfg.Room = rm
				srvCfg.RoomGame = rm.Info().GameID
			}
			handler, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: env.Addr, Handler: handler}
			hooks := server.NewWebhookDispatcher(r, logger, env.WebhookInterval)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				fmt.Printf("Serving Dominion API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", env.Addr, env.BasePath, env.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return hooks.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides DOMINION_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (overrides DOMINION_BASE_PATH)")
	return cmd
}

// joinRoom connects the current game to its NATS room. The host shares its
// live engine with the API; a follower gets a read-only replica.
func joinRoom(ctx context.Context, env app.ServerEnv, r repo.Repo, games *app.Games, logger *log.Logger) (*room.Room, func(), error) {
	g, cfg, err := app.ResolveGame(ctx, currentGame(), r)
	if err != nil {
		return nil, nil, err
	}
	relay, err := room.DialNats(env.NatsURL, env.Room, logger)
	if err != nil {
		return nil, nil, err
	}
	var eng *engine.Engine
	if env.Host {
		if eng, err = games.Engine(ctx, g.ID); err != nil {
			relay.Close()
			return nil, nil, err
		}
	} else {
		eng = engine.New(engine.Options{Logger: logger, ReadOnly: true})
		games.Adopt(g.ID, eng)
	}
	rm, err := room.Join(ctx, room.Options{
		GameID:  g.ID,
		Code:    env.Room,
		PeerID:  env.PeerID,
		Host:    env.Host,
		Engine:  eng,
		Relay:   relay,
		Store:   r,
		UndoTTL: cfg.Undo.RequestTTL,
		Logger:  logger,
		OnError: func(msg room.Message) {
			logger.Printf("room %s: host rejected: %s %s", env.Room, msg.Code, msg.Error)
		},
	})
	if err != nil {
		relay.Close()
		return nil, nil, err
	}
	role := "follower"
	if env.Host {
		role = "host"
	}
	logger.Printf("room %s: joined as %s (%s) for game %s", env.Room, env.PeerID, role, g.ID)
	return rm, func() {
		if err := rm.Close(context.Background()); err != nil {
			logger.Printf("room %s: close: %v", env.Room, err)
		}
		relay.Close()
	}, nil
}
