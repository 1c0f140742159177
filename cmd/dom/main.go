package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dominion/internal/app"
	"dominion/internal/config"
	"dominion/internal/consensus"
	"dominion/internal/db"
	"dominion/internal/domain"
	"dominion/internal/engine"
	"dominion/internal/migrate"
	"dominion/internal/repo"
	dominionsdk "dominion/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "dom",
	Short: "Dominion table CLI",
	Long: `dom runs base-set Dominion games from an append-only event log.
- Workspace: the .dominion directory holding the game database.
- Game: one table of 2-4 players; its kingdom and seed are fixed at creation.
- Commands: play, treasures, buy, end-phase, decide and react each append events.
- Undo: rewinds the log to an earlier event; ids of undone events are never reused.
- Votes: several voters pick atomic actions and the plurality wins (dom actions, dom vote).
- Event log: view with 'dom log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return loadWorkspaceEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOMINION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadWorkspaceEnv merges <workspace>/.env, where `dom game use` records the
// current game.
func loadWorkspaceEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("env")
	if err := viper.MergeInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("game", "", "game id or name (overrides the workspace default)")
	rootCmd.PersistentFlags().StringP("player", "p", "", "acting player (defaults to whoever the game waits on)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log engine activity to stderr")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("game", rootCmd.PersistentFlags().Lookup("game"))
	_ = viper.BindPFlag("player", rootCmd.PersistentFlags().Lookup("player"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(gameCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(treasuresCmd())
	rootCmd.AddCommand(buyCmd())
	rootCmd.AddCommand(endPhaseCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(reactCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(serveCmd())
}

func gameCmd() *cobra.Command {
	g := &cobra.Command{Use: "game", Short: "Manage games"}
	g.AddCommand(gameNewCmd())
	g.AddCommand(gameListCmd())
	g.AddCommand(gameShowCmd())
	g.AddCommand(gameUseCmd())
	g.AddCommand(gameDeleteCmd())
	return g
}

func gameNewCmd() *cobra.Command {
	var (
		name, preset, file string
		players, kingdom   []string
		seed               int64
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a game and deal the opening hands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if file != "" {
				loaded, err := config.FromFile(file)
				if err != nil {
					return err
				}
				cfg = loaded
			} else if loaded, err := config.LoadOptional(viper.GetString("workspace")); err != nil {
				return err
			} else if loaded != nil {
				cfg = loaded
			}
			if len(players) > 0 {
				cfg.Game.Players = players
			}
			if preset != "" {
				cfg.Game.Preset = preset
				cfg.Game.Kingdom = nil
			}
			if len(kingdom) > 0 {
				cfg.Game.Preset = ""
				cfg.Game.Kingdom = toCards(kingdom)
			}
			if seed != 0 {
				cfg.Game.Seed = seed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				g, eng, err := app.CreateGame(ctx, r, name, cfg, engineOptions())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("Created game %s (%s)\n", g.Name, g.ID)
				printState(eng.State(), "")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "game name")
	cmd.Flags().StringSliceVar(&players, "players", nil, "player ids in seat order")
	cmd.Flags().StringVar(&preset, "preset", "", "kingdom preset ("+strings.Join(config.PresetNames(), ", ")+")")
	cmd.Flags().StringSliceVar(&kingdom, "kingdom", nil, "explicit kingdom cards")
	cmd.Flags().Int64Var(&seed, "seed", 0, "shuffle seed (derived from the game id when 0)")
	cmd.Flags().StringVar(&file, "file", "", "YAML game config (defaults to <workspace>/dominion.yml when present)")
	return cmd
}

func gameListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListGames(ctx, status, limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Events", "Created"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.Name, g.Status, g.EventCounter, g.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, finished)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max games")
	return cmd
}

func gameShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{"game": s.game, "config": s.cfg})
				}
				st := s.eng.State()
				fmt.Printf("%s  %s  [%s]\n", s.game.ID, s.game.Name, s.game.Status)
				fmt.Printf("players: %s\n", strings.Join(playerIDs(st), ", "))
				fmt.Printf("kingdom: %s\n", joinCards(st.Kingdom))
				fmt.Printf("seed: %d  events: %d  last id: %s\n", st.Seed, len(s.eng.Events()), st.LastEventID)
				return nil
			})
		},
	}
}

func gameUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id-or-name>",
		Short: "Set the current game for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := strings.TrimSpace(args[0])
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				g, err := r.FindGame(ctx, ref)
				if err != nil {
					return fmt.Errorf("game %q: %w", ref, err)
				}
				workspace := viper.GetString("workspace")
				if err := setEnvValue(filepath.Join(workspace, ".env"), "DOMINION_GAME", g.ID); err != nil {
					return err
				}
				fmt.Printf("Set DOMINION_GAME=%s in %s/.env\n", g.ID, workspace)
				return nil
			})
		},
	}
}

func gameDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the current game and its log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.repo.DeleteGame(ctx, s.game.ID); err != nil {
					return err
				}
				fmt.Printf("Deleted game %s\n", s.game.ID)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect game config",
		Long:  "Config fixes the table: players, kingdom (a preset or ten cards), seed, rules, undo window and webhooks. It is stored with the game; dominion.yml in the workspace seeds new games.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current game's config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				return printJSONOrText(s.cfg)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file (defaults to <workspace>/dominion.yml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(path)
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	return cmd
}

func configInitCmd() *cobra.Command {
	var players []string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter dominion.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(players)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&players, "players", []string{"p1", "p2"}, "player ids")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func stateCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the game state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				st := s.eng.State()
				if at != "" {
					var err error
					if st, err = s.eng.StateAt(at); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				printState(st, viper.GetString("player"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "show the state as of this event id")
	return cmd
}

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <card>",
		Short: "Play an action card from hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), func(st domain.GameState, player string) (domain.Command, error) {
				return domain.PlayAction(player, domain.CardName(args[0])), nil
			})
		},
	}
}

func treasuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "treasures [card]",
		Short: "Play one treasure, or every treasure in hand",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), func(st domain.GameState, player string) (domain.Command, error) {
				if len(args) == 1 {
					return domain.PlayTreasure(player, domain.CardName(args[0])), nil
				}
				return domain.Command{Type: domain.CmdPlayAllTreasures, Player: player}, nil
			})
		},
	}
}

func buyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <card>",
		Short: "Buy a card from the supply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), func(st domain.GameState, player string) (domain.Command, error) {
				return domain.BuyCard(player, domain.CardName(args[0])), nil
			})
		},
	}
}

func endPhaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end-phase",
		Short: "End the action or buy phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), func(st domain.GameState, player string) (domain.Command, error) {
				return domain.EndPhase(player), nil
			})
		},
	}
}

func decideCmd() *cobra.Command {
	var cards, actions []string
	var order []int
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Answer the open decision",
		Long:  "Answer the open decision with the selected cards. Per-card choices (Sentry) take one --actions entry per card; ordered choices take --order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), func(st domain.GameState, player string) (domain.Command, error) {
				if st.Pending == nil {
					return domain.Command{}, fmt.Errorf("no decision is open")
				}
				d := domain.Decision{
					ChoiceID: st.Pending.ID,
					Stage:    st.Pending.Stage,
					Selected: toCards(cards),
					Order:    order,
				}
				for _, a := range actions {
					d.CardActions = append(d.CardActions, domain.CardAction(strings.TrimSpace(a)))
				}
				return domain.SubmitDecision(player, d), nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&cards, "cards", nil, "selected cards")
	cmd.Flags().StringSliceVar(&actions, "actions", nil, "per-card actions (trash, discard, topdeck)")
	cmd.Flags().IntSliceVar(&order, "order", nil, "order of the selected cards, as indexes")
	return cmd
}

func reactCmd() *cobra.Command {
	var decline bool
	cmd := &cobra.Command{
		Use:   "react [card]",
		Short: "Reveal a reaction to an attack, or decline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), func(st domain.GameState, player string) (domain.Command, error) {
				if decline || len(args) == 0 {
					return domain.DeclineReaction(player), nil
				}
				return domain.RevealReaction(player, domain.CardName(args[0])), nil
			})
		},
	}
	cmd.Flags().BoolVar(&decline, "decline", false, "decline to reveal")
	return cmd
}

func actionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the atomic actions open to a player",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				st := s.eng.State()
				player := actingPlayer(st)
				acts := consensus.LegalActions(st, player)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"player": player, "actions": acts})
				}
				if len(acts) == 0 {
					fmt.Printf("%s has nothing to do\n", player)
					return nil
				}
				for _, a := range acts {
					fmt.Println(formatAction(a))
				}
				return nil
			})
		},
	}
}

func voteCmd() *cobra.Command {
	var rounds []string
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Settle the next move by plurality vote",
		Long: `Each --round holds the votes of one round, comma separated, as type[:card[#index]]
(e.g. --round buy:Silver,buy:Silver,end_phase). A turn move takes one round; an open
decision takes one round per atomic action until it is complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rounds) == 0 {
				return fmt.Errorf("at least one --round is required")
			}
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				st := s.eng.State()
				player := actingPlayer(st)
				cmdToSend, err := settleVotes(st, player, rounds)
				if err != nil {
					return err
				}
				evs, err := s.eng.Dispatch(ctx, cmdToSend)
				if err != nil {
					return err
				}
				return printEvents(evs)
			})
		},
	}
	cmd.Flags().StringArrayVar(&rounds, "round", nil, "votes of one round")
	return cmd
}

func settleVotes(st domain.GameState, player string, rounds []string) (domain.Command, error) {
	parsed := make([][]consensus.Action, 0, len(rounds))
	for _, r := range rounds {
		votes, err := parseVotes(r)
		if err != nil {
			return domain.Command{}, err
		}
		parsed = append(parsed, votes)
	}
	if st.Pending == nil {
		if len(parsed) != 1 {
			return domain.Command{}, fmt.Errorf("a turn move takes exactly one round")
		}
		legal := consensus.LegalActions(st, player)
		var valid []consensus.Action
		for _, v := range parsed[0] {
			if slices.Contains(legal, v) {
				valid = append(valid, v)
			}
		}
		winner, ok := consensus.Tally(valid)
		if !ok {
			return domain.Command{}, fmt.Errorf("%w: no valid votes", consensus.ErrInvalidAction)
		}
		fmt.Printf("winner: %s\n", formatAction(winner))
		return consensus.TurnCommand(player, winner)
	}
	ballot := consensus.NewBallot(*st.Pending)
	for i, votes := range parsed {
		winner, done, err := ballot.Vote(votes)
		if err != nil {
			return domain.Command{}, fmt.Errorf("round %d: %w", i+1, err)
		}
		fmt.Printf("round %d: %s\n", i+1, formatAction(winner))
		if done {
			if i < len(parsed)-1 {
				return domain.Command{}, fmt.Errorf("ballot closed after round %d of %d", i+1, len(parsed))
			}
			return ballot.Command()
		}
	}
	var open []string
	for _, a := range ballot.Options() {
		open = append(open, formatAction(a))
	}
	return domain.Command{}, fmt.Errorf("ballot still open; next round options: %s", strings.Join(open, ", "))
}

func undoCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "undo <event-id>",
		Short: "Rewind the game so that <event-id> is the last event",
		Long: `Rewind the local game, or with --server ask the room the game is shared in.
A shared undo only runs once every other peer approves it (dom undo approve).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("server") != "" {
				return withRemote(cmd.Context(), func(ctx context.Context, c *dominionsdk.Client) error {
					res, err := c.Undo(ctx, args[0], reason)
					if err != nil {
						return err
					}
					return printUndoResult(res, args[0])
				})
			}
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				if err := localUndoAllowed(ctx, s.repo, s.game.ID); err != nil {
					return err
				}
				st, err := s.eng.UndoTo(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Rewound to %s\n", args[0])
				printState(st, "")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the other peers")
	cmd.PersistentFlags().String("server", "", "URL of the dom serve instance sharing the game (DOMINION_SERVER)")
	cmd.PersistentFlags().String("token", "", "bearer token for --server (DOMINION_TOKEN)")
	_ = viper.BindPFlag("server", cmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", cmd.PersistentFlags().Lookup("token"))

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the latest undo request of the shared game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), func(ctx context.Context, c *dominionsdk.Client) error {
				req, err := c.UndoStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Println(formatUndo(req))
				return nil
			})
		},
	})
	for _, verdict := range []string{"approve", "deny"} {
		cmd.AddCommand(&cobra.Command{
			Use:   verdict + " <request-id>",
			Short: strings.ToUpper(verdict[:1]) + verdict[1:] + " an open undo request for the server's seat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRemote(cmd.Context(), func(ctx context.Context, c *dominionsdk.Client) error {
					answer := c.DenyUndo
					if verdict == "approve" {
						answer = c.ApproveUndo
					}
					res, err := answer(ctx, args[0])
					if err != nil {
						return err
					}
					return printUndoResult(res, "")
				})
			},
		})
	}
	return cmd
}

// localUndoAllowed refuses to rewind a game a room may still be sharing;
// peers would never hear of it.
func localUndoAllowed(ctx context.Context, r repo.Repo, gameID string) error {
	info, err := r.GetRoom(ctx, gameID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("game %s is shared in room %s: undo through the server with --server, or drop the room with 'dom room forget'", gameID, info.Code)
}

func formatUndo(req dominionsdk.UndoRequest) string {
	if req.ID == "" {
		return "no undo request"
	}
	line := fmt.Sprintf("undo %s to %s by %s: %s", req.ID, req.ToEventID, req.Player, req.Status)
	if req.Reason != "" {
		line += fmt.Sprintf(" (%s)", req.Reason)
	}
	switch {
	case req.DeniedBy != "":
		line += "; denied by " + req.DeniedBy
	case req.Error != "":
		line += "; " + req.Error
	case len(req.Required) > 0:
		line += fmt.Sprintf("; approved by %d of %d (%s)", len(req.Approvals), len(req.Required), strings.Join(req.Approvals, ", "))
	}
	return line
}

func printUndoResult(res dominionsdk.UndoResult, eventID string) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Request != nil {
		fmt.Println(formatUndo(*res.Request))
		return nil
	}
	fmt.Printf("Rewound to %s\n", eventID)
	return nil
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				var out []domain.Event
				for _, evt := range s.eng.Events() {
					if evtType == "" || string(evt.Type()) == evtType {
						out = append(out, evt)
					}
				}
				if n > 0 && len(out) > n {
					out = out[len(out)-n:]
				}
				return printEvents(out)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func roomCmd() *cobra.Command {
	rm := &cobra.Command{Use: "room", Short: "Inspect the remembered room of the current game"}
	rm.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the last room this workspace joined for the game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				info, err := s.repo.GetRoom(ctx, s.game.ID)
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("game %s has not joined a room", s.game.ID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(info)
				}
				role := "follower"
				if info.IsHost {
					role = "host"
				}
				fmt.Printf("room %s as %s (%s), updated %s\n", info.Code, info.PeerID, role, info.UpdatedAt)
				fmt.Printf("roster: %s\n", strings.Join(info.Roster, ", "))
				return nil
			})
		},
	})
	rm.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "Drop the remembered room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGame(cmd.Context(), func(ctx context.Context, s session) error {
				return s.repo.DeleteRoom(ctx, s.game.ID)
			})
		},
	})
	return rm
}

// --- helpers ---

type session struct {
	repo repo.Repo
	game domain.Game
	cfg  *config.Config
	eng  *engine.Engine
}

func engineOptions() engine.Options {
	logger := log.New(io.Discard, "", 0)
	if viper.GetBool("verbose") {
		logger = log.New(os.Stderr, "dom: ", log.LstdFlags)
	}
	return engine.Options{Logger: logger}
}

func currentGame() string {
	if g := viper.GetString("game"); g != "" {
		return g
	}
	// Keys merged from .env keep their full name.
	return viper.GetString("dominion_game")
}

func withGame(ctx context.Context, fn func(context.Context, session) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		g, cfg, err := app.ResolveGame(ctx, currentGame(), r)
		if err != nil {
			return err
		}
		eng, err := app.LoadEngine(ctx, r, g, engineOptions())
		if err != nil {
			return err
		}
		return fn(ctx, session{repo: r, game: g, cfg: cfg, eng: eng})
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

// dispatch builds a command for the acting player and applies it.
// withRemote runs fn against the API server named by --server. The game
// reference is resolved to an id through the workspace when it is known here.
func withRemote(ctx context.Context, fn func(context.Context, *dominionsdk.Client) error) error {
	addr := viper.GetString("server")
	if addr == "" {
		return errors.New("undo requests live on the server: pass --server or set DOMINION_SERVER")
	}
	game := currentGame()
	err := withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		if g, _, err := app.ResolveGame(ctx, game, r); err == nil {
			game = g.ID
		}
		return nil
	})
	if err != nil {
		return err
	}
	if game == "" {
		return errors.New("no game selected: pass --game")
	}
	c := dominionsdk.New(addr, game)
	c.BearerToken = viper.GetString("token")
	return fn(ctx, c)
}

func dispatch(ctx context.Context, build func(domain.GameState, string) (domain.Command, error)) error {
	return withGame(ctx, func(ctx context.Context, s session) error {
		st := s.eng.State()
		c, err := build(st, actingPlayer(st))
		if err != nil {
			return err
		}
		evs, err := s.eng.Dispatch(ctx, c)
		if err != nil {
			return err
		}
		if st := s.eng.State(); st.Over() {
			if err := s.repo.UpdateGameStatus(ctx, s.game.ID, domain.GameFinished); err != nil {
				return err
			}
		}
		return printEvents(evs)
	})
}

func actingPlayer(st domain.GameState) string {
	if p := viper.GetString("player"); p != "" {
		return p
	}
	if st.Pending != nil {
		return st.Pending.Player
	}
	return st.ActivePlayer
}

func printState(st domain.GameState, focus string) {
	if st.Over() && st.Result != nil {
		fmt.Printf("Game over. Winners: %s\n", strings.Join(st.Result.Winners, ", "))
	} else {
		fmt.Printf("Turn %d  %s  phase=%s  actions=%d buys=%d coins=%d\n",
			st.Turn, st.ActivePlayer, st.Phase, st.Actions, st.Buys, st.Coins)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Player", "Hand", "Deck", "Discard", "In play", "Score"})
	for _, p := range st.Players {
		hand := strconv.Itoa(len(p.Hand))
		if p.ID == focus || (focus == "" && p.ID == st.ActivePlayer) {
			hand = joinCards(p.Hand)
		}
		score := ""
		if st.Result != nil {
			score = strconv.Itoa(st.Result.Scores[p.ID])
		}
		tw.AppendRow(table.Row{p.ID, hand, len(p.Deck), len(p.Discard), joinCards(p.InPlay), score})
	}
	tw.Render()

	supply := table.NewWriter()
	supply.SetOutputMirror(os.Stdout)
	supply.AppendHeader(table.Row{"Card", "Cost", "Left"})
	names := make([]domain.CardName, 0, len(st.Supply))
	for c := range st.Supply {
		names = append(names, c)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := domain.CostOf(names[i]), domain.CostOf(names[j])
		if ci != cj {
			return ci < cj
		}
		return names[i] < names[j]
	})
	for _, c := range names {
		supply.AppendRow(table.Row{c, domain.CostOf(c), st.Supply[c]})
	}
	supply.Render()

	if p := st.Pending; p != nil {
		fmt.Printf("Waiting on %s: %s %s", p.Player, p.Card, p.Kind)
		if p.Prompt != "" {
			fmt.Printf(" (%s)", p.Prompt)
		}
		fmt.Printf("\n  options: %s  pick %d-%d\n", joinCards(p.CardOptions), p.Min, p.Max)
	}
}

func printEvents(evs []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(evs)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Payload"})
	for _, evt := range evs {
		body, _ := json.Marshal(evt.Payload)
		tw.AppendRow(table.Row{evt.ID, evt.Type(), string(body)})
	}
	tw.Render()
	return nil
}

func printJSONOrText(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseVotes reads "type[:card[#index]]" entries separated by commas.
func parseVotes(s string) ([]consensus.Action, error) {
	var out []consensus.Action
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		typ, rest, _ := strings.Cut(raw, ":")
		a := consensus.Action{Type: consensus.ActionType(typ)}
		if rest != "" {
			card, idx, hasIdx := strings.Cut(rest, "#")
			a.Card = domain.CardName(card)
			if hasIdx {
				n, err := strconv.Atoi(idx)
				if err != nil {
					return nil, fmt.Errorf("vote %q: bad index", raw)
				}
				a.Index = n
			}
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty round %q", s)
	}
	return out, nil
}

func formatAction(a consensus.Action) string {
	switch {
	case a.Card == "":
		return string(a.Type)
	case a.Index > 0:
		return fmt.Sprintf("%s:%s#%d", a.Type, a.Card, a.Index)
	}
	return fmt.Sprintf("%s:%s", a.Type, a.Card)
}

func toCards(items []string) []domain.CardName {
	out := make([]domain.CardName, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, domain.CardName(s))
		}
	}
	return out
}

func joinCards(cards []domain.CardName) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = string(c)
	}
	return strings.Join(parts, " ")
}

func playerIDs(st domain.GameState) []string {
	out := make([]string, 0, len(st.Players))
	for _, p := range st.Players {
		out = append(out, p.ID)
	}
	return out
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
