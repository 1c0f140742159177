package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dominion/internal/config"
	"dominion/internal/domain"
	"dominion/internal/events"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const gameColumns = `id,name,status,event_counter,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(row scanner) (domain.Game, error) {
	var g domain.Game
	err := row.Scan(&g.ID, &g.Name, &g.Status, &g.EventCounter, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

// InsertGame stores a new game together with the config it was created from.
func (r Repo) InsertGame(ctx context.Context, g domain.Game, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO games(id,name,status,config_json,event_counter,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.Name, g.Status, string(payload), g.EventCounter, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) GetGame(ctx context.Context, id string) (domain.Game, error) {
	return scanGame(r.DB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id=?`, id))
}

// FindGame resolves a game by id or by name.
func (r Repo) FindGame(ctx context.Context, ref string) (domain.Game, error) {
	return scanGame(r.DB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id=? OR name=? LIMIT 1`, ref, ref))
}

// SingleGame returns the only game of the workspace.
func (r Repo) SingleGame(ctx context.Context) (domain.Game, error) {
	games, err := r.ListGames(ctx, "", 2, "", "")
	if err != nil {
		return domain.Game{}, err
	}
	switch len(games) {
	case 0:
		return domain.Game{}, ErrNotFound
	case 1:
		return games[0], nil
	}
	return domain.Game{}, fmt.Errorf("multiple games exist; specify --game")
}

// ListGames pages games newest first. The cursor is the created_at and id of
// the last game of the previous page.
func (r Repo) ListGames(ctx context.Context, status string, limit int, cursorCreatedAt, cursorID string) ([]domain.Game, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + gameColumns + ` FROM games WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpdateGameStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE games SET status=?, updated_at=? WHERE id=?`, status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteGame(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM games WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetGameConfig(ctx context.Context, id string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM games WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// Journal returns the event journal of a game.
func (r Repo) Journal(gameID string) events.Journal {
	return events.Journal{DB: r.DB, GameID: gameID}
}

// EventsAfter pages a game's events in ascending seq order.
func (r Repo) EventsAfter(ctx context.Context, gameID string, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.Journal(gameID).After(ctx, cursor, limit)
}

// LatestSeq returns the newest event seq of a game.
func (r Repo) LatestSeq(ctx context.Context, gameID string) (int64, error) {
	return r.Journal(gameID).LastSeq(ctx)
}

// UpsertRoom records the room a workspace is attached to for a game.
func (r Repo) UpsertRoom(ctx context.Context, info domain.RoomInfo) error {
	roster, err := json.Marshal(info.Roster)
	if err != nil {
		return err
	}
	if info.UpdatedAt == "" {
		info.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO rooms(game_id,code,peer_id,is_host,roster_json,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(game_id) DO UPDATE SET code=excluded.code, peer_id=excluded.peer_id, is_host=excluded.is_host, roster_json=excluded.roster_json, updated_at=excluded.updated_at`,
		info.GameID, info.Code, info.PeerID, info.IsHost, string(roster), info.UpdatedAt)
	return err
}

func (r Repo) GetRoom(ctx context.Context, gameID string) (domain.RoomInfo, error) {
	var info domain.RoomInfo
	var roster string
	err := r.DB.QueryRowContext(ctx, `SELECT game_id,code,peer_id,is_host,roster_json,updated_at FROM rooms WHERE game_id=?`, gameID).
		Scan(&info.GameID, &info.Code, &info.PeerID, &info.IsHost, &roster, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return info, ErrNotFound
	}
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal([]byte(roster), &info.Roster); err != nil {
		return info, fmt.Errorf("decode roster: %w", err)
	}
	return info, nil
}

func (r Repo) DeleteRoom(ctx context.Context, gameID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM rooms WHERE game_id=?`, gameID)
	return err
}
