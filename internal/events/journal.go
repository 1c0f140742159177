// Package events stores a game's event log in SQLite. A Journal is the
// durable side of an engine: the engine appends to it before committing.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dominion/internal/domain"
)

type Journal struct {
	DB     *sql.DB
	GameID string
	Now    func() time.Time
}

func (j Journal) now() string {
	if j.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return j.Now().UTC().Format(time.RFC3339)
}

// Append writes events in one transaction and raises the game's id counter.
func (j Journal) Append(ctx context.Context, evs []domain.Event) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var last int64
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO game_events(game_id,seq,event_id,type,ts,payload_json) VALUES (?,?,?,?,?,?)`,
			j.GameID, ev.Seq, ev.ID, string(ev.Type()), ev.At.UTC().Format(time.RFC3339Nano), string(data))
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		last = max(last, ev.Seq)
	}
	res, err := tx.ExecContext(ctx, `UPDATE games SET event_counter=MAX(event_counter,?), updated_at=? WHERE id=?`, last, j.now(), j.GameID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("game %s not found", j.GameID)
	}
	return tx.Commit()
}

// Truncate deletes every event after afterSeq. The id counter is kept.
func (j Journal) Truncate(ctx context.Context, afterSeq int64) error {
	_, err := j.DB.ExecContext(ctx, `DELETE FROM game_events WHERE game_id=? AND seq>?`, j.GameID, afterSeq)
	return err
}

// List returns the whole log in order.
func (j Journal) List(ctx context.Context) ([]domain.Event, error) {
	return j.After(ctx, 0, 0)
}

// After returns up to limit events with seq above cursor; limit 0 means all.
func (j Journal) After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	query := `SELECT payload_json FROM game_events WHERE game_id=? AND seq>? ORDER BY seq ASC`
	args := []any{j.GameID, cursor}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := j.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode stored event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LastSeq returns the seq of the newest stored event, 0 for an empty log.
func (j Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := j.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM game_events WHERE game_id=?`, j.GameID).Scan(&seq)
	return seq, err
}
