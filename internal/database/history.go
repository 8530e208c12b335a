package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Codexace/skull-multiplayer/internal/cache"
)

// InsertGameActions appends a batch of archived actions to game_actions
// in one transaction. Rooms are identified by code plus the action
// timestamp; codes get recycled between games, so the table is an
// append-only event log rather than a keyed game record.
func InsertGameActions(ctx context.Context, records []cache.GameActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO game_actions (room_code, seat, action_type, detail, occurred_at)
			VALUES ($1, $2, $3, $4, to_timestamp($5))
		`
		batch := &pgx.Batch{}
		for _, rec := range records {
			detail, err := json.Marshal(rec.Detail)
			if err != nil {
				return fmt.Errorf("marshal action detail: %w", err)
			}
			batch.Queue(q, rec.RoomCode, rec.Seat, rec.ActionType, detail, rec.Timestamp)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range records {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert game action: %w", err)
			}
		}
		return nil
	})
}

// UpsertMatchResult records a finished game. An empty winner marks a game
// that ended with no survivors.
func UpsertMatchResult(ctx context.Context, roomCode, winner string, endedAt int64) error {
	q := `
		INSERT INTO match_results (room_code, winner, ended_at)
		VALUES ($1, $2, to_timestamp($3))
	`
	if _, err := DB.Exec(ctx, q, roomCode, winner, endedAt); err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}
	return nil
}
