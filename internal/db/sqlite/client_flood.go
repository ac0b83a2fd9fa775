package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) GetFloodState(ctx context.Context, chatID int64) (*db.FloodState, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var state db.FloodState
	err := c.db.GetContext(ctx, &state, `
		SELECT chat_id, tracked_user_id, count, msg_limit, updated_at
		FROM flood_state
		WHERE chat_id = ?
	`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (c *sqliteClient) SetFloodLimit(ctx context.Context, chatID int64, limit int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO flood_state (chat_id, tracked_user_id, count, msg_limit, updated_at)
		VALUES (?, NULL, 1, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			tracked_user_id = NULL,
			count = 1,
			msg_limit = excluded.msg_limit,
			updated_at = excluded.updated_at
	`
	_, err := c.db.ExecContext(ctx, query, chatID, limit, time.Now().UTC())
	return err
}

func (c *sqliteClient) SaveFloodState(ctx context.Context, state *db.FloodState) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO flood_state (chat_id, tracked_user_id, count, msg_limit, updated_at)
		VALUES (:chat_id, :tracked_user_id, :count, :msg_limit, :updated_at)
		ON CONFLICT(chat_id) DO UPDATE SET
			tracked_user_id = excluded.tracked_user_id,
			count = excluded.count,
			msg_limit = excluded.msg_limit,
			updated_at = excluded.updated_at
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, state))
}

func (c *sqliteClient) GetFloodSetting(ctx context.Context, chatID int64) (*db.FloodSetting, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var setting db.FloodSetting
	err := c.db.GetContext(ctx, &setting, `
		SELECT chat_id, mode, duration FROM flood_settings WHERE chat_id = ?
	`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.DefaultFloodSetting(chatID), nil
		}
		return nil, err
	}
	return &setting, nil
}

func (c *sqliteClient) SetFloodSetting(ctx context.Context, setting *db.FloodSetting) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO flood_settings (chat_id, mode, duration)
		VALUES (:chat_id, :mode, :duration)
		ON CONFLICT(chat_id) DO UPDATE SET
			mode = excluded.mode,
			duration = excluded.duration
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, setting))
}
