package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iamwavecut/tool"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) AddBlacklistTrigger(ctx context.Context, chatID int64, trigger string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blacklist_triggers (chat_id, phrase) VALUES (?, ?)
	`, chatID, trigger)
	return err
}

func (c *sqliteClient) RemoveBlacklistTrigger(ctx context.Context, chatID int64, trigger string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM blacklist_triggers WHERE chat_id = ? AND phrase = ?
	`, chatID, trigger)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *sqliteClient) GetBlacklistTriggers(ctx context.Context, chatID int64) ([]*db.BlacklistTrigger, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var triggers []*db.BlacklistTrigger
	err := c.db.SelectContext(ctx, &triggers, `
		SELECT chat_id, phrase FROM blacklist_triggers
		WHERE chat_id = ?
		ORDER BY rowid
	`, chatID)
	return triggers, err
}

func (c *sqliteClient) GetBlacklistSetting(ctx context.Context, chatID int64) (*db.BlacklistSetting, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var setting db.BlacklistSetting
	err := c.db.GetContext(ctx, &setting, `
		SELECT chat_id, mode, duration FROM blacklist_settings WHERE chat_id = ?
	`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.DefaultBlacklistSetting(chatID), nil
		}
		return nil, err
	}
	return &setting, nil
}

func (c *sqliteClient) SetBlacklistSetting(ctx context.Context, setting *db.BlacklistSetting) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO blacklist_settings (chat_id, mode, duration)
		VALUES (:chat_id, :mode, :duration)
		ON CONFLICT(chat_id) DO UPDATE SET
			mode = excluded.mode,
			duration = excluded.duration
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, setting))
}
