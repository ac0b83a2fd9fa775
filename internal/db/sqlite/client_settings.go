package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) GetChatSettings(ctx context.Context, chatID int64) (*db.ChatSettings, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var settings db.ChatSettings
	err := c.db.GetContext(ctx, &settings, `
		SELECT chat_id, verification_mode, language FROM chat_settings WHERE chat_id = ?
	`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.DefaultChatSettings(chatID), nil
		}
		return nil, err
	}
	return &settings, nil
}

func (c *sqliteClient) SetChatSettings(ctx context.Context, settings *db.ChatSettings) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO chat_settings (chat_id, verification_mode, language)
		VALUES (:chat_id, :verification_mode, :language)
		ON CONFLICT(chat_id) DO UPDATE SET
			verification_mode = excluded.verification_mode,
			language = excluded.language
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, settings))
}

func (c *sqliteClient) GetKV(ctx context.Context, key string) (string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var value string
	err := c.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get value for key %s: %w", key, err)
	}
	return value, nil
}

func (c *sqliteClient) SetKV(ctx context.Context, key string, value string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	_, err := c.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set value for key %s: %w", key, err)
	}
	return nil
}
