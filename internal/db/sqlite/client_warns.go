package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iamwavecut/tool"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) GetWarnRecord(ctx context.Context, chatID, userID int64) (*db.WarnRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var record db.WarnRecord
	err := c.db.GetContext(ctx, &record, `
		SELECT user_id, chat_id, count, reasons FROM warns
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (c *sqliteClient) SaveWarnRecord(ctx context.Context, record *db.WarnRecord) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO warns (user_id, chat_id, count, reasons)
		VALUES (:user_id, :chat_id, :count, :reasons)
		ON CONFLICT(user_id, chat_id) DO UPDATE SET
			count = excluded.count,
			reasons = excluded.reasons
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, record))
}

func (c *sqliteClient) ResetWarnRecord(ctx context.Context, chatID, userID int64, expectedCount int) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		UPDATE warns SET count = 0, reasons = '[]'
		WHERE chat_id = ? AND user_id = ? AND count = ?
	`, chatID, userID, expectedCount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *sqliteClient) GetWarnSetting(ctx context.Context, chatID int64) (*db.WarnSetting, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var setting db.WarnSetting
	err := c.db.GetContext(ctx, &setting, `
		SELECT chat_id, warn_limit, soft_warn FROM warn_settings WHERE chat_id = ?
	`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.DefaultWarnSetting(chatID), nil
		}
		return nil, err
	}
	return &setting, nil
}

func (c *sqliteClient) SetWarnSetting(ctx context.Context, setting *db.WarnSetting) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO warn_settings (chat_id, warn_limit, soft_warn)
		VALUES (:chat_id, :warn_limit, :soft_warn)
		ON CONFLICT(chat_id) DO UPDATE SET
			warn_limit = excluded.warn_limit,
			soft_warn = excluded.soft_warn
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, setting))
}

func (c *sqliteClient) AddWarnFilter(ctx context.Context, filter *db.WarnFilter) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO warn_filters (chat_id, keyword, reply)
		VALUES (:chat_id, :keyword, :reply)
		ON CONFLICT(chat_id, keyword) DO UPDATE SET reply = excluded.reply
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, filter))
}

func (c *sqliteClient) RemoveWarnFilter(ctx context.Context, chatID int64, keyword string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM warn_filters WHERE chat_id = ? AND keyword = ?
	`, chatID, keyword)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *sqliteClient) GetWarnFilters(ctx context.Context, chatID int64) ([]*db.WarnFilter, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var filters []*db.WarnFilter
	err := c.db.SelectContext(ctx, &filters, `
		SELECT chat_id, keyword, reply FROM warn_filters
		WHERE chat_id = ?
		ORDER BY rowid
	`, chatID)
	return filters, err
}
