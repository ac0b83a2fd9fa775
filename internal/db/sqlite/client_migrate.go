package sqlite

import (
	"context"
	"fmt"
)

// MigrateChat re-keys every per-chat table from oldID to newID inside one
// transaction. Partial re-keying would leave the engine split across two
// chat identities, so any failure rolls the whole operation back.
func (c *sqliteClient) MigrateChat(ctx context.Context, oldID, newID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		`UPDATE flood_state SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE flood_settings SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE warns SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE warn_settings SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE warn_filters SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE blacklist_triggers SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE blacklist_settings SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE verifications SET chat_id = ? WHERE chat_id = ?`,
		`UPDATE chat_settings SET chat_id = ? WHERE chat_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, newID, oldID); err != nil {
			return err
		}
	}

	// Delivered one-time notices are keyed privnotice:<subsystem>:<chatID>;
	// they follow the chat so a notice does not re-fire after an upgrade.
	oldSuffix := fmt.Sprintf(":%d", oldID)
	newSuffix := fmt.Sprintf(":%d", newID)
	if _, err := tx.ExecContext(ctx, `
		UPDATE OR REPLACE kv_store
		SET key = substr(key, 1, length(key) - length(?)) || ?
		WHERE key LIKE 'privnotice:%' AND key LIKE '%' || ?
	`, oldSuffix, newSuffix, oldSuffix); err != nil {
		return err
	}

	return tx.Commit()
}
