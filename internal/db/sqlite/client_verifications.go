package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/wardenbot/warden/internal/db"
)

func (c *sqliteClient) UpsertVerification(ctx context.Context, entry *db.VerificationEntry) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// A second join before resolution replaces the old entry wholesale.
	query := `
		INSERT INTO verifications (
			chat_id, user_id, status, success_uuid, expected_answer,
			welcome_payload, challenge_message_id, created_at, expires_at
		) VALUES (
			:chat_id, :user_id, :status, :success_uuid, :expected_answer,
			:welcome_payload, :challenge_message_id, :created_at, :expires_at
		)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			status = excluded.status,
			success_uuid = excluded.success_uuid,
			expected_answer = excluded.expected_answer,
			welcome_payload = excluded.welcome_payload,
			challenge_message_id = excluded.challenge_message_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, entry))
}

func (c *sqliteClient) GetVerification(ctx context.Context, chatID, userID int64) (*db.VerificationEntry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var entry db.VerificationEntry
	err := c.db.GetContext(ctx, &entry, `
		SELECT chat_id, user_id, status, success_uuid, expected_answer,
			welcome_payload, challenge_message_id, created_at, expires_at
		FROM verifications
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (c *sqliteClient) ResolvePendingVerification(ctx context.Context, chatID, userID int64, status string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Conditional flip away from pending is the take-once primitive:
	// whichever of answer/timeout lands first wins, the loser sees zero
	// affected rows.
	res, err := c.db.ExecContext(ctx, `
		UPDATE verifications SET status = ?
		WHERE chat_id = ? AND user_id = ? AND status = ?
	`, status, chatID, userID, db.VerificationPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *sqliteClient) DeleteVerification(ctx context.Context, chatID, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM verifications WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	return err
}

func (c *sqliteClient) GetPendingVerifications(ctx context.Context, before time.Time) ([]*db.VerificationEntry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var entries []*db.VerificationEntry
	err := c.db.SelectContext(ctx, &entries, `
		SELECT chat_id, user_id, status, success_uuid, expected_answer,
			welcome_payload, challenge_message_id, created_at, expires_at
		FROM verifications
		WHERE status = ? AND created_at <= ?
	`, db.VerificationPending, before)
	return entries, err
}
