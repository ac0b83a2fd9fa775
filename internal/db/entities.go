package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Action is the shared punishment vocabulary used by the flood, warn and
// blacklist severity settings.
type Action string

const (
	ActionNone      Action = "none"
	ActionDelete    Action = "delete"
	ActionWarn      Action = "warn"
	ActionMute      Action = "mute"
	ActionKick      Action = "kick"
	ActionBan       Action = "ban"
	ActionTimedBan  Action = "timed_ban"
	ActionTimedMute Action = "timed_mute"
)

// Timed reports whether the action needs a duration token.
func (a Action) Timed() bool {
	return a == ActionTimedBan || a == ActionTimedMute
}

// ParseAction maps an admin-entered mode word to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionNone, ActionDelete, ActionWarn, ActionMute, ActionKick, ActionBan, ActionTimedBan, ActionTimedMute:
		return Action(s), nil
	}
	switch s {
	case "off", "no", "nothing":
		return ActionNone, nil
	case "del":
		return ActionDelete, nil
	case "tban":
		return ActionTimedBan, nil
	case "tmute":
		return ActionTimedMute, nil
	}
	return "", errors.Errorf("unknown action %q", s)
}

type (
	// FloodState is the per-chat burst counter. TrackedUser is NULL both
	// before any message is seen and after an exempt sender resets the
	// burst; the two cases behave identically downstream.
	FloodState struct {
		ChatID      int64         `db:"chat_id"`
		TrackedUser sql.NullInt64 `db:"tracked_user_id"`
		Count       int           `db:"count"`
		Limit       int           `db:"msg_limit"`
		UpdatedAt   time.Time     `db:"updated_at"`
	}

	// FloodSetting is the per-chat punishment for flooding.
	FloodSetting struct {
		ChatID   int64  `db:"chat_id"`
		Mode     Action `db:"mode"`
		Duration string `db:"duration"`
	}

	WarnRecord struct {
		UserID  int64      `db:"user_id"`
		ChatID  int64      `db:"chat_id"`
		Count   int        `db:"count"`
		Reasons ReasonList `db:"reasons"`
	}

	WarnSetting struct {
		ChatID int64 `db:"chat_id"`
		Limit  int   `db:"warn_limit"`
		Soft   bool  `db:"soft_warn"`
	}

	WarnFilter struct {
		ChatID  int64  `db:"chat_id"`
		Keyword string `db:"keyword"`
		Reply   string `db:"reply"`
	}

	BlacklistTrigger struct {
		ChatID int64  `db:"chat_id"`
		Phrase string `db:"phrase"`
	}

	BlacklistSetting struct {
		ChatID   int64  `db:"chat_id"`
		Mode     Action `db:"mode"`
		Duration string `db:"duration"`
	}

	// VerificationEntry is the pending-challenge record for a newly
	// joined, restricted member. At most one entry exists per
	// (chat,user); a new join replaces the old entry.
	VerificationEntry struct {
		ChatID             int64     `db:"chat_id"`
		UserID             int64     `db:"user_id"`
		Status             string    `db:"status"`
		SuccessUUID        string    `db:"success_uuid"`
		ExpectedAnswer     string    `db:"expected_answer"`
		WelcomePayload     string    `db:"welcome_payload"`
		ChallengeMessageID int       `db:"challenge_message_id"`
		CreatedAt          time.Time `db:"created_at"`
		ExpiresAt          time.Time `db:"expires_at"`
	}

	// ChatSettings carries per-chat gate policy.
	ChatSettings struct {
		ChatID           int64  `db:"chat_id"`
		VerificationMode string `db:"verification_mode"`
		Language         string `db:"language"`
	}

	ReasonList []string
)

// Verification entry statuses.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationExpired  = "expired"
)

// Verification gate modes.
const (
	VerificationModeOff     = "off"
	VerificationModeStrong  = "strong"
	VerificationModeCaptcha = "captcha"
)

func (r ReasonList) Value() (driver.Value, error) {
	if r == nil {
		r = ReasonList{}
	}
	return json.Marshal(r)
}

func (r *ReasonList) Scan(v interface{}) error {
	if v == nil {
		*r = ReasonList{}
		return nil
	}
	switch data := v.(type) {
	case []byte:
		return json.Unmarshal(data, r)
	case string:
		return json.Unmarshal([]byte(data), r)
	}
	return errors.Errorf("unsupported reasons type %T", v)
}
