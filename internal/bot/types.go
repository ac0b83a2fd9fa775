package bot

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Handler consumes one update; proceed=false stops the handler chain.
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}

// ChatActions is the platform capability surface the engine enforces
// through. A zero until means a permanent ban/restriction.
type ChatActions interface {
	Ban(ctx context.Context, chatID, userID int64, until time.Time) error
	Unban(ctx context.Context, chatID, userID int64) error
	Restrict(ctx context.Context, chatID, userID int64, canSend bool, until time.Time) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendMessage(ctx context.Context, chatID int64, text string) (messageID int, err error)
	InviteLink(ctx context.Context, chatID int64) (string, error)
	IsExempt(ctx context.Context, chatID, userID int64) (bool, error)
	CanRestrict(ctx context.Context, chatID, userID int64) (bool, error)
}
