package telegram

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	errs "github.com/wardenbot/warden/internal/errors"
	"github.com/wardenbot/warden/internal/policy/permissions"
)

// Operations implements the engine's ChatActions contract over the
// Telegram Bot API.
type Operations struct {
	bot *api.BotAPI

	// fixedExempt are identities exempt from enforcement everywhere,
	// regardless of chat-level roles.
	fixedExempt map[int64]struct{}
}

func NewOperations(bot *api.BotAPI, exemptUserIDs []int64) *Operations {
	fixed := make(map[int64]struct{}, len(exemptUserIDs))
	for _, id := range exemptUserIDs {
		fixed[id] = struct{}{}
	}
	return &Operations{bot: bot, fixedExempt: fixed}
}

func (o *Operations) Ban(ctx context.Context, chatID, userID int64, until time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	cfg := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		RevokeMessages: true,
	}
	if !until.IsZero() {
		cfg.UntilDate = until.Unix()
	}
	if _, err := o.bot.Request(cfg); err != nil {
		return withPrivilegeError(err, "ban")
	}
	return nil
}

func (o *Operations) Unban(ctx context.Context, chatID, userID int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	cfg := api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	}
	if _, err := o.bot.Request(cfg); err != nil {
		return withPrivilegeError(err, "unban")
	}
	return nil
}

func (o *Operations) Restrict(ctx context.Context, chatID, userID int64, canSend bool, until time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	cfg := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: &api.ChatPermissions{
			CanSendMessages:       canSend,
			CanSendOtherMessages:  canSend,
			CanAddWebPagePreviews: canSend,
		},
		UseIndependentChatPermissions: !canSend,
	}
	if !until.IsZero() {
		cfg.UntilDate = until.Unix()
	}
	if _, err := o.bot.Request(cfg); err != nil {
		return withPrivilegeError(err, "restrict")
	}
	return nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return withPrivilegeError(err, "delete message")
	}
	return nil
}

func (o *Operations) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	msg, err := o.bot.Send(api.NewMessage(chatID, text))
	if err != nil {
		return 0, errors.WithMessage(err, "cant send message")
	}
	return msg.MessageID, nil
}

func (o *Operations) InviteLink(ctx context.Context, chatID int64) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	chat, err := o.bot.GetChat(api.ChatInfoConfig{ChatConfig: api.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", errors.WithMessage(err, "cant get chat")
	}
	if chat.InviteLink != "" {
		return chat.InviteLink, nil
	}
	link, err := o.bot.GetInviteLink(api.ChatInviteLinkConfig{ChatConfig: api.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", errors.WithMessage(err, "cant export invite link")
	}
	return link, nil
}

func (o *Operations) IsExempt(ctx context.Context, chatID, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if _, ok := o.fixedExempt[userID]; ok {
		return true, nil
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return false, errors.Wrap(errs.ErrUnknownTarget, err.Error())
	}
	return permissions.CheckExempt(&member).Allowed, nil
}

// CanRestrict reports whether the user may moderate others in the chat.
func (o *Operations) CanRestrict(ctx context.Context, chatID, userID int64) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return false, errors.Wrap(errs.ErrUnknownTarget, err.Error())
	}
	return permissions.CheckCanRestrict(&member).Allowed, nil
}

// The API reports privilege failures as message text only; map them to
// the engine's sentinel so owning subsystems can auto-disable.
func withPrivilegeError(err error, operation string) error {
	if strings.Contains(err.Error(), "not enough rights") || strings.Contains(err.Error(), "CHAT_ADMIN_REQUIRED") {
		return errs.ErrInsufficientPrivilege
	}
	return errors.WithMessagef(err, "failed to %s", operation)
}
