package handlers

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/bot"
)

type noticeStore interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
}

// notifyDisabledOnce posts a single in-chat notice that a subsystem shut
// itself off after losing admin rights. The kv flag keeps repeated trips
// from spamming the chat.
func notifyDisabledOnce(ctx context.Context, store noticeStore, actions bot.ChatActions, chatID int64, subsystem, text string) {
	key := fmt.Sprintf("privnotice:%s:%d", subsystem, chatID)
	seen, err := store.GetKV(ctx, key)
	if err != nil || seen != "" {
		return
	}
	if _, err := actions.SendMessage(ctx, chatID, text); err != nil {
		log.WithField("handler", subsystem).WithError(err).Debug("cant post disable notice")
		return
	}
	_ = store.SetKV(ctx, key, "1")
}
