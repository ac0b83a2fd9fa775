package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
)

// Moderation is the per-message entry point. Every group message runs
// through the flood counter and the trigger scan; the two checks are
// independent and run concurrently.
type Moderation struct {
	s        bot.Service
	flood    *FloodLimiter
	triggers *TriggerMatcher
	logger   *log.Entry
}

func NewModeration(s bot.Service, flood *FloodLimiter, triggers *TriggerMatcher) *Moderation {
	return &Moderation{
		s:        s,
		flood:    flood,
		triggers: triggers,
		logger:   log.WithField("handler", "moderation"),
	}
}

func (h *Moderation) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u.Message == nil || chat == nil || user == nil {
		return true, nil
	}
	if chat.IsPrivate() {
		return true, nil
	}
	text := u.Message.Text
	if text == "" {
		text = u.Message.Caption
	}

	exempt, err := h.s.GetActions().IsExempt(ctx, chat.ID, user.ID)
	if err != nil {
		h.logger.WithError(err).Warn("cant resolve exemption, treating sender as regular")
		exempt = false
	}

	var floodEntry, triggerEntry *audit.Entry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		floodEntry, err = h.flood.CheckMessage(gctx, chat.ID, user.ID, exempt)
		return err
	})
	g.Go(func() error {
		var err error
		triggerEntry, err = h.triggers.ScanMessage(gctx, chat.ID, user.ID, u.Message.MessageID, text, exempt)
		return err
	})
	if err := g.Wait(); err != nil {
		return true, err
	}

	if floodEntry != nil {
		h.logger.WithField("chat_id", chat.ID).Info(floodEntry.String())
	}
	if triggerEntry != nil {
		h.logger.WithField("chat_id", chat.ID).Info(triggerEntry.String())
	}
	return true, nil
}
