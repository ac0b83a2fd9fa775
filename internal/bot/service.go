package bot

import (
	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/wardenbot/warden/internal/db"
)

type ServiceBot interface {
	GetBot() *api.BotAPI
}

type ServiceDB interface {
	GetDB() db.Client
}

type ServiceActions interface {
	GetActions() ChatActions
}

type Service interface {
	ServiceBot
	ServiceDB
	ServiceActions
}

type service struct {
	bot     *api.BotAPI
	db      db.Client
	actions ChatActions
}

func NewService(bot *api.BotAPI, db db.Client, actions ChatActions) *service {
	return &service{
		bot:     bot,
		db:      db,
		actions: actions,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetActions() ChatActions {
	return s.actions
}
