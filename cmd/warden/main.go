package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
	"github.com/wardenbot/warden/internal/config"
	"github.com/wardenbot/warden/internal/db/sqlite"
	chat "github.com/wardenbot/warden/internal/handlers/chat"
	moderation "github.com/wardenbot/warden/internal/handlers/moderation"
	"github.com/wardenbot/warden/internal/infra"
	"github.com/wardenbot/warden/internal/infrastructure/telegram"
	"github.com/wardenbot/warden/internal/lifecycle"
	"github.com/wardenbot/warden/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}

	log.SetFormatter(&config.WdFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	store, err := sqlite.NewSQLiteClient(ctx, filepath.Dir(cfg.DBPath), filepath.Base(cfg.DBPath))
	if err != nil {
		log.WithError(err).Fatalln("cant open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Errorln("cant close store")
		}
	}()

	tgbot, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	tgbot.Debug = false
	log.Infof("authorized as @%s", tgbot.Self.UserName)

	actions := telegram.NewOperations(tgbot, cfg.ExemptUserIDs)
	service := bot.NewService(tgbot, store, actions)
	auditLog := audit.NewLogger(os.Stdout)

	enforcer := moderation.NewEnforcer(actions, auditLog)
	warns := moderation.NewWarnLedger(store, enforcer, actions)
	flood := moderation.NewFloodLimiter(store, enforcer, actions, cfg.Flood.IdleWindow)
	triggers := moderation.NewTriggerMatcher(store, enforcer, warns, actions)

	gatekeeper, err := chat.NewGatekeeper(service, store, actions, auditLog, cfg.Verification)
	if err != nil {
		log.WithError(err).Fatalln("cant initialize gatekeeper")
	}

	bot.RegisterUpdateHandler("moderation", moderation.NewModeration(service, flood, triggers))
	bot.RegisterUpdateHandler("gatekeeper", gatekeeper)

	runtime := lifecycle.NewRuntime(gatekeeper)
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start runtime")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Errorln("cant stop runtime")
		}
	}()

	processor := bot.NewUpdateProcessor(service)

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60

	go infra.GoRecoverable(-1, "process_updates", func() {
		defer cancel()
		for update := range tgbot.GetUpdatesChan(updateConfig) {
			update := update
			// One task per inbound event; per-chat ordering is enforced
			// by the keyed locks, not by the poll loop.
			go func() {
				if err := processor.Process(ctx, &update); err != nil {
					log.WithError(err).Errorln("cant process update")
				}
			}()
		}
	})

	<-ctx.Done()
	log.Infoln("shutting down")
}
