package bot

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wardenbot/warden/internal/config"
	"github.com/wardenbot/warden/internal/infra/reg"
	"github.com/wardenbot/warden/internal/observability"
)

const (
	UpdateTimeout = 5 * time.Minute
)

type UpdateProcessor struct {
	s              Service
	updateHandlers []Handler
}

var registeredHandlers = make(map[string]Handler)

func RegisterUpdateHandler(title string, handler Handler) {
	registeredHandlers[title] = handler
}

func NewUpdateProcessor(s Service) *UpdateProcessor {
	enabledHandlers := make([]Handler, 0)
	for _, handlerName := range config.Get().EnabledHandlers {
		if _, ok := registeredHandlers[handlerName]; !ok || registeredHandlers[handlerName] == nil {
			log.Warnf("no registered handler: %s", handlerName)
			continue
		}
		enabledHandlers = append(enabledHandlers, registeredHandlers[handlerName])
	}

	return &UpdateProcessor{
		s:              s,
		updateHandlers: enabledHandlers,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	ctx, span := otel.Tracer("update-processor").Start(ctx, "process-update")
	defer span.End()
	observability.Logger.Debug("processing update", zap.Int("update_id", u.UpdateID))

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if u.Message != nil && time.Since(time.Unix(int64(u.Message.Date), 0)) > UpdateTimeout {
		log.WithField("age", time.Since(time.Unix(int64(u.Message.Date), 0))).Debug("skipping outdated update")
		return nil
	}

	// The platform re-keys a chat when it upgrades to a supergroup; every
	// per-chat entity follows in one store transaction.
	if u.Message != nil && u.Message.MigrateToChatID != 0 {
		if err := up.s.GetDB().MigrateChat(ctx, u.Message.Chat.ID, u.Message.MigrateToChatID); err != nil {
			return errors.WithMessage(err, "chat migration")
		}
		reg.Get().ForgetChat(u.Message.Chat.ID)
		observability.Logger.Info("chat migrated",
			zap.Int64("from", u.Message.Chat.ID),
			zap.Int64("to", u.Message.MigrateToChatID),
		)
		return nil
	}

	chat := u.FromChat()
	user := u.SentFrom()

	for _, handler := range up.updateHandlers {
		if handler == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			proceed, err := handler.Handle(ctx, u, chat, user)
			if err != nil {
				return errors.WithMessage(err, "handling error")
			}
			if !proceed {
				log.Trace("not proceeding")
				return nil
			}
		}
	}
	return nil
}
