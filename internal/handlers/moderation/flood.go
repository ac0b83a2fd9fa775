package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
	"github.com/wardenbot/warden/internal/db"
	errs "github.com/wardenbot/warden/internal/errors"
	"github.com/wardenbot/warden/internal/infra/reg"
	"github.com/wardenbot/warden/internal/observability"
)

type floodStore interface {
	noticeStore
	GetFloodState(ctx context.Context, chatID int64) (*db.FloodState, error)
	SaveFloodState(ctx context.Context, state *db.FloodState) error
	SetFloodLimit(ctx context.Context, chatID int64, limit int) error
	GetFloodSetting(ctx context.Context, chatID int64) (*db.FloodSetting, error)
	SetFloodSetting(ctx context.Context, setting *db.FloodSetting) error
}

// FloodLimiter counts consecutive messages from a single member and fires
// the chat's configured punishment once the run exceeds the limit. A
// different sender, an exempt sender or an idle gap restarts the run.
type FloodLimiter struct {
	store      floodStore
	enforcer   *Enforcer
	actions    bot.ChatActions
	idleWindow time.Duration
	now        func() time.Time
	logger     *log.Entry
}

func NewFloodLimiter(store floodStore, enforcer *Enforcer, actions bot.ChatActions, idleWindow time.Duration) *FloodLimiter {
	return &FloodLimiter{
		store:      store,
		enforcer:   enforcer,
		actions:    actions,
		idleWindow: idleWindow,
		now:        time.Now,
		logger:     log.WithField("handler", "flood"),
	}
}

// CheckMessage advances the chat's flood counter for one inbound message.
// The counter update happens under the chat lock; the punishment, if one
// trips, runs after the lock is released.
func (f *FloodLimiter) CheckMessage(ctx context.Context, chatID, userID int64, exempt bool) (*audit.Entry, error) {
	mu := reg.Get().ChatLock(chatID)
	mu.Lock()

	state, err := f.store.GetFloodState(ctx, chatID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if state == nil || state.Limit == 0 {
		mu.Unlock()
		return nil, nil
	}

	now := f.now()
	tripped := false
	switch {
	case exempt:
		state.TrackedUser = sql.NullInt64{}
		state.Count = 1
	case !state.TrackedUser.Valid,
		state.TrackedUser.Int64 != userID,
		now.Sub(state.UpdatedAt) >= f.idleWindow:
		state.TrackedUser = sql.NullInt64{Int64: userID, Valid: true}
		state.Count = 1
	default:
		state.Count++
		if state.Count > state.Limit {
			tripped = true
			state.Count = 1
		}
	}
	state.UpdatedAt = now

	if err := f.store.SaveFloodState(ctx, state); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	if !tripped {
		return nil, nil
	}
	observability.RecordFloodTrip()

	setting, err := f.store.GetFloodSetting(ctx, chatID)
	if err != nil {
		return nil, err
	}
	entry, err := f.enforcer.Apply(ctx, setting.Mode, Target{ChatID: chatID, UserID: userID}, setting.Duration, "flooding")
	if errors.Is(err, errs.ErrInsufficientPrivilege) {
		f.disable(ctx, chatID)
		return nil, nil
	}
	return entry, err
}

// disable shuts antiflood off after the bot lost its restrict rights, so
// the chat does not keep tripping punishments that can never execute.
func (f *FloodLimiter) disable(ctx context.Context, chatID int64) {
	if err := f.store.SetFloodLimit(ctx, chatID, 0); err != nil {
		f.logger.WithError(err).Error("cant disable antiflood")
		return
	}
	notifyDisabledOnce(ctx, f.store, f.actions, chatID, "flood",
		"I don't have enough rights to punish flooders here, so antiflood is now off.")
}

// SetLimit accepts 0 (off) or any value above 5. Small limits punish
// ordinary back-to-back messages, so they are refused outright.
func (f *FloodLimiter) SetLimit(ctx context.Context, chatID int64, limit int) error {
	if limit != 0 && limit <= 5 {
		return errors.Wrapf(errs.ErrTooStrict, "flood limit %d would trip on normal conversation, use 0 or a value above 5", limit)
	}
	return f.store.SetFloodLimit(ctx, chatID, limit)
}

func (f *FloodLimiter) Limit(ctx context.Context, chatID int64) (int, error) {
	state, err := f.store.GetFloodState(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, nil
	}
	return state.Limit, nil
}

// SetSeverity picks the punishment fired on a trip. Timed modes validate
// their duration token now so a bad one never reaches an actual trip.
func (f *FloodLimiter) SetSeverity(ctx context.Context, chatID int64, modeToken, durationToken string) error {
	mode, err := db.ParseAction(modeToken)
	if err != nil {
		return errors.Wrap(errs.ErrInvalidInput, err.Error())
	}
	switch mode {
	case db.ActionBan, db.ActionKick, db.ActionMute, db.ActionTimedBan, db.ActionTimedMute:
	default:
		return errors.Wrapf(errs.ErrInvalidInput, "antiflood cannot use mode %q", mode)
	}
	if mode.Timed() {
		if _, err := ParseDuration(durationToken, f.now()); err != nil {
			return err
		}
	} else {
		durationToken = ""
	}
	return f.store.SetFloodSetting(ctx, &db.FloodSetting{ChatID: chatID, Mode: mode, Duration: durationToken})
}

func (f *FloodLimiter) Severity(ctx context.Context, chatID int64) (*db.FloodSetting, error) {
	return f.store.GetFloodSetting(ctx, chatID)
}
