package handlers

import (
	"context"
	"fmt"
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

// Target identifies who a punishment lands on and, when relevant, which
// message triggered it.
type Target struct {
	ChatID    int64
	UserID    int64
	MessageID int
}

// Enforcer translates resolved punishment verbs into platform calls and
// writes the audit trail for every action that actually executed.
type Enforcer struct {
	actions bot.ChatActions
	audit   *audit.Logger
	now     func() time.Time
	logger  *log.Entry
}

func NewEnforcer(actions bot.ChatActions, auditLog *audit.Logger) *Enforcer {
	return &Enforcer{
		actions: actions,
		audit:   auditLog,
		now:     time.Now,
		logger:  log.WithField("handler", "enforcer"),
	}
}

// Apply executes a single punishment against the target. Timed actions
// parse durationToken before touching the platform, so a bad token aborts
// with no side effects. The returned entry is already recorded.
func (e *Enforcer) Apply(ctx context.Context, action db.Action, target Target, durationToken, reason string) (*audit.Entry, error) {
	entry := audit.Entry{
		ChatID:       target.ChatID,
		Actor:        audit.ActorAutomated,
		TargetUserID: target.UserID,
		Action:       string(action),
		Reason:       reason,
	}

	switch action {
	case db.ActionNone:
		return &entry, nil

	case db.ActionWarn:
		return nil, errors.New("warn escalation belongs to the warn ledger, not the enforcer")

	case db.ActionDelete:
		if err := e.actions.DeleteMessage(ctx, target.ChatID, target.MessageID); err != nil {
			return nil, errors.WithMessage(err, "cant delete message")
		}

	case db.ActionMute, db.ActionKick, db.ActionBan, db.ActionTimedBan, db.ActionTimedMute:
		// Timed tokens are validated before any platform call.
		var until time.Time
		if action.Timed() {
			var err error
			if until, err = ParseDuration(durationToken, e.now()); err != nil {
				return nil, err
			}
		}
		if err := e.punish(ctx, action, target, until); err != nil {
			return nil, err
		}

	default:
		return nil, errors.Wrapf(errs.ErrInvalidInput, "unknown action %q", action)
	}

	e.audit.Record(entry)
	observability.RecordEnforcement(string(action))
	return &entry, nil
}

// punish performs the member-targeted mutation under the per-target
// enforcement lock, so a kick's ban+unban pair can never interleave with
// another punishment landing on the same member for the same event.
func (e *Enforcer) punish(ctx context.Context, action db.Action, target Target, until time.Time) error {
	mu := reg.Get().EnforceLock(target.ChatID, target.UserID)
	mu.Lock()
	defer mu.Unlock()

	switch action {
	case db.ActionMute:
		if err := e.actions.Restrict(ctx, target.ChatID, target.UserID, false, time.Time{}); err != nil {
			return errors.WithMessage(err, "cant mute")
		}

	case db.ActionBan:
		if err := e.actions.Ban(ctx, target.ChatID, target.UserID, time.Time{}); err != nil {
			return errors.WithMessage(err, "cant ban")
		}

	case db.ActionKick:
		// A kick is a ban immediately reverted by an unban; the member is
		// out but free to rejoin.
		if err := e.actions.Ban(ctx, target.ChatID, target.UserID, time.Time{}); err != nil {
			return errors.WithMessage(err, "cant kick")
		}
		if err := e.actions.Unban(ctx, target.ChatID, target.UserID); err != nil {
			return errors.WithMessage(err, "cant lift kick ban")
		}
		if link, err := e.actions.InviteLink(ctx, target.ChatID); err == nil {
			e.courtesyNote(ctx, target, fmt.Sprintf("You were kicked. You may rejoin: %s", link))
		} else {
			e.logger.WithError(err).Debug("no invite link for kicked member")
		}

	case db.ActionTimedBan:
		if err := e.actions.Ban(ctx, target.ChatID, target.UserID, until); err != nil {
			return errors.WithMessage(err, "cant ban")
		}
		e.courtesyNote(ctx, target, fmt.Sprintf("You were banned until %s.", until.Format("02 January 2006 15:04")))

	case db.ActionTimedMute:
		if err := e.actions.Restrict(ctx, target.ChatID, target.UserID, false, until); err != nil {
			return errors.WithMessage(err, "cant mute")
		}
		e.courtesyNote(ctx, target, fmt.Sprintf("You were muted until %s.", until.Format("02 January 2006 15:04")))
	}
	return nil
}

// courtesyNote is best effort, members with closed DMs just miss it.
func (e *Enforcer) courtesyNote(ctx context.Context, target Target, text string) {
	if _, err := e.actions.SendMessage(ctx, target.UserID, text); err != nil {
		e.logger.WithError(err).Debug("cant deliver courtesy note")
	}
}
