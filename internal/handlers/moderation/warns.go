package handlers

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
	"github.com/wardenbot/warden/internal/db"
	errs "github.com/wardenbot/warden/internal/errors"
	"github.com/wardenbot/warden/internal/infra/reg"
)

type warnStore interface {
	noticeStore
	GetWarnRecord(ctx context.Context, chatID, userID int64) (*db.WarnRecord, error)
	SaveWarnRecord(ctx context.Context, record *db.WarnRecord) error
	ResetWarnRecord(ctx context.Context, chatID, userID int64, expectedCount int) (bool, error)
	GetWarnSetting(ctx context.Context, chatID int64) (*db.WarnSetting, error)
	SetWarnSetting(ctx context.Context, setting *db.WarnSetting) error
	AddWarnFilter(ctx context.Context, filter *db.WarnFilter) error
	RemoveWarnFilter(ctx context.Context, chatID int64, keyword string) (bool, error)
	GetWarnFilters(ctx context.Context, chatID int64) ([]*db.WarnFilter, error)
}

// WarnResult reports the outcome of a single warn. When the warn pushed the
// member over the limit, Count and Reasons carry the accumulated state that
// justified the escalation; the ledger itself is already back at zero.
type WarnResult struct {
	Count     int
	Reasons   []string
	Escalated bool
	Entry     *audit.Entry
}

// WarnLedger accumulates per-member warns and escalates to a mute or ban
// once the chat's limit is reached. Reaching the limit and clearing the
// ledger happen as one write, so no reader ever observes a full ledger.
type WarnLedger struct {
	store    warnStore
	enforcer *Enforcer
	actions  bot.ChatActions
	logger   *log.Entry
}

func NewWarnLedger(store warnStore, enforcer *Enforcer, actions bot.ChatActions) *WarnLedger {
	return &WarnLedger{
		store:    store,
		enforcer: enforcer,
		actions:  actions,
		logger:   log.WithField("handler", "warns"),
	}
}

// Warn adds one warn against the member. Exempt members are never warned.
// An empty reason is kept as an unreasoned entry so counts and reasons
// stay aligned. The escalation punishment runs outside the member lock.
func (w *WarnLedger) Warn(ctx context.Context, chatID, userID int64, reason string, exempt bool) (*WarnResult, error) {
	if exempt {
		return &WarnResult{}, nil
	}

	mu := reg.Get().ChatUserLock(chatID, userID)
	mu.Lock()

	record, err := w.store.GetWarnRecord(ctx, chatID, userID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if record == nil {
		record = &db.WarnRecord{UserID: userID, ChatID: chatID}
	}
	setting, err := w.store.GetWarnSetting(ctx, chatID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	stored := record.Count
	record.Count++
	record.Reasons = append(record.Reasons, reason)

	if record.Count < setting.Limit {
		err = w.store.SaveWarnRecord(ctx, record)
		mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &WarnResult{Count: record.Count, Reasons: record.Reasons}, nil
	}

	// Limit reached. The stored row still holds the pre-warn count, so the
	// guarded reset both clears the ledger and confirms nobody else
	// touched it since we read it.
	won, err := w.store.ResetWarnRecord(ctx, chatID, userID, stored)
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errors.New("warn record changed underneath an escalation")
	}

	action := db.ActionBan
	if setting.Soft {
		action = db.ActionMute
	}
	entry, err := w.enforcer.Apply(ctx, action, Target{ChatID: chatID, UserID: userID}, "", escalationReason(record.Reasons))
	if errors.Is(err, errs.ErrInsufficientPrivilege) {
		// Warn counting keeps working without rights; only escalation is
		// lost, so the chat gets told once instead of being punished with
		// a disabled ledger.
		w.logger.WithField("chat_id", chatID).Warn("cant escalate warns, insufficient rights")
		notifyDisabledOnce(ctx, w.store, w.actions, chatID, "warns",
			"I don't have enough rights to act on members who hit the warn limit here.")
		return &WarnResult{Count: record.Count, Reasons: record.Reasons, Escalated: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &WarnResult{Count: record.Count, Reasons: record.Reasons, Escalated: true, Entry: entry}, nil
}

func escalationReason(reasons []string) string {
	for _, r := range reasons {
		if r != "" {
			return "warn limit reached: " + r
		}
	}
	return "warn limit reached"
}

// RemoveWarn drops the most recent warn, if any.
func (w *WarnLedger) RemoveWarn(ctx context.Context, chatID, userID int64) (bool, error) {
	mu := reg.Get().ChatUserLock(chatID, userID)
	mu.Lock()
	defer mu.Unlock()

	record, err := w.store.GetWarnRecord(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	if record == nil || record.Count == 0 {
		return false, nil
	}
	record.Count--
	if len(record.Reasons) > 0 {
		record.Reasons = record.Reasons[:len(record.Reasons)-1]
	}
	return true, w.store.SaveWarnRecord(ctx, record)
}

func (w *WarnLedger) ResetWarns(ctx context.Context, chatID, userID int64) error {
	mu := reg.Get().ChatUserLock(chatID, userID)
	mu.Lock()
	defer mu.Unlock()

	return w.store.SaveWarnRecord(ctx, &db.WarnRecord{UserID: userID, ChatID: chatID, Reasons: db.ReasonList{}})
}

func (w *WarnLedger) GetWarns(ctx context.Context, chatID, userID int64) (int, []string, error) {
	record, err := w.store.GetWarnRecord(ctx, chatID, userID)
	if err != nil {
		return 0, nil, err
	}
	if record == nil {
		return 0, nil, nil
	}
	return record.Count, record.Reasons, nil
}

// SetLimit refuses limits below three; a lower ceiling makes a single slip
// fatal and defeats the point of a warning system.
func (w *WarnLedger) SetLimit(ctx context.Context, chatID int64, limit int) error {
	if limit < 3 {
		return errors.Wrapf(errs.ErrInvalidInput, "warn limit %d is below the minimum of 3", limit)
	}
	setting, err := w.store.GetWarnSetting(ctx, chatID)
	if err != nil {
		return err
	}
	setting.Limit = limit
	return w.store.SetWarnSetting(ctx, setting)
}

// SetSoft toggles the escalation punishment between ban (hard) and mute.
func (w *WarnLedger) SetSoft(ctx context.Context, chatID int64, soft bool) error {
	setting, err := w.store.GetWarnSetting(ctx, chatID)
	if err != nil {
		return err
	}
	setting.Soft = soft
	return w.store.SetWarnSetting(ctx, setting)
}

func (w *WarnLedger) Setting(ctx context.Context, chatID int64) (*db.WarnSetting, error) {
	return w.store.GetWarnSetting(ctx, chatID)
}

func (w *WarnLedger) AddFilter(ctx context.Context, chatID int64, keyword, reply string) error {
	if keyword == "" {
		return errors.Wrap(errs.ErrInvalidInput, "warn filter keyword is empty")
	}
	return w.store.AddWarnFilter(ctx, &db.WarnFilter{ChatID: chatID, Keyword: keyword, Reply: reply})
}

func (w *WarnLedger) RemoveFilter(ctx context.Context, chatID int64, keyword string) (bool, error) {
	return w.store.RemoveWarnFilter(ctx, chatID, keyword)
}

func (w *WarnLedger) Filters(ctx context.Context, chatID int64) ([]*db.WarnFilter, error) {
	return w.store.GetWarnFilters(ctx, chatID)
}
