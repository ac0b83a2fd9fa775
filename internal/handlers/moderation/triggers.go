package handlers

import (
	"context"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
	"github.com/wardenbot/warden/internal/db"
	errs "github.com/wardenbot/warden/internal/errors"
)

type triggerStore interface {
	noticeStore
	AddBlacklistTrigger(ctx context.Context, chatID int64, trigger string) error
	RemoveBlacklistTrigger(ctx context.Context, chatID int64, trigger string) (bool, error)
	GetBlacklistTriggers(ctx context.Context, chatID int64) ([]*db.BlacklistTrigger, error)
	GetBlacklistSetting(ctx context.Context, chatID int64) (*db.BlacklistSetting, error)
	SetBlacklistSetting(ctx context.Context, setting *db.BlacklistSetting) error
	GetWarnFilters(ctx context.Context, chatID int64) ([]*db.WarnFilter, error)
}

// TriggerMatcher scans message text against the chat's blacklist and warn
// filters. Matching is whole-word and case-insensitive, so a trigger "ban"
// fires on "please ban him" but stays quiet on "urban legend".
type TriggerMatcher struct {
	store    triggerStore
	enforcer *Enforcer
	warns    *WarnLedger
	actions  bot.ChatActions
	logger   *log.Entry

	patternMutex sync.Mutex
	patterns     map[string]*regexp.Regexp
}

func NewTriggerMatcher(store triggerStore, enforcer *Enforcer, warns *WarnLedger, actions bot.ChatActions) *TriggerMatcher {
	return &TriggerMatcher{
		store:    store,
		enforcer: enforcer,
		warns:    warns,
		actions:  actions,
		logger:   log.WithField("handler", "triggers"),
		patterns: map[string]*regexp.Regexp{},
	}
}

// ScanMessage checks text against blacklist triggers first, then warn
// filters, each in insertion order. The first match wins and the scan
// stops. Exempt senders are never scanned.
func (m *TriggerMatcher) ScanMessage(ctx context.Context, chatID, userID int64, messageID int, text string, exempt bool) (*audit.Entry, error) {
	if exempt || text == "" {
		return nil, nil
	}

	triggers, err := m.store.GetBlacklistTriggers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, trigger := range triggers {
		if m.matches(text, trigger.Phrase) {
			return m.punishBlacklisted(ctx, chatID, userID, messageID, trigger.Phrase)
		}
	}

	filters, err := m.store.GetWarnFilters(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, filter := range filters {
		if m.matches(text, filter.Keyword) {
			result, err := m.warns.Warn(ctx, chatID, userID, filter.Reply, false)
			if err != nil {
				return nil, err
			}
			return result.Entry, nil
		}
	}
	return nil, nil
}

func (m *TriggerMatcher) punishBlacklisted(ctx context.Context, chatID, userID int64, messageID int, phrase string) (*audit.Entry, error) {
	setting, err := m.store.GetBlacklistSetting(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if setting.Mode == db.ActionNone {
		return nil, nil
	}

	target := Target{ChatID: chatID, UserID: userID, MessageID: messageID}
	reason := "blacklisted phrase: " + phrase

	if setting.Mode == db.ActionDelete {
		entry, err := m.enforcer.Apply(ctx, db.ActionDelete, target, "", reason)
		if errors.Is(err, errs.ErrInsufficientPrivilege) {
			m.disable(ctx, chatID)
			return nil, nil
		}
		return entry, err
	}

	// Stronger modes remove the offending message before punishing its
	// sender. Deletion failures are tolerated; the message may be gone.
	if err := m.actions.DeleteMessage(ctx, chatID, messageID); err != nil {
		if errors.Is(err, errs.ErrInsufficientPrivilege) {
			m.disable(ctx, chatID)
			return nil, nil
		}
		m.logger.WithError(err).Debug("cant delete blacklisted message")
	}

	if setting.Mode == db.ActionWarn {
		result, err := m.warns.Warn(ctx, chatID, userID, reason, false)
		if err != nil {
			return nil, err
		}
		return result.Entry, nil
	}

	entry, err := m.enforcer.Apply(ctx, setting.Mode, target, setting.Duration, reason)
	if errors.Is(err, errs.ErrInsufficientPrivilege) {
		m.disable(ctx, chatID)
		return nil, nil
	}
	return entry, err
}

func (m *TriggerMatcher) disable(ctx context.Context, chatID int64) {
	setting := &db.BlacklistSetting{ChatID: chatID, Mode: db.ActionNone}
	if err := m.store.SetBlacklistSetting(ctx, setting); err != nil {
		m.logger.WithError(err).Error("cant disable blacklist")
		return
	}
	notifyDisabledOnce(ctx, m.store, m.actions, chatID, "blacklist",
		"I don't have enough rights to act on blacklisted phrases here, so the blacklist is now off.")
}

// matches reports whether phrase occurs in text as a whole word. Compiled
// patterns are cached; trigger sets are small and stable.
func (m *TriggerMatcher) matches(text, phrase string) bool {
	m.patternMutex.Lock()
	pattern, ok := m.patterns[phrase]
	if !ok {
		pattern = regexp.MustCompile(`(?i)(?:^|\W)` + regexp.QuoteMeta(phrase) + `(?:\W|$)`)
		m.patterns[phrase] = pattern
	}
	m.patternMutex.Unlock()
	return pattern.MatchString(text)
}

func (m *TriggerMatcher) AddTrigger(ctx context.Context, chatID int64, phrase string) error {
	if phrase == "" {
		return errors.Wrap(errs.ErrInvalidInput, "blacklist phrase is empty")
	}
	return m.store.AddBlacklistTrigger(ctx, chatID, phrase)
}

func (m *TriggerMatcher) RemoveTrigger(ctx context.Context, chatID int64, phrase string) (bool, error) {
	return m.store.RemoveBlacklistTrigger(ctx, chatID, phrase)
}

func (m *TriggerMatcher) Triggers(ctx context.Context, chatID int64) ([]*db.BlacklistTrigger, error) {
	return m.store.GetBlacklistTriggers(ctx, chatID)
}

// SetMode picks what happens on a blacklist hit. Timed modes validate
// their duration token up front.
func (m *TriggerMatcher) SetMode(ctx context.Context, chatID int64, modeToken, durationToken string) error {
	mode, err := db.ParseAction(modeToken)
	if err != nil {
		return errors.Wrap(errs.ErrInvalidInput, err.Error())
	}
	if mode.Timed() {
		if _, err := ParseDuration(durationToken, m.enforcer.now()); err != nil {
			return err
		}
	} else {
		durationToken = ""
	}
	return m.store.SetBlacklistSetting(ctx, &db.BlacklistSetting{ChatID: chatID, Mode: mode, Duration: durationToken})
}

func (m *TriggerMatcher) Mode(ctx context.Context, chatID int64) (*db.BlacklistSetting, error) {
	return m.store.GetBlacklistSetting(ctx, chatID)
}
