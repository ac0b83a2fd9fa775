package handlers

import (
	"context"
	"fmt"
	"io/fs"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
	"github.com/wardenbot/warden/internal/config"
	"github.com/wardenbot/warden/internal/db"
	errs "github.com/wardenbot/warden/internal/errors"
	"github.com/wardenbot/warden/internal/infra/reg"
	"github.com/wardenbot/warden/internal/observability"
	"github.com/wardenbot/warden/resources"
)

const sweepInterval = time.Minute

type gateStore interface {
	UpsertVerification(ctx context.Context, entry *db.VerificationEntry) error
	GetVerification(ctx context.Context, chatID, userID int64) (*db.VerificationEntry, error)
	ResolvePendingVerification(ctx context.Context, chatID, userID int64, status string) (bool, error)
	DeleteVerification(ctx context.Context, chatID, userID int64) error
	GetPendingVerifications(ctx context.Context, before time.Time) ([]*db.VerificationEntry, error)
	GetChatSettings(ctx context.Context, chatID int64) (*db.ChatSettings, error)
	SetChatSettings(ctx context.Context, settings *db.ChatSettings) error
}

// Gatekeeper restricts newly joined members until they answer a
// challenge. Answer and timeout race for the same pending entry; the
// store's conditional status flip guarantees exactly one of them wins.
type Gatekeeper struct {
	s        bot.Service
	store    gateStore
	actions  bot.ChatActions
	audit    *audit.Logger
	cfg      config.Verification
	welcomes []string

	scheduler *expiryScheduler
	now       func() time.Time
	logger    *log.Entry

	startStopMutex sync.Mutex
	stopSweep      context.CancelFunc
	wg             sync.WaitGroup
}

func NewGatekeeper(s bot.Service, store gateStore, actions bot.ChatActions, auditLog *audit.Logger, cfg config.Verification) (*Gatekeeper, error) {
	raw, err := fs.ReadFile(resources.FS, "gatekeeper/welcome.yml")
	if err != nil {
		return nil, errors.WithMessage(err, "cant read welcome templates")
	}
	var parsed struct {
		Templates []string `yaml:"templates"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.WithMessage(err, "cant parse welcome templates")
	}
	if len(parsed.Templates) == 0 {
		return nil, errors.New("welcome template list is empty")
	}

	return &Gatekeeper{
		s:         s,
		store:     store,
		actions:   actions,
		audit:     auditLog,
		cfg:       cfg,
		welcomes:  parsed.Templates,
		scheduler: newExpiryScheduler(),
		now:       time.Now,
		logger:    log.WithField("handler", "gatekeeper"),
	}, nil
}

// Start re-arms timers for challenges that were pending when the process
// last stopped and runs a slow sweep as a backstop for missed timers.
func (g *Gatekeeper) Start(ctx context.Context) error {
	g.startStopMutex.Lock()
	defer g.startStopMutex.Unlock()
	if g.stopSweep != nil {
		return nil
	}

	pending, err := g.store.GetPendingVerifications(ctx, g.now())
	if err != nil {
		return errors.WithMessage(err, "cant load pending challenges")
	}
	for _, entry := range pending {
		g.armTimer(entry)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	g.stopSweep = cancel
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				g.sweepExpired(sweepCtx)
			}
		}
	}()
	return nil
}

func (g *Gatekeeper) Stop(_ context.Context) error {
	g.startStopMutex.Lock()
	defer g.startStopMutex.Unlock()
	if g.stopSweep == nil {
		return nil
	}
	g.stopSweep()
	g.stopSweep = nil
	g.scheduler.Shutdown()
	g.wg.Wait()
	return nil
}

func (g *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	switch {
	case u.CallbackQuery != nil:
		return g.handleChallengeResponse(ctx, u.CallbackQuery)
	case u.Message != nil && len(u.Message.NewChatMembers) > 0 && chat != nil:
		return true, g.handleNewMembers(ctx, chat, u.Message.NewChatMembers)
	case u.Message != nil && u.Message.LeftChatMember != nil && chat != nil:
		return true, g.handleMemberLeft(ctx, chat.ID, u.Message.LeftChatMember.ID)
	}
	return true, nil
}

func (g *Gatekeeper) handleNewMembers(ctx context.Context, chat *api.Chat, members []api.User) error {
	settings, err := g.store.GetChatSettings(ctx, chat.ID)
	if err != nil {
		return err
	}
	if settings.VerificationMode == db.VerificationModeOff {
		return nil
	}

	for i := range members {
		member := members[i]
		if member.IsBot {
			continue
		}
		if err := g.challenge(ctx, chat.ID, &member, settings.VerificationMode); err != nil {
			if errors.Is(err, errs.ErrInsufficientPrivilege) {
				g.logger.WithField("chat_id", chat.ID).Warn("cant restrict joiners, gate is ineffective here")
				return nil
			}
			return err
		}
	}
	return nil
}

// challenge restricts the member, posts the challenge message and stores
// the pending entry. A repeat join overwrites the previous entry and
// restarts its timer. The (chat,user) lock serializes the overwrite
// against a stale expiry firing for the replaced entry.
func (g *Gatekeeper) challenge(ctx context.Context, chatID int64, member *api.User, mode string) error {
	lock := reg.Get().ChatUserLock(chatID, member.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := g.actions.Restrict(ctx, chatID, member.ID, false, time.Time{}); err != nil {
		return err
	}

	now := g.now()
	entry := &db.VerificationEntry{
		ChatID:         chatID,
		UserID:         member.ID,
		Status:         db.VerificationPending,
		SuccessUUID:    uuid.New(),
		WelcomePayload: g.welcomeFor(member),
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.cfg.ChallengeWindow),
	}

	var text string
	var keyboard api.InlineKeyboardMarkup
	switch mode {
	case db.VerificationModeCaptcha:
		captcha := newCaptcha()
		entry.ExpectedAnswer = captcha.Answer
		text = fmt.Sprintf("%s, press the button showing %s to start chatting.", member.FirstName, captcha.Answer)
		buttons := make([]api.InlineKeyboardButton, 0, len(captcha.Options))
		for _, option := range captcha.Options {
			buttons = append(buttons, api.NewInlineKeyboardButtonData(option, callbackData(member.ID, option)))
		}
		keyboard = api.NewInlineKeyboardMarkup(buttons)
	default:
		text = fmt.Sprintf("%s, press the button below to prove you are human.", member.FirstName)
		keyboard = api.NewInlineKeyboardMarkup([]api.InlineKeyboardButton{
			api.NewInlineKeyboardButtonData("I'm human", callbackData(member.ID, entry.SuccessUUID)),
		})
	}

	msg := api.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	sent, err := g.s.GetBot().Send(msg)
	if err != nil {
		return errors.WithMessage(err, "cant post challenge")
	}
	entry.ChallengeMessageID = sent.MessageID

	if err := g.store.UpsertVerification(ctx, entry); err != nil {
		return err
	}
	g.armTimer(entry)
	return nil
}

func (g *Gatekeeper) handleChallengeResponse(ctx context.Context, cq *api.CallbackQuery) (bool, error) {
	targetID, submission, ok := parseCallbackData(cq.Data)
	if !ok || cq.Message == nil {
		return true, nil
	}
	chatID := cq.Message.Chat.ID

	// Anyone can press the buttons; only the restricted member's own
	// press counts. An admin with restrict rights may resolve on the
	// member's behalf; any other stranger's press changes nothing.
	actor := audit.ActorAutomated
	if cq.From == nil {
		return true, nil
	}
	if cq.From.ID != targetID {
		canRestrict, err := g.actions.CanRestrict(ctx, chatID, cq.From.ID)
		if err != nil || !canRestrict {
			g.answerCallback(cq.ID, "This challenge is not for you.")
			return false, nil
		}
		actor = audit.ActorAdmin
	}

	lock := reg.Get().ChatUserLock(chatID, targetID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := g.store.GetVerification(ctx, chatID, targetID)
	if err != nil {
		return false, err
	}
	if entry == nil || entry.Status != db.VerificationPending {
		g.answerCallback(cq.ID, "Nothing pending for you here.")
		return false, nil
	}

	if submission == entry.SuccessUUID || (entry.ExpectedAnswer != "" && submission == entry.ExpectedAnswer) {
		return false, g.approve(ctx, entry, actor)
	}
	return false, g.evict(ctx, entry, actor, "wrong challenge answer", "rejected")
}

func (g *Gatekeeper) handleMemberLeft(ctx context.Context, chatID, userID int64) error {
	lock := reg.Get().ChatUserLock(chatID, userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := g.store.GetVerification(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if entry == nil || entry.Status != db.VerificationPending {
		return nil
	}
	won, err := g.store.ResolvePendingVerification(ctx, chatID, userID, db.VerificationExpired)
	if err != nil || !won {
		return err
	}
	g.scheduler.Cancel(chatID, userID)
	g.deleteChallengeMessage(ctx, entry)
	return g.store.DeleteVerification(ctx, chatID, userID)
}

func (g *Gatekeeper) approve(ctx context.Context, entry *db.VerificationEntry, actor string) error {
	won, err := g.store.ResolvePendingVerification(ctx, entry.ChatID, entry.UserID, db.VerificationVerified)
	if err != nil || !won {
		return err
	}
	g.scheduler.Cancel(entry.ChatID, entry.UserID)

	if err := g.actions.Restrict(ctx, entry.ChatID, entry.UserID, true, time.Time{}); err != nil {
		g.logger.WithError(err).Error("cant lift restriction for verified member")
	}
	g.deleteChallengeMessage(ctx, entry)
	if entry.WelcomePayload != "" {
		if _, err := g.actions.SendMessage(ctx, entry.ChatID, entry.WelcomePayload); err != nil {
			g.logger.WithError(err).Debug("cant post welcome")
		}
	}

	g.audit.Record(audit.Entry{
		ChatID:       entry.ChatID,
		Actor:        actor,
		TargetUserID: entry.UserID,
		Action:       "verify",
		Reason:       "challenge passed",
	})
	observability.RecordVerification("verified")
	return nil
}

// evict removes a member who failed or timed out. The ban lapses after
// the reject timeout, so the member may try joining again later.
func (g *Gatekeeper) evict(ctx context.Context, entry *db.VerificationEntry, actor, reason, outcome string) error {
	won, err := g.store.ResolvePendingVerification(ctx, entry.ChatID, entry.UserID, db.VerificationExpired)
	if err != nil || !won {
		return err
	}
	g.scheduler.Cancel(entry.ChatID, entry.UserID)

	g.deleteChallengeMessage(ctx, entry)
	if err := g.actions.Ban(ctx, entry.ChatID, entry.UserID, g.now().Add(g.cfg.RejectTimeout)); err != nil {
		g.logger.WithError(err).Error("cant evict unverified member")
	}

	g.audit.Record(audit.Entry{
		ChatID:       entry.ChatID,
		Actor:        actor,
		TargetUserID: entry.UserID,
		Action:       "evict",
		Reason:       reason,
	})
	observability.RecordVerification(outcome)
	return nil
}

func (g *Gatekeeper) armTimer(entry *db.VerificationEntry) {
	delay := entry.ExpiresAt.Sub(g.now())
	if delay < 0 {
		delay = 0
	}
	chatID, userID := entry.ChatID, entry.UserID
	g.scheduler.Schedule(chatID, userID, delay, func() {
		g.expire(chatID, userID)
	})
}

func (g *Gatekeeper) expire(chatID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lock := reg.Get().ChatUserLock(chatID, userID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := g.store.GetVerification(ctx, chatID, userID)
	if err != nil {
		g.logger.WithError(err).Error("cant load entry for expiry")
		return
	}
	if entry == nil || entry.Status != db.VerificationPending {
		return
	}
	// A repeat join may have replaced the entry this timer was armed
	// for; a fresh deadline means the countdown was restarted.
	if entry.ExpiresAt.After(g.now()) {
		return
	}
	if err := g.evict(ctx, entry, audit.ActorAutomated, "challenge timeout", "expired"); err != nil {
		g.logger.WithError(err).Error("cant expire challenge")
	}
}

func (g *Gatekeeper) sweepExpired(ctx context.Context) {
	pending, err := g.store.GetPendingVerifications(ctx, g.now())
	if err != nil {
		g.logger.WithError(err).Error("cant sweep pending challenges")
		return
	}
	now := g.now()
	for _, entry := range pending {
		if entry.ExpiresAt.After(now) {
			continue
		}
		g.expire(entry.ChatID, entry.UserID)
	}
}

// SetMode switches the chat between off, strong and captcha gating.
func (g *Gatekeeper) SetMode(ctx context.Context, chatID int64, mode string) error {
	switch mode {
	case db.VerificationModeOff, db.VerificationModeStrong, db.VerificationModeCaptcha:
	default:
		return errors.Wrapf(errs.ErrInvalidInput, "unknown verification mode %q", mode)
	}
	settings, err := g.store.GetChatSettings(ctx, chatID)
	if err != nil {
		return err
	}
	settings.VerificationMode = mode
	return g.store.SetChatSettings(ctx, settings)
}

func (g *Gatekeeper) Mode(ctx context.Context, chatID int64) (string, error) {
	settings, err := g.store.GetChatSettings(ctx, chatID)
	if err != nil {
		return "", err
	}
	return settings.VerificationMode, nil
}

func (g *Gatekeeper) welcomeFor(member *api.User) string {
	template := g.welcomes[rand.Intn(len(g.welcomes))]
	return strings.ReplaceAll(template, "{first}", member.FirstName)
}

func (g *Gatekeeper) deleteChallengeMessage(ctx context.Context, entry *db.VerificationEntry) {
	if entry.ChallengeMessageID == 0 {
		return
	}
	if err := g.actions.DeleteMessage(ctx, entry.ChatID, entry.ChallengeMessageID); err != nil {
		g.logger.WithError(err).Debug("cant delete challenge message")
	}
}

func (g *Gatekeeper) answerCallback(callbackID, text string) {
	if g.s.GetBot() == nil {
		return
	}
	if _, err := g.s.GetBot().Request(api.NewCallback(callbackID, text)); err != nil {
		g.logger.WithError(err).Debug("cant answer callback")
	}
}

func callbackData(userID int64, token string) string {
	return fmt.Sprintf("%d;%s", userID, token)
}

func parseCallbackData(data string) (int64, string, bool) {
	parts := strings.SplitN(data, ";", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return userID, parts[1], true
}
