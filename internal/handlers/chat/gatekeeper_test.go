package handlers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/bot"
	"github.com/wardenbot/warden/internal/config"
	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/db/sqlite"
)

type recorderActions struct {
	mu     sync.Mutex
	calls  []string
	admins map[int64]bool
}

func (r *recorderActions) record(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return nil
}

func (r *recorderActions) Ban(_ context.Context, chatID, userID int64, until time.Time) error {
	kind := "ban"
	if !until.IsZero() {
		kind = "tban"
	}
	return r.record("%s:%d:%d", kind, chatID, userID)
}

func (r *recorderActions) Unban(_ context.Context, chatID, userID int64) error {
	return r.record("unban:%d:%d", chatID, userID)
}

func (r *recorderActions) Restrict(_ context.Context, chatID, userID int64, canSend bool, _ time.Time) error {
	kind := "mute"
	if canSend {
		kind = "unmute"
	}
	return r.record("%s:%d:%d", kind, chatID, userID)
}

func (r *recorderActions) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return r.record("delete:%d:%d", chatID, messageID)
}

func (r *recorderActions) SendMessage(_ context.Context, chatID int64, _ string) (int, error) {
	if err := r.record("send:%d", chatID); err != nil {
		return 0, err
	}
	return 1, nil
}

func (r *recorderActions) InviteLink(_ context.Context, chatID int64) (string, error) {
	return fmt.Sprintf("https://t.me/+chat%d", chatID), nil
}

func (r *recorderActions) IsExempt(_ context.Context, _, _ int64) (bool, error) {
	return false, nil
}

func (r *recorderActions) CanRestrict(_ context.Context, _, userID int64) (bool, error) {
	return r.admins[userID], nil
}

func (r *recorderActions) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func newTestGatekeeper(t *testing.T) (*Gatekeeper, db.Client, *recorderActions) {
	t.Helper()
	client, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "warden_test.db")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	actions := &recorderActions{}
	gate, err := NewGatekeeper(
		bot.NewService(nil, client, actions),
		client,
		actions,
		audit.NewLogger(io.Discard),
		config.Verification{ChallengeWindow: 2 * time.Minute, RejectTimeout: 10 * time.Minute},
	)
	if err != nil {
		t.Fatalf("new gatekeeper: %v", err)
	}
	return gate, client, actions
}

func seedPending(t *testing.T, client db.Client, entry *db.VerificationEntry) {
	t.Helper()
	entry.Status = db.VerificationPending
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = time.Now().Add(2 * time.Minute)
	}
	if err := client.UpsertVerification(context.Background(), entry); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func callbackUpdate(chatID, fromID int64, data string) *api.Update {
	return &api.Update{
		CallbackQuery: &api.CallbackQuery{
			ID:      "cq1",
			From:    &api.User{ID: fromID},
			Message: &api.Message{MessageID: 50, Chat: api.Chat{ID: chatID}},
			Data:    data,
		},
	}
}

func TestGatekeeperApprovesCorrectAnswer(t *testing.T) {
	t.Parallel()

	gate, client, actions := newTestGatekeeper(t)
	ctx := context.Background()

	seedPending(t, client, &db.VerificationEntry{
		ChatID:             1,
		UserID:             2,
		SuccessUUID:        "token-abc",
		WelcomePayload:     "welcome!",
		ChallengeMessageID: 50,
	})

	proceed, err := gate.Handle(ctx, callbackUpdate(1, 2, "2;token-abc"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if proceed {
		t.Fatal("gate callback should stop the handler chain")
	}

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationVerified {
		t.Fatalf("status = %q, want verified", entry.Status)
	}
	if actions.count("unmute:") != 1 || actions.count("send:") != 1 || actions.count("delete:") != 1 {
		t.Fatalf("calls = %v", actions.calls)
	}
}

func TestGatekeeperEvictsOnWrongCaptchaAnswer(t *testing.T) {
	t.Parallel()

	gate, client, actions := newTestGatekeeper(t)
	ctx := context.Background()

	seedPending(t, client, &db.VerificationEntry{
		ChatID:         1,
		UserID:         2,
		SuccessUUID:    "token-abc",
		ExpectedAnswer: "4821",
	})

	if _, err := gate.Handle(ctx, callbackUpdate(1, 2, "2;1337"), nil, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationExpired {
		t.Fatalf("status = %q, want expired", entry.Status)
	}
	if actions.count("tban:") != 1 || actions.count("unmute:") != 0 {
		t.Fatalf("calls = %v, want a lapsing ban and no lift", actions.calls)
	}
}

func TestGatekeeperIgnoresStrangersPress(t *testing.T) {
	t.Parallel()

	gate, client, actions := newTestGatekeeper(t)
	ctx := context.Background()

	seedPending(t, client, &db.VerificationEntry{ChatID: 1, UserID: 2, SuccessUUID: "token-abc"})

	if _, err := gate.Handle(ctx, callbackUpdate(1, 999, "2;token-abc"), nil, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationPending {
		t.Fatalf("status = %q, a stranger resolved the challenge", entry.Status)
	}
	if len(actions.calls) != 0 {
		t.Fatalf("calls = %v", actions.calls)
	}
}

func TestGatekeeperAdminCanApproveOnBehalf(t *testing.T) {
	t.Parallel()

	gate, client, actions := newTestGatekeeper(t)
	actions.admins = map[int64]bool{777: true}
	ctx := context.Background()

	seedPending(t, client, &db.VerificationEntry{ChatID: 1, UserID: 2, SuccessUUID: "token-abc"})

	if _, err := gate.Handle(ctx, callbackUpdate(1, 777, "2;token-abc"), nil, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationVerified {
		t.Fatalf("status = %q, want verified after admin approval", entry.Status)
	}
	if actions.count("unmute:") != 1 {
		t.Fatalf("calls = %v, want the restriction lifted", actions.calls)
	}
}

func TestGatekeeperTimeoutAndAnswerAreExclusive(t *testing.T) {
	t.Parallel()

	gate, client, actions := newTestGatekeeper(t)
	ctx := context.Background()

	seedPending(t, client, &db.VerificationEntry{
		ChatID:      1,
		UserID:      2,
		SuccessUUID: "token-abc",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	// Timeout lands first; the late correct answer must change nothing.
	gate.expire(1, 2)
	if _, err := gate.Handle(ctx, callbackUpdate(1, 2, "2;token-abc"), nil, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationExpired {
		t.Fatalf("status = %q, want expired", entry.Status)
	}
	if actions.count("tban:") != 1 || actions.count("unmute:") != 0 || actions.count("send:") != 0 {
		t.Fatalf("calls = %v, want exactly one eviction outcome", actions.calls)
	}
}

func TestGatekeeperStaleTimerSparesRestartedChallenge(t *testing.T) {
	t.Parallel()

	gate, client, actions := newTestGatekeeper(t)
	ctx := context.Background()

	// A repeat join replaced the entry and restarted its countdown; the
	// old timer firing afterwards must not evict the fresh challenge.
	seedPending(t, client, &db.VerificationEntry{
		ChatID:      1,
		UserID:      2,
		SuccessUUID: "token-fresh",
		ExpiresAt:   time.Now().Add(2 * time.Minute),
	})

	gate.expire(1, 2)

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationPending {
		t.Fatalf("status = %q, stale timer resolved a restarted challenge", entry.Status)
	}
	if actions.count("tban:") != 0 {
		t.Fatalf("calls = %v, want no eviction", actions.calls)
	}

	// The fresh entry still expires once its own deadline passes.
	if _, err := gate.Handle(ctx, callbackUpdate(1, 2, "2;token-fresh"), nil, nil); err != nil {
		t.Fatal(err)
	}
	entry, err = client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != db.VerificationVerified {
		t.Fatalf("status = %q, want verified", entry.Status)
	}
}

func TestGatekeeperCleansUpWhenMemberLeaves(t *testing.T) {
	t.Parallel()

	gate, client, _ := newTestGatekeeper(t)
	ctx := context.Background()

	seedPending(t, client, &db.VerificationEntry{ChatID: 1, UserID: 2, SuccessUUID: "token-abc"})

	update := &api.Update{Message: &api.Message{
		Chat:           api.Chat{ID: 1},
		LeftChatMember: &api.User{ID: 2},
	}}
	if _, err := gate.Handle(ctx, update, &api.Chat{ID: 1}, nil); err != nil {
		t.Fatal(err)
	}

	entry, err := client.GetVerification(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatalf("entry survived the member leaving: %+v", entry)
	}
}

func TestGatekeeperModeValidation(t *testing.T) {
	t.Parallel()

	gate, _, _ := newTestGatekeeper(t)
	ctx := context.Background()

	if err := gate.SetMode(ctx, 1, "loud"); err == nil {
		t.Fatal("accepted unknown mode")
	}
	if err := gate.SetMode(ctx, 1, db.VerificationModeCaptcha); err != nil {
		t.Fatal(err)
	}
	mode, err := gate.Mode(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if mode != db.VerificationModeCaptcha {
		t.Fatalf("mode = %q", mode)
	}
}

func TestExpirySchedulerReplacesAndCancels(t *testing.T) {
	t.Parallel()

	scheduler := newExpiryScheduler()
	fired := make(chan string, 2)

	scheduler.Schedule(1, 2, 5*time.Millisecond, func() { fired <- "first" })
	scheduler.Schedule(1, 2, 20*time.Millisecond, func() { fired <- "second" })

	select {
	case got := <-fired:
		if got != "second" {
			t.Fatalf("replaced timer fired: %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("rescheduled timer never fired")
	}

	scheduler.Schedule(3, 4, 10*time.Millisecond, func() { fired <- "cancelled" })
	scheduler.Cancel(3, 4)
	select {
	case got := <-fired:
		t.Fatalf("cancelled timer fired: %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}
