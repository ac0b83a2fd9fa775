package handlers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/wardenbot/warden/internal/audit"
	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/db/sqlite"
	errs "github.com/wardenbot/warden/internal/errors"
)

// recorderActions captures platform calls instead of performing them.
type recorderActions struct {
	mu       sync.Mutex
	calls    []string
	failWith error
}

func (r *recorderActions) record(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
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

func (r *recorderActions) Restrict(_ context.Context, chatID, userID int64, canSend bool, until time.Time) error {
	kind := "mute"
	if canSend {
		kind = "unmute"
	} else if !until.IsZero() {
		kind = "tmute"
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

func (r *recorderActions) CanRestrict(_ context.Context, _, _ int64) (bool, error) {
	return false, nil
}

func (r *recorderActions) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorderActions) count(prefix string) int {
	n := 0
	for _, c := range r.snapshot() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

var errNoRights = errors.Wrap(errs.ErrInsufficientPrivilege, "test")

func newTestClient(t *testing.T) db.Client {
	t.Helper()
	client, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "warden_test.db")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestEnforcer(actions *recorderActions) *Enforcer {
	return NewEnforcer(actions, audit.NewLogger(io.Discard))
}
