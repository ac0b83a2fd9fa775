package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/wardenbot/warden/internal/db"
	errs "github.com/wardenbot/warden/internal/errors"
)

func newTestFlood(t *testing.T, actions *recorderActions) (*FloodLimiter, db.Client) {
	t.Helper()
	client := newTestClient(t)
	limiter := NewFloodLimiter(client, newTestEnforcer(actions), actions, 4*time.Second)
	return limiter, client
}

func TestFloodLimitValidation(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestFlood(t, &recorderActions{})
	ctx := context.Background()

	for _, bad := range []int{1, 2, 5} {
		if err := limiter.SetLimit(ctx, 1, bad); !errors.Is(err, errs.ErrTooStrict) {
			t.Fatalf("SetLimit(%d) err = %v, want ErrTooStrict", bad, err)
		}
	}
	for _, ok := range []int{0, 6, 20} {
		if err := limiter.SetLimit(ctx, 1, ok); err != nil {
			t.Fatalf("SetLimit(%d): %v", ok, err)
		}
	}
}

func TestFloodTripsOnMessageAboveLimit(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	limiter, _ := newTestFlood(t, actions)
	ctx := context.Background()

	if err := limiter.SetLimit(ctx, 100, 6); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		entry, err := limiter.CheckMessage(ctx, 100, 7, false)
		if err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
		if entry != nil {
			t.Fatalf("tripped early on message %d", i+1)
		}
	}

	entry, err := limiter.CheckMessage(ctx, 100, 7, false)
	if err != nil {
		t.Fatalf("seventh message: %v", err)
	}
	if entry == nil || entry.Action != string(db.ActionBan) {
		t.Fatalf("seventh message entry = %+v, want ban", entry)
	}
	if actions.count("ban:") != 1 {
		t.Fatalf("calls = %v, want one ban", actions.snapshot())
	}

	// The counter restarted, so the next run takes another full limit.
	for i := 0; i < 6; i++ {
		if entry, _ := limiter.CheckMessage(ctx, 100, 7, false); entry != nil {
			t.Fatalf("tripped again after only %d messages", i+1)
		}
	}
}

func TestFloodSenderChangeRestartsRun(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	limiter, _ := newTestFlood(t, actions)
	ctx := context.Background()

	if err := limiter.SetLimit(ctx, 100, 6); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		if _, err := limiter.CheckMessage(ctx, 100, 7, false); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := limiter.CheckMessage(ctx, 100, 8, false); err != nil {
		t.Fatal(err)
	}
	entry, err := limiter.CheckMessage(ctx, 100, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatal("run survived an interleaved sender")
	}
	if len(actions.snapshot()) != 0 {
		t.Fatalf("unexpected calls: %v", actions.snapshot())
	}
}

func TestFloodExemptSenderResets(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	limiter, _ := newTestFlood(t, actions)
	ctx := context.Background()

	if err := limiter.SetLimit(ctx, 100, 6); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		if _, err := limiter.CheckMessage(ctx, 100, 7, false); err != nil {
			t.Fatal(err)
		}
	}
	// An admin message clears the run entirely.
	if _, err := limiter.CheckMessage(ctx, 100, 9, true); err != nil {
		t.Fatal(err)
	}
	entry, err := limiter.CheckMessage(ctx, 100, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatal("run survived an exempt message")
	}
}

func TestFloodIdleGapRestartsRun(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	limiter, _ := newTestFlood(t, actions)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if err := limiter.SetLimit(ctx, 100, 6); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		if _, err := limiter.CheckMessage(ctx, 100, 7, false); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Second)
	}
	now = now.Add(5 * time.Second)
	entry, err := limiter.CheckMessage(ctx, 100, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatal("run survived the idle window")
	}
}

func TestFloodDisablesItselfWithoutRights(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{failWith: errNoRights}
	limiter, _ := newTestFlood(t, actions)
	ctx := context.Background()

	if err := limiter.SetLimit(ctx, 100, 6); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if _, err := limiter.CheckMessage(ctx, 100, 7, false); err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
	}

	limit, err := limiter.Limit(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if limit != 0 {
		t.Fatalf("limit = %d after privilege loss, want 0", limit)
	}
}

func TestFloodSeverityValidation(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestFlood(t, &recorderActions{})
	ctx := context.Background()

	if err := limiter.SetSeverity(ctx, 1, "tmute", "bogus"); !errors.Is(err, errs.ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}
	if err := limiter.SetSeverity(ctx, 1, "delete", ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if err := limiter.SetSeverity(ctx, 1, "tban", "2d"); err != nil {
		t.Fatal(err)
	}
	setting, err := limiter.Severity(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if setting.Mode != db.ActionTimedBan || setting.Duration != "2d" {
		t.Fatalf("setting = %+v", setting)
	}
}
