package handlers

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/pkg/errors"

	errs "github.com/wardenbot/warden/internal/errors"
)

func newTestWarns(t *testing.T, actions *recorderActions) *WarnLedger {
	t.Helper()
	client := newTestClient(t)
	return NewWarnLedger(client, newTestEnforcer(actions), actions)
}

func TestWarnAccumulatesReasons(t *testing.T) {
	t.Parallel()

	ledger := newTestWarns(t, &recorderActions{})
	ctx := context.Background()

	if err := ledger.SetLimit(ctx, 1, 5); err != nil {
		t.Fatal(err)
	}
	res, err := ledger.Warn(ctx, 1, 2, "spam", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || res.Escalated {
		t.Fatalf("first warn = %+v", res)
	}
	if res, err = ledger.Warn(ctx, 1, 2, "", false); err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 {
		t.Fatalf("second warn count = %d", res.Count)
	}

	count, reasons, err := ledger.GetWarns(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || !reflect.DeepEqual(reasons, []string{"spam", ""}) {
		t.Fatalf("ledger state = %d %v", count, reasons)
	}
}

func TestWarnEscalatesAtLimitAndClears(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	ledger := newTestWarns(t, actions)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := ledger.Warn(ctx, 1, 2, fmt.Sprintf("strike %d", i+1), false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Escalated {
			t.Fatalf("escalated on warn %d with default limit 3", i+1)
		}
	}

	res, err := ledger.Warn(ctx, 1, 2, "strike 3", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Escalated || res.Count != 3 {
		t.Fatalf("third warn = %+v, want escalation at 3", res)
	}
	if !reflect.DeepEqual(res.Reasons, []string{"strike 1", "strike 2", "strike 3"}) {
		t.Fatalf("escalation reasons = %v", res.Reasons)
	}
	if actions.count("ban:") != 1 {
		t.Fatalf("calls = %v, want one ban", actions.snapshot())
	}

	count, _, err := ledger.GetWarns(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("ledger holds %d warns after escalation, want 0", count)
	}
}

func TestWarnSoftModeMutesInsteadOfBanning(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	ledger := newTestWarns(t, actions)
	ctx := context.Background()

	if err := ledger.SetSoft(ctx, 1, true); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ledger.Warn(ctx, 1, 2, "posting referral links", false); err != nil {
			t.Fatal(err)
		}
	}
	if actions.count("mute:") != 1 || actions.count("ban:") != 0 {
		t.Fatalf("calls = %v, want one mute and no ban", actions.snapshot())
	}
}

func TestWarnIgnoresExemptMembers(t *testing.T) {
	t.Parallel()

	ledger := newTestWarns(t, &recorderActions{})
	ctx := context.Background()

	res, err := ledger.Warn(ctx, 1, 2, "spam", true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 0 {
		t.Fatalf("exempt warn counted: %+v", res)
	}
	count, _, _ := ledger.GetWarns(ctx, 1, 2)
	if count != 0 {
		t.Fatalf("ledger state = %d, want 0", count)
	}
}

func TestRemoveWarnDropsLatest(t *testing.T) {
	t.Parallel()

	ledger := newTestWarns(t, &recorderActions{})
	ctx := context.Background()

	removed, err := ledger.RemoveWarn(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("removed a warn from an empty ledger")
	}

	if _, err := ledger.Warn(ctx, 1, 2, "first", false); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Warn(ctx, 1, 2, "second", false); err != nil {
		t.Fatal(err)
	}
	if removed, err = ledger.RemoveWarn(ctx, 1, 2); err != nil || !removed {
		t.Fatalf("remove = %v %v", removed, err)
	}
	count, reasons, err := ledger.GetWarns(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || !reflect.DeepEqual(reasons, []string{"first"}) {
		t.Fatalf("ledger state = %d %v", count, reasons)
	}
}

func TestResetWarnsClearsTheLedger(t *testing.T) {
	t.Parallel()

	ledger := newTestWarns(t, &recorderActions{})
	ctx := context.Background()

	if _, err := ledger.Warn(ctx, 1, 2, "first", false); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Warn(ctx, 1, 2, "second", false); err != nil {
		t.Fatal(err)
	}
	if err := ledger.ResetWarns(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}

	count, reasons, err := ledger.GetWarns(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 || len(reasons) != 0 {
		t.Fatalf("ledger state after reset = %d %v", count, reasons)
	}
}

func TestWarnLimitMinimum(t *testing.T) {
	t.Parallel()

	ledger := newTestWarns(t, &recorderActions{})
	ctx := context.Background()

	if err := ledger.SetLimit(ctx, 1, 2); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("SetLimit(2) err = %v, want ErrInvalidInput", err)
	}
	if err := ledger.SetLimit(ctx, 1, 3); err != nil {
		t.Fatal(err)
	}
}

func TestWarnConcurrentCallersStayConsistent(t *testing.T) {
	t.Parallel()

	actions := &recorderActions{}
	ledger := newTestWarns(t, actions)
	ctx := context.Background()

	const total = 7 // default limit 3: two escalations, one warn left over

	var wg sync.WaitGroup
	errCh := make(chan error, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Warn(ctx, 1, 2, "spam", false)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatal(err)
		}
	}

	count, reasons, err := ledger.GetWarns(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 || len(reasons) != 1 {
		t.Fatalf("ledger state = %d %v, want exactly one leftover warn", count, reasons)
	}
	if actions.count("ban:") != 2 {
		t.Fatalf("calls = %v, want two bans", actions.snapshot())
	}
}
