package traffic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies denials count toward RequestCount but not ErrorRate.
func TestRecordDenied_AndCounts(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordDenied()
	RecordDenied()
	if n := DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	errs, total := ErrorRate(time.Minute)
	if errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

func TestErrorRate_SuccessAndError(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errs, total := ErrorRate(time.Minute)
	if errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}

// TestTracker_WindowAndRetention uses an injected clock to check window cutoffs
// and pruning past retention.
func TestTracker_WindowAndRetention(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr := &Tracker{now: func() time.Time { return now }}

	tr.Record(Success)
	now = base.Add(2 * time.Minute)
	tr.Record(Failure)

	if n := tr.RequestCount(time.Minute); n != 1 {
		t.Errorf("RequestCount(1m) = %d, want 1", n)
	}
	if n := tr.RequestCount(5 * time.Minute); n != 2 {
		t.Errorf("RequestCount(5m) = %d, want 2", n)
	}

	now = base.Add(retention + 3*time.Minute)
	tr.Record(Denied)
	if got := len(tr.windows[Success]) + len(tr.windows[Failure]); got != 0 {
		t.Errorf("entries past retention = %d, want 0 after prune", got)
	}
	if n := tr.RequestCount(time.Hour); n != 1 {
		t.Errorf("RequestCount(1h) = %d, want 1", n)
	}
}

func TestFibDelays(t *testing.T) {
	delays := fibDelays(time.Minute, 13*time.Minute)
	want := []time.Duration{1, 2, 3, 5, 8, 13}
	if len(delays) != len(want) {
		t.Fatalf("len(delays) = %d, want %d", len(delays), len(want))
	}
	for i, w := range want {
		if delays[i] != w*time.Minute {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], w*time.Minute)
		}
	}
	if got := fibDelays(0, time.Minute); got != nil {
		t.Errorf("fibDelays(0, 1m) = %v, want nil", got)
	}
}

func TestRunRecovery_Recovers(t *testing.T) {
	Reset()
	RecordError()
	var attempts atomic.Int32
	validate := func(ctx context.Context) error {
		if attempts.Add(1) >= 2 {
			return nil
		}
		return errors.New("provider still down")
	}
	var exhausted atomic.Bool
	RunRecovery(context.Background(), validate, 5*time.Millisecond, 50*time.Millisecond, func() { exhausted.Store(true) })

	if exhausted.Load() {
		t.Error("onExhausted called, want recovery")
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if errs, _ := ErrorRate(time.Minute); errs != 0 {
		t.Errorf("errors after recovery = %d, want 0 (windows reset)", errs)
	}
}

func TestRunRecovery_Exhausted(t *testing.T) {
	var exhausted atomic.Bool
	validate := func(ctx context.Context) error { return errors.New("down") }
	RunRecovery(context.Background(), validate, 2*time.Millisecond, 6*time.Millisecond, func() { exhausted.Store(true) })
	if !exhausted.Load() {
		t.Error("onExhausted not called after final failed probe")
	}
}

func TestStartRecoveryListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	probed := make(chan struct{}, 1)
	StartRecoveryListener(ctx, func(context.Context) error {
		select {
		case probed <- struct{}{}:
		default:
		}
		return nil
	}, time.Millisecond, time.Millisecond, nil)

	NotifyDegraded()
	select {
	case <-probed:
	case <-time.After(time.Second):
		t.Fatal("recovery probe not run after NotifyDegraded")
	}
}
