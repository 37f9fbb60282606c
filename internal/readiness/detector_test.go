package readiness

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"pixelwatch/internal/config"

	"go.uber.org/zap"
)

// fakePage scripts the page-side state the signals observe.
type fakePage struct {
	pending    atomic.Int64
	loaders    atomic.Int64
	animations atomic.Int64
	// msSinceMutation < 0 means "always mutating": report 0 forever.
	msSinceMutation atomic.Int64
	evalCalls       atomic.Int64
}

func (p *fakePage) PendingRequests() int { return int(p.pending.Load()) }

func (p *fakePage) Eval(ctx context.Context, js string) ([]byte, error) {
	p.evalCalls.Add(1)
	switch js {
	case loaderVisibleJS:
		return []byte(strconv.FormatInt(p.loaders.Load(), 10)), nil
	case runningAnimationsJS:
		return []byte(strconv.FormatInt(p.animations.Load(), 10)), nil
	case installMutationProbeJS:
		return []byte("true"), nil
	case msSinceMutationJS:
		since := p.msSinceMutation.Load()
		if since < 0 {
			since = 0
		}
		return []byte(strconv.FormatInt(since, 10)), nil
	case imagesLoadedJS:
		return []byte("true"), nil
	}
	return []byte("0"), nil
}

func quickConfig() config.ReadinessConfig {
	return config.ReadinessConfig{
		OverallTimeoutMs:   5000,
		APIQuiesceMs:       1000,
		SettleBufferMs:     10,
		LoaderTimeoutMs:    1000,
		AnimationTimeoutMs: 1000,
		StabilityMs:        50,
		StabilityMaxWaitMs: 1000,
		ImageTimeoutMs:     1000,
	}
}

func TestWaitUntilReadyAllStable(t *testing.T) {
	page := &fakePage{}
	page.msSinceMutation.Store(10000)

	d := NewDetector(quickConfig(), zap.NewNop())
	outcome := d.WaitUntilReady(context.Background(), page)

	if !outcome.Satisfied {
		t.Fatalf("expected satisfied outcome, got %+v", outcome)
	}
	if outcome.Elapsed > 2*time.Second {
		t.Errorf("stable page took %v, expected a fast return", outcome.Elapsed)
	}
	if page.evalCalls.Load() == 0 {
		t.Error("expected page evaluations to run")
	}
}

func TestWaitUntilReadyOverallTimeout(t *testing.T) {
	page := &fakePage{}
	page.pending.Store(3)          // never quiesces
	page.msSinceMutation.Store(-1) // never stable
	page.animations.Store(2)       // never finishes

	cfg := quickConfig()
	cfg.OverallTimeoutMs = 300
	cfg.APIQuiesceMs = 10000
	cfg.StabilityMaxWaitMs = 10000
	cfg.AnimationTimeoutMs = 10000

	d := NewDetector(cfg, zap.NewNop())
	start := time.Now()
	outcome := d.WaitUntilReady(context.Background(), page)

	if outcome.Satisfied {
		t.Error("expected unsatisfied outcome under constant instability")
	}
	if outcome.Reason != "overall timeout elapsed" {
		t.Errorf("reason = %q", outcome.Reason)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("wait ran %v past the 300ms master timeout", elapsed)
	}
}

func TestSignalBudgetExhaustionStillSatisfies(t *testing.T) {
	// One stuck signal gives up within its own budget; the wait as a whole
	// still reports stable because the master timeout never fired.
	page := &fakePage{}
	page.msSinceMutation.Store(10000)
	page.animations.Store(1)

	cfg := quickConfig()
	cfg.AnimationTimeoutMs = 150

	d := NewDetector(cfg, zap.NewNop())
	outcome := d.WaitUntilReady(context.Background(), page)

	if !outcome.Satisfied {
		t.Fatalf("expected satisfied outcome after animation signal gave up, got %+v", outcome)
	}
}

func TestDOMStabilityBackstop(t *testing.T) {
	page := &fakePage{}
	page.msSinceMutation.Store(-1) // constant mutation

	cfg := quickConfig()
	cfg.StabilityMaxWaitMs = 200

	d := NewDetector(cfg, zap.NewNop())
	outcome := d.WaitUntilReady(context.Background(), page)

	if !outcome.Satisfied {
		t.Fatalf("expected backstop to release the wait, got %+v", outcome)
	}
}

func TestEvalIntAcceptsFloats(t *testing.T) {
	page := &floatPage{}
	n, err := evalInt(context.Background(), page, "whatever")
	if err != nil {
		t.Fatalf("evalInt: %v", err)
	}
	if n != 12 {
		t.Errorf("evalInt = %d, want 12", n)
	}
}

type floatPage struct{}

func (floatPage) PendingRequests() int { return 0 }
func (floatPage) Eval(ctx context.Context, js string) ([]byte, error) {
	return []byte("12.0"), nil
}
