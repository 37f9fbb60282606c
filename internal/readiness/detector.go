// Package readiness decides when a page is visually stable enough to
// screenshot. Five independent heuristics run concurrently under one master
// timeout; each targets a different root cause of visual instability
// (pending data, generic spinners, CSS/JS animation, arbitrary DOM churn,
// deferred image decode) and none may block the others. Readiness is a
// best-effort optimization: a timed-out wait means "proceed anyway", never a
// failed capture.
package readiness

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pixelwatch/internal/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Page is the capability surface a readiness signal needs. Satisfied by
// *browser.Session and by fakes in tests.
type Page interface {
	// PendingRequests returns the current in-flight API call count.
	PendingRequests() int
	// Eval runs a JS function expression and returns its result as raw JSON.
	Eval(ctx context.Context, js string) ([]byte, error)
}

// Outcome is the result of one readiness wait. Produced once per capture
// cycle and consumed only by the capture step.
type Outcome struct {
	Satisfied bool
	Elapsed   time.Duration
	Reason    string
}

// Detector orchestrates the readiness signals.
type Detector struct {
	cfg    config.ReadinessConfig
	logger *zap.Logger
}

// NewDetector creates a detector with the given bounds.
func NewDetector(cfg config.ReadinessConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger.Named("readiness")}
}

// WaitUntilReady blocks until every signal reports stable or the overall
// timeout elapses, whichever comes first. Signal errors are logged and
// swallowed; the caller always gets a usable Outcome.
func (d *Detector) WaitUntilReady(ctx context.Context, page Page) Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.OverallTimeout())
	defer cancel()

	signals := []struct {
		name string
		run  func(context.Context, Page) error
	}{
		{"api_quiescence", d.waitAPIQuiescence},
		{"loader_absence", d.waitLoaderAbsence},
		{"animation_complete", d.waitAnimations},
		{"dom_stability", d.waitDOMStability},
		{"images_loaded", d.waitImages},
	}

	// No signal depends on another's result, so they race concurrently under
	// the outer deadline instead of queueing behind a slow early signal.
	g, gctx := errgroup.WithContext(ctx)
	for _, sig := range signals {
		g.Go(func() error {
			if err := sig.run(gctx, page); err != nil {
				d.logger.Warn("Readiness signal gave up",
					zap.String("signal", sig.name),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	if ctx.Err() != nil {
		d.logger.Warn("Overall readiness timeout elapsed, proceeding anyway",
			zap.Duration("elapsed", elapsed))
		return Outcome{Satisfied: false, Elapsed: elapsed, Reason: "overall timeout elapsed"}
	}

	d.logger.Info("Page visually stable", zap.Duration("elapsed", elapsed))
	return Outcome{Satisfied: true, Elapsed: elapsed, Reason: "all signals stable"}
}

// errSignalTimeout marks a signal that ran out of its own budget.
var errSignalTimeout = errors.New("signal timeout")

// poll invokes cond at the given interval until it reports done, the signal
// budget runs out, or the surrounding context is cancelled.
func poll(ctx context.Context, interval, budget time.Duration, cond func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errSignalTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitAPIQuiescence polls the pending API call count until it reaches zero,
// then holds a short settle buffer to catch calls chained off the last
// response.
func (d *Detector) waitAPIQuiescence(ctx context.Context, page Page) error {
	err := poll(ctx, 100*time.Millisecond, d.cfg.APIQuiesceTimeout(), func(context.Context) (bool, error) {
		return page.PendingRequests() == 0, nil
	})
	if err != nil {
		if errors.Is(err, errSignalTimeout) {
			d.logger.Warn("API calls still pending, proceeding",
				zap.Int("pending", page.PendingRequests()))
			return nil
		}
		return err
	}

	select {
	case <-time.After(d.cfg.SettleBuffer()):
	case <-ctx.Done():
	}
	return nil
}

const loaderVisibleJS = `() => {
	const selectors = ['[aria-busy="true"]', '.loader', '.spinner', '.loading', '#loader'];
	let visible = 0;
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			const rect = el.getBoundingClientRect();
			if (rect.width > 0 && rect.height > 0) visible++;
		}
	}
	return visible;
}`

// waitLoaderAbsence polls a fixed set of conventional loader indicators until
// none has a rendered box.
func (d *Detector) waitLoaderAbsence(ctx context.Context, page Page) error {
	err := poll(ctx, 200*time.Millisecond, d.cfg.LoaderTimeout(), func(ctx context.Context) (bool, error) {
		n, err := evalInt(ctx, page, loaderVisibleJS)
		if err != nil {
			return false, err
		}
		return n == 0, nil
	})
	if errors.Is(err, errSignalTimeout) {
		d.logger.Warn("Loader indicators still visible, proceeding")
		return nil
	}
	return err
}

const runningAnimationsJS = `() => {
	if (typeof document.getAnimations !== 'function') return 0;
	return document.getAnimations().filter(a => a.playState === 'running').length;
}`

// waitAnimations polls the active-animation list until nothing is running.
func (d *Detector) waitAnimations(ctx context.Context, page Page) error {
	err := poll(ctx, 100*time.Millisecond, d.cfg.AnimationTimeout(), func(ctx context.Context) (bool, error) {
		n, err := evalInt(ctx, page, runningAnimationsJS)
		if err != nil {
			return false, err
		}
		return n == 0, nil
	})
	if errors.Is(err, errSignalTimeout) {
		d.logger.Warn("Animations still running, proceeding")
		return nil
	}
	return err
}

const installMutationProbeJS = `() => {
	if (!window.__pwMutationProbe) {
		window.__pwMutationProbe = true;
		window.__pwLastMutation = Date.now();
		const obs = new MutationObserver(() => { window.__pwLastMutation = Date.now(); });
		obs.observe(document.documentElement, {
			attributes: true,
			childList: true,
			characterData: true,
			subtree: true
		});
	}
	return true;
}`

const msSinceMutationJS = `() => Date.now() - (window.__pwLastMutation || 0)`

// waitDOMStability installs a MutationObserver probe and waits for a
// mutation-free window of StabilityDuration. The hard MaxWait backstop fires
// regardless, so a live clock or ticker cannot hang the capture.
func (d *Detector) waitDOMStability(ctx context.Context, page Page) error {
	if _, err := page.Eval(ctx, installMutationProbeJS); err != nil {
		return err
	}

	stable := d.cfg.StabilityDuration()
	err := poll(ctx, 100*time.Millisecond, d.cfg.StabilityMaxWait(), func(ctx context.Context) (bool, error) {
		since, err := evalInt(ctx, page, msSinceMutationJS)
		if err != nil {
			return false, err
		}
		return time.Duration(since)*time.Millisecond >= stable, nil
	})
	if errors.Is(err, errSignalTimeout) {
		d.logger.Warn("Constant DOM mutation, proceeding")
		return nil
	}
	return err
}

const imagesLoadedJS = `() => Promise.all(
	Array.from(document.images).map(img => img.complete
		? Promise.resolve()
		: new Promise(resolve => {
			img.addEventListener('load', resolve, { once: true });
			img.addEventListener('error', resolve, { once: true });
		}))
).then(() => true)`

// waitImages resolves once every image element has loaded or errored. The
// promises settle in parallel on the page; one backstop bounds them all.
func (d *Detector) waitImages(ctx context.Context, page Page) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ImageTimeout())
	defer cancel()

	if _, err := page.Eval(ctx, imagesLoadedJS); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d.logger.Warn("Images still loading, proceeding")
			return nil
		}
		return err
	}
	return nil
}

func evalInt(ctx context.Context, page Page, js string) (int, error) {
	raw, err := page.Eval(ctx, js)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		// Values like 12.0 come back as floats.
		var f float64
		if ferr := json.Unmarshal(raw, &f); ferr != nil {
			return 0, err
		}
		n = int(f)
	}
	return n, nil
}
