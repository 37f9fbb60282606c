// Package browser owns the Chrome instance behind the capture pipeline and
// hands out page sessions. One Session covers one navigate+capture cycle and
// exclusively owns its RequestTracker.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pixelwatch/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mobile emulation dimensions, matching the suite's mobile project profile.
const (
	mobileViewportWidth  = 390
	mobileViewportHeight = 844
)

// Manager owns the browser process and creates page sessions.
type Manager struct {
	cfg        config.BrowserConfig
	logger     *zap.Logger
	browser    *rod.Browser
	controlURL string
}

// NewManager creates a manager. Call Start before opening sessions.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger.Named("browser")}
}

// Start connects to an existing Chrome via debugger URL, or launches one.
func (m *Manager) Start(ctx context.Context) error {
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("Stale browser connection, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			launch = launch.Bin(m.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.logger.Info("Browser connected", zap.Bool("headless", m.cfg.Headless))
	return nil
}

// Shutdown closes the browser.
func (m *Manager) Shutdown() error {
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	m.controlURL = ""
	return err
}

// Session is one page-under-test instance: created per test case, discarded
// after its capture cycle.
type Session struct {
	ID      string
	Device  string
	page    *rod.Page
	tracker *RequestTracker
	navTO   time.Duration
	logger  *zap.Logger
}

// NewSession opens a fresh incognito page emulating the given device and
// starts request tracking before any navigation, so early API calls are
// never missed.
func (m *Manager) NewSession(ctx context.Context, device string) (*Session, error) {
	if m.browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	width, height, mobile := m.cfg.ViewportWidth, m.cfg.ViewportHeight, false
	if device == "mobile" {
		width, height, mobile = mobileViewportWidth, mobileViewportHeight, true
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            mobile,
	}).Call(page); err != nil {
		m.logger.Warn("Failed to set viewport", zap.Error(err))
	}

	id := uuid.NewString()
	logger := m.logger.With(zap.String("session", id), zap.String("device", device))

	tracker := NewRequestTracker(logger)
	if err := tracker.Track(ctx, page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("track network events: %w", err)
	}

	return &Session{
		ID:      id,
		Device:  device,
		page:    page,
		tracker: tracker,
		navTO:   m.cfg.NavigationTimeout(),
		logger:  logger,
	}, nil
}

// Navigate loads the target URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating", zap.String("url", url))
	page := s.page.Context(ctx).Timeout(s.navTO)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// PendingRequests returns the in-flight API call count.
func (s *Session) PendingRequests() int { return s.tracker.Pending() }

// Eval runs a JS function expression on the page and returns the result as
// raw JSON. Promises are awaited, so async expressions work too.
func (s *Session) Eval(ctx context.Context, js string) ([]byte, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	return res.Value.MarshalJSON()
}

// Screenshot captures the page to a PNG file.
func (s *Session) Screenshot(ctx context.Context, path string, fullPage bool) error {
	data, err := s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	return writeFile(path, data)
}

// ElementScreenshot captures a single element to a PNG file.
func (s *Session) ElementScreenshot(ctx context.Context, selector, path string) error {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return fmt.Errorf("capture element %q: %w", selector, err)
	}
	return writeFile(path, data)
}

// Close discards the page. The tracker dies with it.
func (s *Session) Close() error {
	return s.page.Close()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
