// Package browser drives a Chromium instance through the marketplace's
// login and listing-creation forms using go-rod.
package browser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/avoronov/marketpost/internal/config"
	"github.com/avoronov/marketpost/internal/session"
)

// Manager owns browser lifecycle: launching, session restore/capture and
// diagnostic screenshots. One Manager serves all flows; each flow acquires
// its own browser instance and must release it via the returned cleanup.
type Manager struct {
	cfg           *config.Config
	screenshotDir string
}

// NewManager creates a browser manager and ensures the screenshot
// directory exists.
func NewManager(cfg *config.Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.ScreenshotDir, 0755); err != nil {
		return nil, fmt.Errorf("create screenshot directory: %w", err)
	}
	return &Manager{cfg: cfg, screenshotDir: cfg.ScreenshotDir}, nil
}

// Launch starts a Chromium instance. The returned cleanup closes the
// browser and removes its temporary profile; callers must always invoke
// it, typically via defer, regardless of outcome.
func (m *Manager) Launch(headless bool) (*rod.Browser, func(), error) {
	l := launcher.New().
		Headless(headless).
		Leakless(false).
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-dev-shm-usage")

	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("connect to browser: %w", err)
	}

	cleanup := func() {
		if err := browser.Close(); err != nil {
			slog.Debug("Failed to close browser", "error", err)
		}
		l.Cleanup()
	}

	slog.Debug("Browser launched", "headless", headless)
	return browser, cleanup, nil
}

// StealthPage opens a new page with automation fingerprints masked. The
// listing form is script-detection-sensitive, so batch submissions go
// through here rather than a plain page.
func (m *Manager) StealthPage(browser *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	return page, nil
}

// RestoreSession loads the serialized cookies of a stored session into
// the browser before any navigation happens.
func (m *Manager) RestoreSession(browser *rod.Browser, sess *session.Session) error {
	if len(sess.Cookies) == 0 {
		return nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(sess.Cookies))
	for _, c := range sess.Cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		if c.SameSite != "" {
			p.SameSite = proto.NetworkCookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}

	if err := browser.SetCookies(params); err != nil {
		return fmt.Errorf("restore session cookies: %w", err)
	}
	return nil
}

// RestoreLocalStorage replays stored local storage for the page's current
// origin. Must be called after navigating to that origin.
func (m *Manager) RestoreLocalStorage(page *rod.Page, sess *session.Session, origin string) error {
	items, ok := sess.LocalStorage[origin]
	if !ok || len(items) == 0 {
		return nil
	}

	_, err := page.Eval(`(items) => {
		for (const [k, v] of Object.entries(items)) {
			localStorage.setItem(k, v)
		}
	}`, items)
	if err != nil {
		return fmt.Errorf("restore local storage: %w", err)
	}
	return nil
}

// CaptureSession snapshots the browser's cookies and the page's local
// storage into a serializable session blob.
func (m *Manager) CaptureSession(browser *rod.Browser, page *rod.Page, origin string) (*session.Session, error) {
	cookies, err := browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}

	sess := &session.Session{SavedAt: time.Now()}
	for _, c := range cookies {
		sess.Cookies = append(sess.Cookies, session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	obj, err := page.Eval(`() => JSON.stringify(Object.assign({}, window.localStorage))`)
	if err != nil {
		// Local storage is nice to have; cookies alone usually carry the
		// authenticated state.
		slog.Warn("Failed to capture local storage", "error", err)
		return sess, nil
	}

	raw := obj.Value.Str()
	if raw != "" && raw != "{}" {
		items := map[string]string{}
		if jsonErr := decodeJSONMap(raw, &items); jsonErr != nil {
			slog.Warn("Failed to decode local storage", "error", jsonErr)
		} else {
			sess.LocalStorage = map[string]map[string]string{origin: items}
		}
	}

	return sess, nil
}

// CaptureScreenshot writes a full-page diagnostic screenshot and returns
// its path. Failures are logged, not propagated; a missing screenshot
// must never mask the original error.
func (m *Manager) CaptureScreenshot(page *rod.Page, label string) string {
	data, err := page.Screenshot(true, nil)
	if err != nil {
		slog.Warn("Failed to capture screenshot", "label", label, "error", err)
		return ""
	}

	name := fmt.Sprintf("%s-%s.png", label, time.Now().Format("20060102-150405"))
	path := filepath.Join(m.screenshotDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("Failed to write screenshot", "path", path, "error", err)
		return ""
	}

	slog.Info("Diagnostic screenshot saved", "path", path)
	return path
}

func decodeJSONMap(raw string, into *map[string]string) error {
	return json.Unmarshal([]byte(raw), into)
}
