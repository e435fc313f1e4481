package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/avoronov/marketpost/internal/config"
	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/session"
)

// loginPhase classifies what the login page currently shows.
type loginPhase int

const (
	phaseUnknown loginPhase = iota
	phaseLogin
	phaseCheckpoint
	phaseLoggedIn
)

func (p loginPhase) String() string {
	switch p {
	case phaseLogin:
		return "still-login"
	case phaseCheckpoint:
		return "checkpoint"
	case phaseLoggedIn:
		return "logged-in"
	default:
		return "unknown"
	}
}

// LoginFlow drives a visible browser through the marketplace login form
// and persists the resulting session. The target site hard-blocks fully
// headless interactive login, so the window is always visible; checkpoint
// and CAPTCHA challenges are resolved manually by the operator while the
// flow polls for completion.
type LoginFlow struct {
	mgr      *Manager
	sessions *session.Store
	cfg      *config.Config
}

// NewLoginFlow creates an interactive login flow.
func NewLoginFlow(mgr *Manager, sessions *session.Store, cfg *config.Config) *LoginFlow {
	return &LoginFlow{mgr: mgr, sessions: sessions, cfg: cfg}
}

// Run performs one login attempt for the account. When password is empty
// the auto-fill step is skipped and the operator completes the form
// manually within the configured window. A failed attempt is returned to
// the caller; the flow never retries on its own.
func (f *LoginFlow) Run(ctx context.Context, email, password string) error {
	browser, cleanup, err := f.mgr.Launch(false)
	if err != nil {
		return err
	}
	defer cleanup()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	page = page.Context(ctx)

	slog.Info("Opening login page", "email", email, "url", f.cfg.LoginURL)
	if err := page.Timeout(f.cfg.Timing.NavTimeout).Navigate(f.cfg.LoginURL); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}
	if err := page.Timeout(f.cfg.Timing.NavTimeout).WaitLoad(); err != nil {
		slog.Warn("Login page load wait failed, proceeding", "error", err)
	}

	if password != "" {
		if err := f.fillCredentials(page, email, password); err != nil {
			return fmt.Errorf("auto-fill login form: %w", err)
		}
		if err := sleepCtx(ctx, f.cfg.Timing.LoginResponseSettle); err != nil {
			return err
		}
	} else {
		slog.Info("No credential supplied, waiting for manual login", "email", email)
	}

	phase, err := f.detectPhase(page)
	if err != nil {
		return err
	}

	switch phase {
	case phaseLoggedIn:
		return f.persistSession(browser, page, email)
	case phaseLogin:
		if password != "" {
			return fmt.Errorf("login failed for %s: still on login page (wrong credential or blocked)", email)
		}
	case phaseCheckpoint:
		slog.Info("Checkpoint detected, waiting for manual resolution", "email", email)
	}

	ceiling := f.cfg.Timing.ManualLoginCeiling
	if phase == phaseCheckpoint {
		ceiling = f.cfg.Timing.CheckpointCeiling
	}

	if err := f.waitForLogin(ctx, page, email, phase, ceiling); err != nil {
		return err
	}
	return f.persistSession(browser, page, email)
}

// waitForLogin polls the page phase at a fixed interval until the account
// reaches the logged-in state or the ceiling elapses. A status line is
// emitted only when the detected phase changes, not on every tick.
func (f *LoginFlow) waitForLogin(ctx context.Context, page *rod.Page, email string, lastPhase loginPhase, ceiling time.Duration) error {
	deadline := time.Now().Add(ceiling)
	ticker := time.NewTicker(f.cfg.Timing.LoginPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("login aborted: %w", ctx.Err())
		case <-ticker.C:
		}

		phase, err := f.detectPhase(page)
		if err != nil {
			return err
		}
		if phase != lastPhase {
			slog.Info("Login phase changed", "email", email, "from", lastPhase.String(), "to", phase.String())
			lastPhase = phase
		}
		if phase == phaseLoggedIn {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: last phase %s after %s", domain.ErrLoginChallengeTimeout, phase.String(), ceiling)
		}
	}
}

func (f *LoginFlow) fillCredentials(page *rod.Page, email, password string) error {
	timing := f.cfg.Timing

	emailInput, err := page.Timeout(timing.ActionTimeout).Element(`input[name="email"]`)
	if err != nil {
		return fmt.Errorf("find email input: %w", err)
	}
	if err := emailInput.Input(email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}

	passInput, err := page.Timeout(timing.ActionTimeout).Element(`input[name="pass"]`)
	if err != nil {
		return fmt.Errorf("find password input: %w", err)
	}
	if err := passInput.Input(password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	loginButton, err := page.Timeout(timing.ActionTimeout).Element(`button[name="login"]`)
	if err != nil {
		return fmt.Errorf("find login button: %w", err)
	}
	if err := loginButton.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click login button: %w", err)
	}

	slog.Info("Credentials submitted", "email", email)
	return nil
}

// detectPhase classifies the current page. An error here means the page
// itself is gone (operator closed the window), which ends the attempt.
func (f *LoginFlow) detectPhase(page *rod.Page) (loginPhase, error) {
	info, err := page.Info()
	if err != nil {
		return phaseUnknown, fmt.Errorf("login window closed: %w", err)
	}

	pageURL := strings.ToLower(info.URL)
	if strings.Contains(pageURL, "checkpoint") || strings.Contains(pageURL, "captcha") {
		return phaseCheckpoint, nil
	}
	if strings.Contains(pageURL, "login") || f.hasVisible(page, `input[name="email"]`) {
		return phaseLogin, nil
	}

	// Off the login page: confirm home/feed signals before declaring
	// success. Navigation landmarks and the compose affordance only
	// render for an authenticated account.
	if f.hasVisible(page, `[role="navigation"]`) || f.hasVisible(page, `[aria-label*="Create"]`) {
		return phaseLoggedIn, nil
	}
	return phaseUnknown, nil
}

func (f *LoginFlow) hasVisible(page *rod.Page, selector string) bool {
	el, err := page.Timeout(2 * time.Second).Element(selector)
	if err != nil {
		return false
	}
	visible, err := el.Visible()
	return err == nil && visible
}

func (f *LoginFlow) persistSession(browser *rod.Browser, page *rod.Page, email string) error {
	sess, err := f.mgr.CaptureSession(browser, page, originOf(f.cfg.LoginURL))
	if err != nil {
		return fmt.Errorf("capture session: %w", err)
	}
	if err := f.sessions.Save(email, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	slog.Info("Login successful, session saved", "email", email, "path", f.sessions.Path(email))
	return nil
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
