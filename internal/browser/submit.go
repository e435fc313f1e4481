package browser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/avoronov/marketpost/internal/config"
	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/session"
)

// Text inputs above this vertical offset belong to the page header
// (search bar and friends), not the listing form.
const headerOffsetPx = 100

// probeTimeout bounds lookups for controls that are allowed to be absent,
// so probing label variants stays cheap.
const probeTimeout = 3 * time.Second

// publishVariants are the labels a publish-equivalent control may carry,
// tried in order.
var publishVariants = []string{
	"Publish",
	"Publish listing",
	"Post",
	"Post listing",
	"Confirm",
	"Submit",
}

// categorical describes one dropdown on the listing form. Setting these
// is best-effort: the form accepts defaults, so a failed selection logs
// a warning and the flow continues.
type categorical struct {
	label  string
	option string
}

var categoricals = []categorical{
	{label: "Category", option: "Furniture"},
	{label: "Condition", option: "New"},
	{label: "List as in Stock", option: "In stock"},
}

// SubmitError wraps a submission failure together with the diagnostic
// screenshot captured before the error propagated.
type SubmitError struct {
	Screenshot string
	Err        error
}

func (e *SubmitError) Error() string { return e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }

// Submitter drives a browser through the multi-step listing-creation
// form using a stored session.
type Submitter struct {
	mgr      *Manager
	sessions *session.Store
	cfg      *config.Config
}

// NewSubmitter creates a listing submission flow.
func NewSubmitter(mgr *Manager, sessions *session.Store, cfg *config.Config) *Submitter {
	return &Submitter{mgr: mgr, sessions: sessions, cfg: cfg}
}

// Submit posts one listing under the account's stored session. It fails
// fast with domain.ErrSessionMissing when no session exists. On any error
// a diagnostic screenshot is captured before the error propagates, and
// the browser is always released.
func (s *Submitter) Submit(ctx context.Context, listing *domain.Listing, headless bool) (err error) {
	email := listing.AccountEmail
	if !s.sessions.Exists(email) {
		return fmt.Errorf("%w: account %s", domain.ErrSessionMissing, email)
	}

	sess, err := s.sessions.Load(email)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	browser, cleanup, err := s.mgr.Launch(headless)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := s.mgr.RestoreSession(browser, sess); err != nil {
		return err
	}

	page, err := s.mgr.StealthPage(browser)
	if err != nil {
		return err
	}
	page = page.Context(ctx)

	defer func() {
		if err != nil {
			shot := s.mgr.CaptureScreenshot(page, "submit-error")
			err = &SubmitError{Screenshot: shot, Err: err}
		}
	}()

	slog.Info("Opening listing creation page", "email", email, "title", listing.Title)
	if err := page.Timeout(s.cfg.Timing.NavTimeout).Navigate(s.cfg.MarketplaceURL); err != nil {
		return fmt.Errorf("navigate to listing form: %w", err)
	}
	if err := page.Timeout(s.cfg.Timing.NavTimeout).WaitLoad(); err != nil {
		slog.Warn("Listing form load wait failed, proceeding", "error", err)
	}
	if err := s.mgr.RestoreLocalStorage(page, sess, originOf(s.cfg.MarketplaceURL)); err != nil {
		slog.Warn("Failed to restore local storage", "error", err)
	}

	if info, infoErr := page.Info(); infoErr == nil && strings.Contains(strings.ToLower(info.URL), "login") {
		return fmt.Errorf("session expired for %s: redirected to login page", email)
	}

	if err := s.uploadImage(ctx, page, listing.ImagePath); err != nil {
		return err
	}
	if err := s.fillTitle(page, listing.Title); err != nil {
		return err
	}
	if err := s.fillPrice(page, listing.Title, listing.Price); err != nil {
		return err
	}

	for _, c := range categoricals {
		if err := s.selectCategorical(ctx, page, c); err != nil {
			slog.Warn("Could not set categorical value, continuing",
				"label", c.label, "option", c.option, "error", err)
		}
	}

	if err := s.fillDescription(page, listing.Description); err != nil {
		return err
	}

	s.scrollToBottom(ctx, page)
	s.advanceNext(ctx, page)
	s.scrollToBottom(ctx, page)

	if err := s.clickPublish(ctx, page); err != nil {
		return err
	}

	if err := sleepCtx(ctx, s.cfg.Timing.PageSettleWait); err != nil {
		return err
	}

	slog.Info("Listing submitted", "email", email, "title", listing.Title)
	return nil
}

// uploadImage hands the image file to the sole file input accepting
// image types, then waits for the form to digest the upload.
func (s *Submitter) uploadImage(ctx context.Context, page *rod.Page, imagePath string) error {
	if imagePath == "" {
		return fmt.Errorf("%w: listing has no image", domain.ErrInvalidListing)
	}

	fileInput, err := page.Timeout(s.cfg.Timing.ActionTimeout).Element(`input[type="file"][accept*="image"]`)
	if err != nil {
		return fmt.Errorf("%w: image file input", domain.ErrElementNotFound)
	}
	if err := fileInput.SetFiles([]string{imagePath}); err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	return sleepCtx(ctx, s.cfg.Timing.FormUpdateWait)
}

// fillTitle locates the title field by positional heuristics: the first
// visible, empty text input below the header band.
func (s *Submitter) fillTitle(page *rod.Page, title string) error {
	inputs, err := page.Timeout(s.cfg.Timing.ActionTimeout).Elements(`input[type="text"]`)
	if err != nil {
		return fmt.Errorf("%w: no text inputs on listing form", domain.ErrElementNotFound)
	}

	for _, el := range inputs {
		if !s.isVisibleEmpty(el) {
			continue
		}
		if y, ok := elementY(el); !ok || y <= headerOffsetPx {
			continue
		}
		if err := el.Input(title); err != nil {
			return fmt.Errorf("fill title: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: title input", domain.ErrElementNotFound)
}

// fillPrice locates the price field as the next visible, empty text input
// appearing after the now-filled title field.
func (s *Submitter) fillPrice(page *rod.Page, title string, price float64) error {
	inputs, err := page.Timeout(s.cfg.Timing.ActionTimeout).Elements(`input[type="text"]`)
	if err != nil {
		return fmt.Errorf("%w: no text inputs on listing form", domain.ErrElementNotFound)
	}

	titleSeen := false
	for _, el := range inputs {
		visible, visErr := el.Visible()
		if visErr != nil || !visible {
			continue
		}
		value := inputValue(el)
		if !titleSeen && value == title {
			titleSeen = true
			continue
		}
		if titleSeen && value == "" {
			if err := el.Input(strconv.FormatFloat(price, 'f', -1, 64)); err != nil {
				return fmt.Errorf("fill price: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: price input", domain.ErrElementNotFound)
}

// selectCategorical opens a dropdown and tries, in order: role-based
// option lookup, exact visible-text match, keyboard navigation.
func (s *Submitter) selectCategorical(ctx context.Context, page *rod.Page, c categorical) error {
	opener, err := page.Timeout(probeTimeout).ElementR(`span, div, label`, exactRegex(c.label))
	if err != nil {
		return fmt.Errorf("%w: %s control", domain.ErrElementNotFound, c.label)
	}
	if err := s.clickElement(opener); err != nil {
		return fmt.Errorf("open %s dropdown: %w", c.label, err)
	}
	if err := sleepCtx(ctx, s.cfg.Timing.DropdownOpenWait); err != nil {
		return err
	}

	_, err = runStrategies(c.label, []strategy{
		{name: "role-option", run: func() error {
			return s.clickRoleOption(page, c.option)
		}},
		{name: "exact-text", run: func() error {
			el, findErr := page.Timeout(probeTimeout).ElementR(`span, div`, exactRegex(c.option))
			if findErr != nil {
				return findErr
			}
			return s.clickElement(el)
		}},
		{name: "keyboard", run: func() error {
			return pressKeys(page, input.Home, input.ArrowDown, input.Enter)
		}},
	})
	return err
}

// clickRoleOption picks a dropdown option via its accessible role.
func (s *Submitter) clickRoleOption(page *rod.Page, option string) error {
	options, err := page.Timeout(probeTimeout).Elements(`[role="option"]`)
	if err != nil {
		return err
	}
	for _, el := range options {
		visible, visErr := el.Visible()
		if visErr != nil || !visible {
			continue
		}
		text, textErr := el.Text()
		if textErr != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(text), option) {
			return s.clickElement(el)
		}
	}
	return fmt.Errorf("no visible option %q", option)
}

// fillDescription targets the role-identified description area, falling
// back to the first visible multi-line text field.
func (s *Submitter) fillDescription(page *rod.Page, description string) error {
	_, err := runStrategies("description", []strategy{
		{name: "labelled-textbox", run: func() error {
			el, findErr := page.Timeout(probeTimeout).Element(`textarea[aria-label*="Description"], [role="textbox"][aria-label*="Description"]`)
			if findErr != nil {
				return findErr
			}
			return el.Input(description)
		}},
		{name: "first-textarea", run: func() error {
			areas, findErr := page.Timeout(probeTimeout).Elements(`textarea`)
			if findErr != nil {
				return findErr
			}
			for _, el := range areas {
				if visible, visErr := el.Visible(); visErr == nil && visible {
					return el.Input(description)
				}
			}
			return fmt.Errorf("no visible textarea")
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: description field", domain.ErrElementNotFound)
	}
	return nil
}

// advanceNext clicks through an optional "Next" step. Absence of the
// control is fine: single-page variants of the form go straight to
// publish.
func (s *Submitter) advanceNext(ctx context.Context, page *rod.Page) {
	_, err := runStrategies("next", []strategy{
		{name: "exact-text", run: func() error {
			el, findErr := page.Timeout(probeTimeout).ElementR(`button, [role="button"], span`, exactRegex("Next"))
			if findErr != nil {
				return findErr
			}
			return s.clickElement(el)
		}},
		{name: "aria-label", run: func() error {
			el, findErr := page.Timeout(probeTimeout).Element(`button[aria-label*="Next"], [role="button"][aria-label*="Next"]`)
			if findErr != nil {
				return findErr
			}
			return s.clickElement(el)
		}},
	})
	if err != nil {
		slog.Debug("No Next control found, assuming single-page form")
		return
	}
	if err := sleepCtx(ctx, s.cfg.Timing.PageSettleWait); err == nil {
		slog.Debug("Advanced past Next step")
	}
}

// clickPublish walks the ordered label variants with the text/role
// fallback chain. Exhausting every variant is fatal for the attempt.
func (s *Submitter) clickPublish(ctx context.Context, page *rod.Page) error {
	for _, variant := range publishVariants {
		name, err := runStrategies("publish:"+variant, []strategy{
			{name: "exact-text", run: func() error {
				el, findErr := page.Timeout(probeTimeout).ElementR(`button, [role="button"], span`, exactRegex(variant))
				if findErr != nil {
					return findErr
				}
				if err := sleepCtx(ctx, s.cfg.Timing.PreClickWait); err != nil {
					return err
				}
				return s.clickElement(el)
			}},
			{name: "aria-label", run: func() error {
				el, findErr := page.Timeout(probeTimeout).Element(`button[aria-label="` + variant + `"], [role="button"][aria-label="` + variant + `"]`)
				if findErr != nil {
					return findErr
				}
				if err := sleepCtx(ctx, s.cfg.Timing.PreClickWait); err != nil {
					return err
				}
				return s.clickElement(el)
			}},
		})
		if err == nil {
			slog.Info("Publish control clicked", "variant", variant, "strategy", name)
			return nil
		}
	}
	return domain.ErrPublishControlNotFound
}

func (s *Submitter) scrollToBottom(ctx context.Context, page *rod.Page) {
	if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		slog.Debug("Scroll to bottom failed", "error", err)
	}
	_ = sleepCtx(ctx, s.cfg.Timing.FormUpdateWait)
}

func (s *Submitter) clickElement(el *rod.Element) error {
	if err := el.ScrollIntoView(); err != nil {
		slog.Debug("Scroll into view failed", "error", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *Submitter) isVisibleEmpty(el *rod.Element) bool {
	visible, err := el.Visible()
	if err != nil || !visible {
		return false
	}
	return inputValue(el) == ""
}

func inputValue(el *rod.Element) string {
	value, err := el.Property("value")
	if err != nil {
		return ""
	}
	return value.Str()
}

func elementY(el *rod.Element) (float64, bool) {
	shape, err := el.Shape()
	if err != nil {
		return 0, false
	}
	box := shape.Box()
	if box == nil {
		return 0, false
	}
	return box.Y, true
}

func pressKeys(page *rod.Page, keys ...input.Key) error {
	for _, k := range keys {
		if err := page.Keyboard.Press(k); err != nil {
			return fmt.Errorf("press key: %w", err)
		}
	}
	return nil
}

func exactRegex(text string) string {
	return "^" + regexp.QuoteMeta(strings.TrimSpace(text)) + "$"
}
