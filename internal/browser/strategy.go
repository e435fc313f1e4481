package browser

import (
	"fmt"
	"log/slog"
)

// strategy is one attempt at resolving or operating a form control. The
// submission flow runs an explicit ordered list of strategies per step:
// the first one to succeed short-circuits the rest, and exhausting the
// list yields a typed failure instead of an untyped panic chain.
type strategy struct {
	name string
	run  func() error
}

// runStrategies tries each strategy in order and returns the name of the
// first one that succeeded. When every strategy fails it returns the last
// error observed, so the caller can decide whether the step is fatal.
func runStrategies(step string, strategies []strategy) (string, error) {
	var lastErr error
	for _, s := range strategies {
		if err := s.run(); err != nil {
			slog.Debug("Strategy failed", "step", step, "strategy", s.name, "error", err)
			lastErr = err
			continue
		}
		slog.Debug("Strategy succeeded", "step", step, "strategy", s.name)
		return s.name, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no strategies configured")
	}
	return "", fmt.Errorf("step %s: all %d fallbacks failed: %w", step, len(strategies), lastErr)
}
