package domain

import "errors"

var (
	// ErrSessionMissing means no prior successful login exists for the
	// account. Fatal per item, never retried automatically.
	ErrSessionMissing = errors.New("session not found, run login first")

	// ErrLoginChallengeTimeout means a checkpoint was not resolved within
	// the configured window. The session is not saved.
	ErrLoginChallengeTimeout = errors.New("login challenge not resolved within timeout")

	// ErrElementNotFound means an expected control was absent after all
	// fallbacks were exhausted. The message deliberately avoids the
	// classifier's trigger words so a missing element stays "unknown".
	ErrElementNotFound = errors.New("element not found after all fallbacks")

	// ErrPublishControlNotFound means no publish-equivalent control could
	// be located, so the listing cannot be submitted.
	ErrPublishControlNotFound = errors.New("publish button not found after multiple attempts")

	// ErrNoPendingPosts means every requested listing was already posted
	// or unknown, so there is nothing for a batch run to do.
	ErrNoPendingPosts = errors.New("no pending posts to submit")

	ErrAccountNotFound = errors.New("account not found")
	ErrListingNotFound = errors.New("listing not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidListing  = errors.New("invalid listing data")
)
