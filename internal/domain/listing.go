package domain

import (
	"time"
)

// Listing represents a product listing destined for one marketplace account.
// A listing transitions posted false -> true exactly once, and only the
// posting orchestrator performs that transition.
type Listing struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"account_id"`
	AccountEmail  string    `json:"account_email"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	ImagePath     string    `json:"image_path"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Posted        bool      `json:"posted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the fields a caller must supply before a listing can be
// accepted for posting.
func (l *Listing) Validate() error {
	if l.Title == "" || l.Description == "" {
		return ErrInvalidListing
	}
	if l.Price <= 0 {
		return ErrInvalidListing
	}
	if l.AccountID == "" {
		return ErrInvalidListing
	}
	return nil
}
