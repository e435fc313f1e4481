package domain

import (
	"time"
)

// AnalyticsAction distinguishes the two tracked listing transitions.
type AnalyticsAction string

const (
	ActionCreated AnalyticsAction = "created"
	ActionPosted  AnalyticsAction = "posted"
)

// AnalyticsEvent is an append-only record of a listing transition. It
// carries a denormalized snapshot (email, price) so history survives
// account and listing deletion.
type AnalyticsEvent struct {
	ID           int64           `json:"id"`
	ListingID    int64           `json:"listing_id"`
	ListingTitle string          `json:"listing_title"`
	Action       AnalyticsAction `json:"action"`
	AccountEmail string          `json:"account_email"`
	Price        float64         `json:"price"`
	Timestamp    time.Time       `json:"timestamp"`
}
