package models

import "time"

// Recipient statuses
const (
	RecipientActive       = "active"
	RecipientUnsubscribed = "unsubscribed"
	RecipientBounced      = "bounced"
)

// RecipientList is a named segment of recipients
type RecipientList struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TotalCount  int       `json:"total_count"`
	ActiveCount int       `json:"active_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Recipient represents a single email recipient
type Recipient struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // active, unsubscribed, bounced
	CreatedAt time.Time `json:"created_at"`
}

// RecipientSelector picks the recipients of a test send.
// RecipientIDs wins over ListIDs; both empty means every active recipient.
type RecipientSelector struct {
	RecipientIDs []string `json:"recipient_ids,omitempty"`
	ListIDs      []string `json:"list_ids,omitempty"`
}
