package dispatch

import (
	"time"
)

// BatchStatus represents the delivery state of a batch
type BatchStatus string

const (
	StatusPending BatchStatus = "pending"
	StatusClaimed BatchStatus = "claimed"
)

// Recipient is a single addressee inside a batch
type Recipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Batch is the content of one variant together with its recipient group
type Batch struct {
	ID                    string      `json:"id"`
	CampaignID            string      `json:"campaign_id"`
	VariantID             string      `json:"variant_id"`
	Label                 string      `json:"label"`
	Subject               string      `json:"subject"`
	Content               string      `json:"content"`
	FromName              string      `json:"from_name"`
	SendTimeOffsetMinutes int         `json:"send_time_offset_minutes"`
	Recipients            []Recipient `json:"recipients"`
	Status                BatchStatus `json:"status"`
	CreatedAt             time.Time   `json:"created_at"`
	ClaimedAt             *time.Time  `json:"claimed_at,omitempty"`
}

// SendAt returns the time the batch is due for delivery
func (b *Batch) SendAt() time.Time {
	return b.CreatedAt.Add(time.Duration(b.SendTimeOffsetMinutes) * time.Minute)
}

// Stats holds outbox statistics
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Claimed    int `json:"claimed"`
	Recipients int `json:"recipients"`
}
