// internal/model/queued_message.go
package model

import "time"

// Queued message statuses.
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageFailed    = "failed"
)

type QueuedMessage struct {
	ID           int        `db:"id" json:"id"`
	CampaignID   *int       `db:"campaign_id" json:"campaign_id,omitempty"` // nil for auto-replies
	ChannelID    int        `db:"channel_id" json:"channel_id"`
	Recipient    string     `db:"recipient" json:"recipient"`
	Body         string     `db:"body" json:"body"`
	MediaURL     string     `db:"media_url" json:"media_url,omitempty"`
	Status       string     `db:"status" json:"status"`
	ExternalID   string     `db:"external_id" json:"external_id,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	ScheduledAt  time.Time  `db:"scheduled_at" json:"scheduled_at"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	RespondedAt  *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// GroupKey identifies the rate-limit bucket of the message: its campaign,
// or 0 for ad-hoc messages.
func (m *QueuedMessage) GroupKey() int {
	if m.CampaignID == nil {
		return 0
	}
	return *m.CampaignID
}
