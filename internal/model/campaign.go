// internal/model/campaign.go
package model

import "time"

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

// DefaultRateLimit is messages per dispatch tick when a campaign does not set one.
const DefaultRateLimit = 30

type Campaign struct {
	ID                int        `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	ChannelID         int        `db:"channel_id" json:"channel_id"`
	Status            string     `db:"status" json:"status"`
	BaseTemplate      string     `db:"base_template" json:"base_template"`
	RecipientGroups   []string   `db:"recipient_groups" json:"recipient_groups"`
	MediaURL          string     `db:"media_url" json:"media_url,omitempty"`
	RateLimit         int        `db:"rate_limit" json:"rate_limit"`
	ScheduledAt       *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TotalRecipients   int        `db:"total_recipients" json:"total_recipients"`
	MessagesSent      int        `db:"messages_sent" json:"messages_sent"`
	MessagesDelivered int        `db:"messages_delivered" json:"messages_delivered"`
	MessagesResponded int        `db:"messages_responded" json:"messages_responded"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// EffectiveRateLimit returns the configured rate limit or the default.
func (c *Campaign) EffectiveRateLimit() int {
	if c == nil || c.RateLimit <= 0 {
		return DefaultRateLimit
	}
	return c.RateLimit
}

// IsTerminal reports whether the campaign can no longer change state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// campaignTransitions lists the allowed lifecycle edges.
var campaignTransitions = map[string][]string{
	CampaignDraft:     {CampaignSending, CampaignFailed, CampaignScheduled},
	CampaignScheduled: {CampaignSending, CampaignFailed, CampaignDraft},
	CampaignSending:   {CampaignCompleted, CampaignPaused},
	CampaignPaused:    {CampaignSending},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range campaignTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
