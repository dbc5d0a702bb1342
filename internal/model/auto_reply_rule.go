// internal/model/auto_reply_rule.go
package model

import "time"

// Trigger types.
const (
	TriggerContains     = "contains"
	TriggerExact        = "exact"
	TriggerStartsWith   = "starts_with"
	TriggerEndsWith     = "ends_with"
	TriggerAny          = "any"
	TriggerFirstMessage = "first_message"
)

// TriggerTypes is every supported trigger type.
var TriggerTypes = []string{
	TriggerContains, TriggerExact, TriggerStartsWith, TriggerEndsWith, TriggerAny, TriggerFirstMessage,
}

type AutoReplyRule struct {
	ID                 int       `db:"id" json:"id"`
	ChannelID          int       `db:"channel_id" json:"channel_id"`
	Name               string    `db:"name" json:"name"`
	Keywords           []string  `db:"keywords" json:"keywords"`
	TriggerType        string    `db:"trigger_type" json:"trigger_type"`
	ResponseTemplate   string    `db:"response_template" json:"response_template"`
	DelaySeconds       int       `db:"delay_seconds" json:"delay_seconds"`
	Active             bool      `db:"active" json:"active"`
	BusinessHoursStart string    `db:"business_hours_start" json:"business_hours_start,omitempty"` // HH:MM
	BusinessHoursEnd   string    `db:"business_hours_end" json:"business_hours_end,omitempty"`     // HH:MM
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// NeedsKeywords reports whether the trigger type matches against keywords.
func NeedsKeywords(triggerType string) bool {
	switch triggerType {
	case TriggerContains, TriggerExact, TriggerStartsWith, TriggerEndsWith:
		return true
	}
	return false
}
