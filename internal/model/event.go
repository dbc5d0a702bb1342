// internal/model/event.go
package model

import "time"

// Analytics event types.
const (
	AnalyticsMessageReceived = "message_received"
	AnalyticsMessageRead     = "message_read"
	AnalyticsAutoReply       = "auto_reply"
)

// AnalyticsEvent is a recorded interaction on a channel.
type AnalyticsEvent struct {
	ID        int       `db:"id" json:"id"`
	ChannelID int       `db:"channel_id" json:"channel_id"`
	Type      string    `db:"type" json:"type"`
	Contact   string    `db:"contact" json:"contact"`
	Payload   string    `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InboundMessage is a message received from the gateway.
type InboundMessage struct {
	ChannelID  int       `json:"channel_id"`
	From       string    `json:"from"`
	Text       string    `json:"text"`
	FromMe     bool      `json:"from_me"`
	ReceivedAt time.Time `json:"received_at"`
}

// Receipt kinds.
const (
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
)

// Receipt is a delivery or read acknowledgement for a sent message.
type Receipt struct {
	ChannelID  int       `json:"channel_id"`
	ExternalID string    `json:"external_id"`
	Kind       string    `json:"kind"`
	At         time.Time `json:"at"`
}
