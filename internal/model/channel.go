// internal/model/channel.go
package model

import "time"

// Channel statuses.
const (
	ChannelConnected    = "connected"
	ChannelConnecting   = "connecting"
	ChannelQRPending    = "qr_pending"
	ChannelDisconnected = "disconnected"
)

type Channel struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Status    string    `db:"status" json:"status"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
