// Package gateway is the boundary to the messaging transport: sending,
// and the set of channels currently able to send.
package gateway

import (
	"context"
	"fmt"
)

// Gateway sends one message over a channel and returns the provider's
// message id, used later to match receipts.
type Gateway interface {
	Send(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error)
}

// SendError is a failed delivery attempt for a single message.
type SendError struct {
	ChannelID int
	Recipient string
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s on channel %d: %v", e.Recipient, e.ChannelID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error)

func (f GatewayFunc) Send(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error) {
	return f(ctx, channelID, recipient, body, mediaURL)
}
