package gateway

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
)

// SentMessage is a message accepted by the mock gateway.
type SentMessage struct {
	ChannelID  int
	Recipient  string
	Body       string
	MediaURL   string
	ExternalID string
}

// MockGateway accepts messages without a transport. FailRate is the share
// of sends that fail, 0 never fails.
type MockGateway struct {
	FailRate float64
	Log      *logger.Logger

	mu   sync.Mutex
	sent []SentMessage
}

func NewMockGateway(failRate float64, log *logger.Logger) *MockGateway {
	if log == nil {
		log = logger.NewNop()
	}
	return &MockGateway{FailRate: failRate, Log: log.Named("mock-gateway")}
}

func (g *MockGateway) Send(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.FailRate > 0 && rand.Float64() < g.FailRate {
		return "", &SendError{ChannelID: channelID, Recipient: recipient, Retryable: true, Err: errors.New("mock sending failed")}
	}
	id := uuid.NewString()
	g.mu.Lock()
	g.sent = append(g.sent, SentMessage{ChannelID: channelID, Recipient: recipient, Body: body, MediaURL: mediaURL, ExternalID: id})
	g.mu.Unlock()
	g.Log.Debug("Mock send", zap.Int("channelID", channelID), zap.String("recipient", recipient))
	return id, nil
}

// Sent returns a copy of everything accepted so far.
func (g *MockGateway) Sent() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SentMessage(nil), g.sent...)
}
