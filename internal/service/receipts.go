package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/gateway"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// InboundService applies what the gateway reports back: inbound messages,
// delivery and read receipts, and channel status changes.
type InboundService struct {
	MessageRepo  repository.QueuedMessageRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
	Analytics    repository.AnalyticsRepositoryInterface
	AutoReply    *AutoReplyService
	Registry     *gateway.Registry
	Queue        queue.Queue
	Log          *logger.Logger
	Now          func() time.Time
}

func (s *InboundService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// HandleMessage counts a response to the sender's latest campaign message
// and runs the auto-reply rules.
func (s *InboundService) HandleMessage(ctx context.Context, msg model.InboundMessage) (*model.QueuedMessage, error) {
	if msg.FromMe {
		return nil, nil
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now()
	}

	responded, err := s.MessageRepo.MarkResponded(ctx, msg.ChannelID, msg.From, msg.ReceivedAt)
	if err != nil {
		s.Log.Warn("Failed to mark response", zap.String("from", msg.From), zap.Error(err))
	} else if responded != nil && responded.CampaignID != nil {
		if err := s.CampaignRepo.IncrementCounters(ctx, *responded.CampaignID, 0, 0, 1); err != nil {
			s.Log.Error("Failed to increment responded counter", zap.Int("campaignID", *responded.CampaignID), zap.Error(err))
		}
	}

	if s.AutoReply == nil {
		return nil, nil
	}
	return s.AutoReply.HandleInbound(ctx, msg)
}

// HandleReceipt moves a sent message to delivered, or records a read.
// Receipts for unknown or already delivered messages are ignored.
func (s *InboundService) HandleReceipt(ctx context.Context, r model.Receipt) error {
	if r.At.IsZero() {
		r.At = s.now()
	}
	switch r.Kind {
	case model.ReceiptDelivered:
		msg, err := s.MessageRepo.MarkDelivered(ctx, r.ChannelID, r.ExternalID, r.At)
		if err != nil {
			return err
		}
		if msg == nil {
			s.Log.Debug("Delivery receipt for unknown message", zap.String("externalID", r.ExternalID))
			return nil
		}
		if msg.CampaignID != nil {
			if err := s.CampaignRepo.IncrementCounters(ctx, *msg.CampaignID, 0, 1, 0); err != nil {
				return err
			}
		}
		queue.Emit(s.Queue, s.Log, queue.TopicMessageDelivered, msg)
		return nil
	case model.ReceiptRead:
		return s.Analytics.RecordEvent(ctx, &model.AnalyticsEvent{
			ChannelID: r.ChannelID,
			Type:      model.AnalyticsMessageRead,
			Contact:   r.ExternalID,
			CreatedAt: r.At,
		})
	default:
		return appErrors.NewValidationError("kind", fmt.Sprintf("unknown receipt kind %q", r.Kind))
	}
}

// HandleStatus records a channel connection change.
func (s *InboundService) HandleStatus(ctx context.Context, channelID int, status string) error {
	switch status {
	case model.ChannelConnected, model.ChannelConnecting, model.ChannelQRPending, model.ChannelDisconnected:
	default:
		return appErrors.NewValidationError("status", fmt.Sprintf("unknown channel status %q", status))
	}
	if err := s.Registry.SetStatus(ctx, channelID, status); err != nil {
		return err
	}
	s.Log.Info("Channel status changed", zap.Int("channelID", channelID), zap.String("status", status))
	queue.Emit(s.Queue, s.Log, queue.TopicChannelStatus, map[string]any{"channel_id": channelID, "status": status})
	return nil
}
