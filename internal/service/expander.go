package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

// ChannelLookup resolves the channel a campaign sends through.
type ChannelLookup interface {
	GetChannel(ctx context.Context, id int) (*model.Channel, error)
}

// Expander turns a campaign into one queued message per recipient.
type Expander struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Channels     ChannelLookup
	Spintax      *spintax.Engine
	Queue        queue.Queue
	Log          *logger.Logger
	Now          func() time.Time
}

func (e *Expander) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Expand renders and enqueues every recipient of the campaign if its
// status is one of from. Either all messages are stored and the campaign
// is sending, or nothing is stored and the campaign is failed. A campaign
// that left from in the meantime is returned untouched with
// ErrInvalidTransition.
func (e *Expander) Expand(ctx context.Context, campaignID int, from []string) (*model.Campaign, error) {
	campaign, err := e.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !statusIn(campaign.Status, from) {
		return campaign, fmt.Errorf("campaign %d is %s: %w", campaignID, campaign.Status, appErrors.ErrInvalidTransition)
	}

	msgs, err := e.render(ctx, campaign)
	if err == nil {
		err = e.CampaignRepo.Expand(ctx, campaignID, from, msgs)
	}
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidTransition) {
			return campaign, err
		}
		return nil, e.fail(ctx, campaign, from, err)
	}

	e.Log.Info("Campaign expanded",
		zap.Int("campaignID", campaignID),
		zap.Int("recipients", len(msgs)))
	campaign.Status = model.CampaignSending
	campaign.TotalRecipients = len(msgs)
	queue.Emit(e.Queue, e.Log, queue.TopicCampaignSending, snapshot(campaign))

	if len(msgs) == 0 {
		ok, err := e.CampaignRepo.TransitionStatus(ctx, campaignID, []string{model.CampaignSending}, model.CampaignCompleted, "")
		if err != nil {
			return campaign, err
		}
		if ok {
			campaign.Status = model.CampaignCompleted
			queue.Emit(e.Queue, e.Log, queue.TopicCampaignCompleted, snapshot(campaign))
		}
	}
	return campaign, nil
}

func (e *Expander) render(ctx context.Context, campaign *model.Campaign) ([]*model.QueuedMessage, error) {
	if e.Channels != nil {
		if _, err := e.Channels.GetChannel(ctx, campaign.ChannelID); err != nil {
			return nil, fmt.Errorf("resolve channel %d: %w", campaign.ChannelID, err)
		}
	}
	contacts, err := e.ContactRepo.ListByGroups(ctx, campaign.RecipientGroups)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	now := e.now()
	id := campaign.ID
	msgs := make([]*model.QueuedMessage, 0, len(contacts))
	for _, c := range contacts {
		if c.Phone == "" {
			e.Log.Debug("Skipping contact without address", zap.Int("contactID", c.ID))
			continue
		}
		msgs = append(msgs, &model.QueuedMessage{
			CampaignID:  &id,
			ChannelID:   campaign.ChannelID,
			Recipient:   c.Phone,
			Body:        RenderMessage(e.Spintax, campaign.BaseTemplate, c.Fields()),
			MediaURL:    campaign.MediaURL,
			Status:      model.MessagePending,
			ScheduledAt: now,
			CreatedAt:   now,
		})
	}
	return msgs, nil
}

func (e *Expander) fail(ctx context.Context, campaign *model.Campaign, from []string, cause error) error {
	expErr := &appErrors.ExpansionError{CampaignID: campaign.ID, Err: cause}
	e.Log.Error("Campaign expansion failed", zap.Int("campaignID", campaign.ID), zap.Error(cause))

	ok, err := e.CampaignRepo.TransitionStatus(ctx, campaign.ID, from, model.CampaignFailed, cause.Error())
	if err != nil {
		e.Log.Error("Failed to mark campaign failed", zap.Int("campaignID", campaign.ID), zap.Error(err))
		return expErr
	}
	if ok {
		campaign.Status = model.CampaignFailed
		campaign.ErrorMessage = cause.Error()
		queue.Emit(e.Queue, e.Log, queue.TopicCampaignFailed, snapshot(campaign))
	}
	return expErr
}

// snapshot copies a campaign for publishing. In-process subscribers run
// asynchronously and must not see later status changes.
func snapshot(c *model.Campaign) *model.Campaign {
	cp := *c
	return &cp
}

func statusIn(status string, list []string) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
