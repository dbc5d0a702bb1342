// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	MessageRepo  repository.QueuedMessageRepositoryInterface
	Scheduler    *Scheduler
	Spintax      *spintax.Engine
	Queue        queue.Queue
	Log          *logger.Logger
}

// CampaignInput is what an operator submits for a new or edited campaign.
type CampaignInput struct {
	Name            string
	ChannelID       int
	BaseTemplate    string
	RecipientGroups []string
	MediaURL        string
	RateLimit       int
	ScheduledAt     *time.Time
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func validateCampaign(in CampaignInput) error {
	verr := &appErrors.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "is required")
	}
	if in.ChannelID <= 0 {
		verr.Add("channel_id", "is required")
	}
	if strings.TrimSpace(in.BaseTemplate) == "" {
		verr.Add("base_template", "template cannot be empty")
	} else if errs := ValidateTemplate(in.BaseTemplate); len(errs) > 0 {
		verr.Add("base_template", strings.Join(errs, "; "))
	}
	if in.RateLimit < 0 {
		verr.Add("rate_limit", "cannot be negative")
	}
	for _, g := range in.RecipientGroups {
		if strings.TrimSpace(g) == "" {
			verr.Add("recipient_groups", "group names cannot be blank")
			break
		}
	}
	return verr.OrNil()
}

// rateLimitOrDefault stores the effective limit so the API never shows 0.
func rateLimitOrDefault(n int) int {
	if n == 0 {
		return model.DefaultRateLimit
	}
	return n
}

// CreateCampaign stores a draft campaign.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CampaignInput) (*model.Campaign, error) {
	if err := validateCampaign(in); err != nil {
		return nil, err
	}
	c := &model.Campaign{
		Name:            strings.TrimSpace(in.Name),
		ChannelID:       in.ChannelID,
		Status:          model.CampaignDraft,
		BaseTemplate:    in.BaseTemplate,
		RecipientGroups: in.RecipientGroups,
		MediaURL:        in.MediaURL,
		RateLimit:       rateLimitOrDefault(in.RateLimit),
		ScheduledAt:     in.ScheduledAt,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.Info("Campaign created", zap.Int("campaignID", c.ID), zap.String("name", c.Name))
	queue.Emit(s.Queue, s.Log, queue.TopicCampaignCreated, snapshot(c))
	return c, nil
}

// UpdateCampaign edits a draft campaign.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, in CampaignInput) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.ChannelID = c.ChannelID
	if err := validateCampaign(in); err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		return nil, fmt.Errorf("campaign %d is %s: %w", id, c.Status, appErrors.ErrInvalidTransition)
	}
	c.Name = strings.TrimSpace(in.Name)
	c.BaseTemplate = in.BaseTemplate
	c.RecipientGroups = in.RecipientGroups
	c.MediaURL = in.MediaURL
	c.RateLimit = rateLimitOrDefault(in.RateLimit)
	c.ScheduledAt = in.ScheduledAt
	if err := s.CampaignRepo.Update(ctx, c); err != nil {
		return nil, err
	}
	queue.Emit(s.Queue, s.Log, queue.TopicCampaignUpdated, snapshot(c))
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize, channelID int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channelID, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats returns the campaign and its per-status
// message counts.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		s.Log.Error("Failed to load campaign stats", zap.Int("campaignID", campaignID), zap.Error(err))
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// RenderPreview renders the campaign (or an override template) for one
// contact, exactly as expansion would.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, contactID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	contact, err := s.ContactRepo.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", appErrors.NewValidationError("template", "template cannot be empty")
	}
	if errs := ValidateTemplate(template); len(errs) > 0 {
		return "", appErrors.NewValidationError("template", strings.Join(errs, "; "))
	}

	return RenderMessage(s.Spintax, template, contact.Fields()), nil
}

// ScheduleCampaign submits a draft for immediate or deferred sending.
func (s *CampaignService) ScheduleCampaign(ctx context.Context, campaignID int, at *time.Time) (*model.Campaign, error) {
	return s.Scheduler.Schedule(ctx, campaignID, at)
}

// CancelScheduledCampaign returns a scheduled campaign to draft. Cancelling
// after expansion started is a no-op and reports false.
func (s *CampaignService) CancelScheduledCampaign(ctx context.Context, campaignID int) (bool, error) {
	return s.Scheduler.Cancel(ctx, campaignID)
}

// PauseCampaign stops the dispatcher from draining the campaign.
func (s *CampaignService) PauseCampaign(ctx context.Context, campaignID int) (*model.Campaign, error) {
	return s.transition(ctx, campaignID, model.CampaignSending, model.CampaignPaused, queue.TopicCampaignPaused)
}

// ResumeCampaign lets the dispatcher drain a paused campaign again. Nothing
// is re-expanded. A campaign with nothing left to send completes.
func (s *CampaignService) ResumeCampaign(ctx context.Context, campaignID int) (*model.Campaign, error) {
	c, err := s.transition(ctx, campaignID, model.CampaignPaused, model.CampaignSending, queue.TopicCampaignResumed)
	if err != nil {
		return nil, err
	}
	remaining, err := s.MessageRepo.CountPending(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return c, nil
	}
	ok, err := s.CampaignRepo.TransitionStatus(ctx, campaignID, []string{model.CampaignSending}, model.CampaignCompleted, "")
	if err != nil {
		return nil, err
	}
	if ok {
		c.Status = model.CampaignCompleted
		queue.Emit(s.Queue, s.Log, queue.TopicCampaignCompleted, snapshot(c))
	}
	return c, nil
}

func (s *CampaignService) transition(ctx context.Context, campaignID int, from, to, topic string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(c.Status, to) || c.Status != from {
		return nil, fmt.Errorf("campaign %d cannot go from %s to %s: %w", campaignID, c.Status, to, appErrors.ErrInvalidTransition)
	}
	ok, err := s.CampaignRepo.TransitionStatus(ctx, campaignID, []string{from}, to, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("campaign %d changed concurrently: %w", campaignID, appErrors.ErrInvalidTransition)
	}
	c.Status = to
	s.Log.Info("Campaign status changed", zap.Int("campaignID", campaignID), zap.String("from", from), zap.String("to", to))
	queue.Emit(s.Queue, s.Log, topic, snapshot(c))
	return c, nil
}
