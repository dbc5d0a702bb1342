package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// Scheduler decides between immediate and deferred expansion. Deferred
// campaigns are stored as scheduled and picked up by Tick once due, so
// they survive restarts.
type Scheduler struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Expander     *Expander
	Lock         lock.Lock
	Queue        queue.Queue
	Log          *logger.Logger
	Interval     time.Duration
	Now          func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ParseScheduledAt reads an RFC3339 time. Empty or unparseable input means
// "send now".
func ParseScheduledAt(raw string, log *logger.Logger) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if log != nil {
			log.Warn("Invalid schedule time, sending immediately", zap.String("scheduledAt", raw), zap.Error(err))
		}
		return nil
	}
	return &t
}

// Schedule submits a draft campaign. With no time, or a time not in the
// future, the campaign is expanded right away. Otherwise it becomes
// scheduled.
func (s *Scheduler) Schedule(ctx context.Context, campaignID int, at *time.Time) (*model.Campaign, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignDraft {
		return nil, fmt.Errorf("campaign %d is %s: %w", campaignID, campaign.Status, appErrors.ErrInvalidTransition)
	}
	if at == nil {
		at = campaign.ScheduledAt
	}

	if at == nil || !at.After(s.now()) {
		return s.Expander.Expand(ctx, campaignID, []string{model.CampaignDraft})
	}

	ok, err := s.CampaignRepo.ScheduleAt(ctx, campaignID, *at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("campaign %d is no longer a draft: %w", campaignID, appErrors.ErrInvalidTransition)
	}
	campaign.Status = model.CampaignScheduled
	campaign.ScheduledAt = at
	s.Log.Info("Campaign scheduled", zap.Int("campaignID", campaignID), zap.Time("scheduledAt", *at))
	queue.Emit(s.Queue, s.Log, queue.TopicCampaignScheduled, snapshot(campaign))
	return campaign, nil
}

// Cancel returns a scheduled campaign to draft. It reports false when the
// campaign was not scheduled anymore, for example because expansion
// already claimed it.
func (s *Scheduler) Cancel(ctx context.Context, campaignID int) (bool, error) {
	ok, err := s.CampaignRepo.CancelSchedule(ctx, campaignID)
	if err != nil {
		return false, err
	}
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if ok {
		s.Log.Info("Campaign schedule cancelled", zap.Int("campaignID", campaignID))
		queue.Emit(s.Queue, s.Log, queue.TopicCampaignUpdated, snapshot(campaign))
	}
	return ok, nil
}

// Tick expands every scheduled campaign whose time has come. One failing
// campaign does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.CampaignRepo.ListDueScheduled(ctx, s.now())
	if err != nil {
		s.Log.Error("Failed to list due campaigns", zap.Error(err))
		return 0
	}

	expanded := 0
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := s.Expander.Expand(ctx, c.ID, []string{model.CampaignScheduled})
		switch {
		case err == nil:
			expanded++
		case errors.Is(err, appErrors.ErrInvalidTransition):
			s.Log.Debug("Scheduled campaign changed before expansion", zap.Int("campaignID", c.ID))
		default:
			s.Log.Warn("Scheduled expansion failed", zap.Int("campaignID", c.ID), zap.Error(err))
		}
	}
	return expanded
}

// Run ticks until ctx is cancelled. Ticks that cannot take the lock are
// skipped.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s.Log.Info("Scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			s.Log.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.Lock == nil {
		s.Tick(ctx)
		return
	}
	ran, err := lock.WithLock(ctx, s.Lock, func(ctx context.Context) { s.Tick(ctx) })
	if err != nil {
		s.Log.Warn("Scheduler lock error", zap.Error(err))
		return
	}
	if !ran {
		s.Log.Debug("Scheduler tick skipped, lock held elsewhere")
	}
}
