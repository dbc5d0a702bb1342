// Package memory is an in-process Data Store for development and tests.
// It enforces the same conditional updates as the Postgres repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// DB holds every table behind one mutex.
type DB struct {
	mu sync.Mutex

	campaigns map[int]*model.Campaign
	messages  map[int]*model.QueuedMessage
	contacts  map[int]*model.Contact
	rules     map[int]*model.AutoReplyRule
	channels  map[int]*model.Channel
	events    []*model.AnalyticsEvent

	seq map[string]int
}

func NewDB() *DB {
	return &DB{
		campaigns: make(map[int]*model.Campaign),
		messages:  make(map[int]*model.QueuedMessage),
		contacts:  make(map[int]*model.Contact),
		rules:     make(map[int]*model.AutoReplyRule),
		channels:  make(map[int]*model.Channel),
		seq:       make(map[string]int),
	}
}

// NewStore returns a repository.Store backed by db.
func NewStore(db *DB) *repository.Store {
	return &repository.Store{
		Campaigns: &CampaignRepository{db: db},
		Messages:  &QueuedMessageRepository{db: db},
		Contacts:  &ContactRepository{db: db},
		Rules:     &AutoReplyRepository{db: db},
		Channels:  &ChannelRepository{db: db},
		Analytics: &AnalyticsRepository{db: db},
	}
}

func (d *DB) next(table string) int {
	d.seq[table]++
	return d.seq[table]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func copyCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.RecipientGroups = append([]string(nil), c.RecipientGroups...)
	return &cp
}

func copyMessage(m *model.QueuedMessage) *model.QueuedMessage {
	cp := *m
	return &cp
}

// ====================== Campaigns ======================

type CampaignRepository struct {
	db *DB
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c.ID = r.db.next("campaigns")
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	r.db.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.campaigns[c.ID]
	if !ok || cur.Status != model.CampaignDraft {
		return fmt.Errorf("campaign %d is not a draft: %w", c.ID, appErrors.ErrInvalidTransition)
	}
	cur.Name = c.Name
	cur.BaseTemplate = c.BaseTemplate
	cur.RecipientGroups = append([]string(nil), c.RecipientGroups...)
	cur.MediaURL = c.MediaURL
	cur.RateLimit = c.RateLimit
	cur.ScheduledAt = c.ScheduledAt
	touch(cur)
	return nil
}

func touch(c *model.Campaign) {
	now := time.Now()
	c.UpdatedAt = &now
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c), nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit, channelID int, status string) ([]*model.Campaign, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var matched []*model.Campaign
	for _, c := range r.db.campaigns {
		if channelID != 0 && c.ChannelID != channelID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		matched = append(matched, copyCampaign(c))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int, from []string, to, errorMessage string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || !contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.ErrorMessage = errorMessage
	touch(c)
	return true, nil
}

func (r *CampaignRepository) ScheduleAt(ctx context.Context, id int, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.Status != model.CampaignDraft {
		return false, nil
	}
	c.Status = model.CampaignScheduled
	c.ScheduledAt = &at
	touch(c)
	return true, nil
}

func (r *CampaignRepository) CancelSchedule(ctx context.Context, id int) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok || c.Status != model.CampaignScheduled {
		return false, nil
	}
	c.Status = model.CampaignDraft
	c.ScheduledAt = nil
	touch(c)
	return true, nil
}

func (r *CampaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var due []*model.Campaign
	for _, c := range r.db.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, copyCampaign(c))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	return due, nil
}

func (r *CampaignRepository) Expand(ctx context.Context, id int, from []string, msgs []*model.QueuedMessage) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if !contains(from, c.Status) {
		return fmt.Errorf("campaign %d is %s: %w", id, c.Status, appErrors.ErrInvalidTransition)
	}
	// validate the whole batch before writing any of it
	for i, m := range msgs {
		if m.CampaignID == nil || *m.CampaignID != id {
			return fmt.Errorf("message %d does not belong to campaign %d", i, id)
		}
		if m.Recipient == "" {
			return fmt.Errorf("message %d has no recipient", i)
		}
	}
	for _, m := range msgs {
		m.ID = r.db.next("messages")
		r.db.messages[m.ID] = copyMessage(m)
	}
	c.Status = model.CampaignSending
	c.TotalRecipients = len(msgs)
	c.ErrorMessage = ""
	touch(c)
	return nil
}

func (r *CampaignRepository) IncrementCounters(ctx context.Context, id int, sent, delivered, responded int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.MessagesSent += sent
	if c.MessagesSent > c.TotalRecipients {
		c.MessagesSent = c.TotalRecipients
	}
	c.MessagesDelivered += delivered
	c.MessagesResponded += responded
	touch(c)
	return nil
}

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, id int) (map[string]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "delivered": 0, "failed": 0}
	for _, m := range r.db.messages {
		if m.CampaignID != nil && *m.CampaignID == id {
			stats[m.Status]++
			stats["total"]++
		}
	}
	return stats, nil
}

var _ repository.CampaignRepositoryInterface = (*CampaignRepository)(nil)
