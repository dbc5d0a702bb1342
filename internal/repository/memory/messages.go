package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

type QueuedMessageRepository struct {
	db *DB
}

func (r *QueuedMessageRepository) Create(ctx context.Context, msg *model.QueuedMessage) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = msg.CreatedAt
	}
	if msg.Status == "" {
		msg.Status = model.MessagePending
	}
	msg.ID = r.db.next("messages")
	r.db.messages[msg.ID] = copyMessage(msg)
	return nil
}

func (r *QueuedMessageRepository) GetByID(ctx context.Context, id int) (*model.QueuedMessage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.messages[id]
	if !ok {
		return nil, fmt.Errorf("queued message %d: %w", id, appErrors.ErrNotFound)
	}
	return copyMessage(m), nil
}

func (r *QueuedMessageRepository) ListPendingByChannel(ctx context.Context, channelID int, now time.Time) ([]*model.QueuedMessage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.QueuedMessage
	for _, m := range r.db.messages {
		if m.ChannelID != channelID || m.Status != model.MessagePending || m.ScheduledAt.After(now) {
			continue
		}
		if m.CampaignID != nil {
			c, ok := r.db.campaigns[*m.CampaignID]
			if !ok || c.Status != model.CampaignSending {
				continue
			}
		}
		out = append(out, copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *QueuedMessageRepository) MarkSent(ctx context.Context, id int, externalID string, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.messages[id]
	if !ok || m.Status != model.MessagePending {
		return false, nil
	}
	m.Status = model.MessageSent
	m.ExternalID = externalID
	m.SentAt = &at
	return true, nil
}

func (r *QueuedMessageRepository) MarkFailed(ctx context.Context, id int, errorMessage string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.messages[id]
	if !ok || m.Status != model.MessagePending {
		return false, nil
	}
	m.Status = model.MessageFailed
	m.ErrorMessage = errorMessage
	return true, nil
}

func (r *QueuedMessageRepository) MarkDelivered(ctx context.Context, channelID int, externalID string, at time.Time) (*model.QueuedMessage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.messages {
		if m.ChannelID == channelID && m.ExternalID == externalID && m.Status == model.MessageSent {
			m.Status = model.MessageDelivered
			m.DeliveredAt = &at
			return copyMessage(m), nil
		}
	}
	return nil, nil
}

func (r *QueuedMessageRepository) MarkResponded(ctx context.Context, channelID int, recipient string, at time.Time) (*model.QueuedMessage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var latest *model.QueuedMessage
	for _, m := range r.db.messages {
		if m.ChannelID != channelID || m.Recipient != recipient || m.CampaignID == nil || m.RespondedAt != nil {
			continue
		}
		if m.Status != model.MessageSent && m.Status != model.MessageDelivered {
			continue
		}
		if latest == nil || newer(m, latest) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	latest.RespondedAt = &at
	return copyMessage(latest), nil
}

func newer(a, b *model.QueuedMessage) bool {
	if a.SentAt != nil && b.SentAt != nil && !a.SentAt.Equal(*b.SentAt) {
		return a.SentAt.After(*b.SentAt)
	}
	return a.ID > b.ID
}

func (r *QueuedMessageRepository) CountPending(ctx context.Context, campaignID int) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, m := range r.db.messages {
		if m.CampaignID != nil && *m.CampaignID == campaignID && m.Status == model.MessagePending {
			n++
		}
	}
	return n, nil
}

// Messages returns a snapshot of every queued message ordered by id.
func (d *DB) Messages() []*model.QueuedMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*model.QueuedMessage, 0, len(d.messages))
	for _, m := range d.messages {
		out = append(out, copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ repository.QueuedMessageRepositoryInterface = (*QueuedMessageRepository)(nil)
