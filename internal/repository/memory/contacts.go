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

// ====================== Contacts ======================

type ContactRepository struct {
	db *DB
}

func copyContact(c *model.Contact) *model.Contact {
	cp := *c
	cp.Groups = append([]string(nil), c.Groups...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.contacts {
		if existing.Phone == c.Phone {
			return fmt.Errorf("contact with phone %s already exists", c.Phone)
		}
	}
	c.ID = r.db.next("contacts")
	r.db.contacts[c.ID] = copyContact(c)
	return nil
}

func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %d: %w", id, appErrors.ErrNotFound)
	}
	return copyContact(c), nil
}

func (r *ContactRepository) GetByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.contacts {
		if c.Phone == phone {
			return copyContact(c), nil
		}
	}
	return nil, fmt.Errorf("contact %s: %w", phone, appErrors.ErrNotFound)
}

func (r *ContactRepository) ListByGroups(ctx context.Context, groups []string) ([]*model.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.Contact
	for _, c := range r.db.contacts {
		if c.InGroups(groups) {
			out = append(out, copyContact(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ====================== Auto-reply rules ======================

type AutoReplyRepository struct {
	db *DB
}

func copyRule(rule *model.AutoReplyRule) *model.AutoReplyRule {
	cp := *rule
	cp.Keywords = append([]string(nil), rule.Keywords...)
	return &cp
}

func (r *AutoReplyRepository) Create(ctx context.Context, rule *model.AutoReplyRule) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	rule.ID = r.db.next("rules")
	rule.CreatedAt, rule.UpdatedAt = now, now
	r.db.rules[rule.ID] = copyRule(rule)
	return nil
}

func (r *AutoReplyRepository) Update(ctx context.Context, rule *model.AutoReplyRule) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.rules[rule.ID]
	if !ok {
		return appErrors.NewRuleNotFound(rule.ID)
	}
	rule.ChannelID = cur.ChannelID
	rule.CreatedAt = cur.CreatedAt
	rule.UpdatedAt = time.Now()
	r.db.rules[rule.ID] = copyRule(rule)
	return nil
}

func (r *AutoReplyRepository) Delete(ctx context.Context, id int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.rules[id]; !ok {
		return appErrors.NewRuleNotFound(id)
	}
	delete(r.db.rules, id)
	return nil
}

func (r *AutoReplyRepository) GetByID(ctx context.Context, id int) (*model.AutoReplyRule, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rule, ok := r.db.rules[id]
	if !ok {
		return nil, appErrors.NewRuleNotFound(id)
	}
	return copyRule(rule), nil
}

func (r *AutoReplyRepository) ListByChannel(ctx context.Context, channelID int, activeOnly bool) ([]*model.AutoReplyRule, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.AutoReplyRule
	for _, rule := range r.db.rules {
		if rule.ChannelID != channelID || (activeOnly && !rule.Active) {
			continue
		}
		out = append(out, copyRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ====================== Channels ======================

type ChannelRepository struct {
	db *DB
}

func (r *ChannelRepository) CreateChannel(ctx context.Context, ch *model.Channel) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if ch.Status == "" {
		ch.Status = model.ChannelDisconnected
	}
	ch.ID = r.db.next("channels")
	ch.UpdatedAt = time.Now()
	cp := *ch
	r.db.channels[ch.ID] = &cp
	return nil
}

func (r *ChannelRepository) GetChannel(ctx context.Context, id int) (*model.Channel, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ch, ok := r.db.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", id, appErrors.ErrNotFound)
	}
	cp := *ch
	return &cp, nil
}

func (r *ChannelRepository) ListChannels(ctx context.Context) ([]*model.Channel, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*model.Channel, 0, len(r.db.channels))
	for _, ch := range r.db.channels {
		cp := *ch
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ChannelRepository) UpdateChannelStatus(ctx context.Context, id int, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ch, ok := r.db.channels[id]
	if !ok {
		return fmt.Errorf("channel %d: %w", id, appErrors.ErrNotFound)
	}
	ch.Status = status
	ch.UpdatedAt = time.Now()
	return nil
}

// ====================== Analytics ======================

type AnalyticsRepository struct {
	db *DB
}

func (r *AnalyticsRepository) RecordEvent(ctx context.Context, e *model.AnalyticsEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.ID = r.db.next("events")
	cp := *e
	r.db.events = append(r.db.events, &cp)
	return nil
}

func (r *AnalyticsRepository) HasEvent(ctx context.Context, channelID int, contact, eventType string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.events {
		if e.ChannelID == channelID && e.Contact == contact && e.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

// Events returns a snapshot of the recorded analytics events.
func (d *DB) Events() []*model.AnalyticsEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*model.AnalyticsEvent, 0, len(d.events))
	for _, e := range d.events {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

var (
	_ repository.ContactRepositoryInterface   = (*ContactRepository)(nil)
	_ repository.AutoReplyRepositoryInterface = (*AutoReplyRepository)(nil)
	_ repository.ChannelRepositoryInterface   = (*ChannelRepository)(nil)
	_ repository.AnalyticsRepositoryInterface = (*AnalyticsRepository)(nil)
)
