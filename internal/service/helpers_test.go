package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatcher/internal/gateway"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/repository/memory"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

// recordingQueue keeps every published topic and payload in order.
type recordingQueue struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.topics = append(q.topics, topic)
	q.payloads = append(q.payloads, payload)
	return nil
}

// Payloads returns what was published under topic.
func (q *recordingQueue) Payloads(topic string) []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []any
	for i, t := range q.topics {
		if t == topic {
			out = append(out, q.payloads[i])
		}
	}
	return out
}

func (q *recordingQueue) Subscribe(string, func(payload any) error) error { return nil }

func (q *recordingQueue) Topics() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.topics...)
}

func (q *recordingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.topics = nil
	q.payloads = nil
}

// harness wires the engine over the in-memory store with a fake clock.
type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *memory.DB
	store    *repository.Store
	gateway  *gateway.MockGateway
	registry *gateway.Registry
	events   *recordingQueue

	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	campaigns  *service.CampaignService
	expander   *service.Expander
	scheduler  *service.Scheduler
	dispatcher *service.Dispatcher
	autoReply  *service.AutoReplyService
	inbound    *service.InboundService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		db:     memory.NewDB(),
		events: &recordingQueue{},
		now:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	log := logger.NewNop()
	h.store = memory.NewStore(h.db)
	h.gateway = gateway.NewMockGateway(0, log)
	h.registry = gateway.NewRegistry(h.store.Channels)
	engine := spintax.NewEngine(1, 2)

	h.expander = &service.Expander{
		CampaignRepo: h.store.Campaigns,
		ContactRepo:  h.store.Contacts,
		Channels:     h.store.Channels,
		Spintax:      engine,
		Queue:        h.events,
		Log:          log,
		Now:          h.clock,
	}
	h.scheduler = &service.Scheduler{
		CampaignRepo: h.store.Campaigns,
		Expander:     h.expander,
		Lock:         lock.NewLocalLock(),
		Queue:        h.events,
		Log:          log,
		Now:          h.clock,
	}
	h.campaigns = &service.CampaignService{
		CampaignRepo: h.store.Campaigns,
		ContactRepo:  h.store.Contacts,
		MessageRepo:  h.store.Messages,
		Scheduler:    h.scheduler,
		Spintax:      engine,
		Queue:        h.events,
		Log:          log,
	}
	h.dispatcher = &service.Dispatcher{
		MessageRepo:       h.store.Messages,
		CampaignRepo:      h.store.Campaigns,
		Gateway:           h.gateway,
		Registry:          h.registry,
		Lock:              lock.NewLocalLock(),
		Queue:             h.events,
		Log:               log,
		InterMessageDelay: 2 * time.Second,
		DefaultRateLimit:  model.DefaultRateLimit,
		Now:               h.clock,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return ctx.Err()
		},
	}
	h.autoReply = &service.AutoReplyService{
		RuleRepo:    h.store.Rules,
		MessageRepo: h.store.Messages,
		ContactRepo: h.store.Contacts,
		Analytics:   h.store.Analytics,
		Spintax:     engine,
		Queue:       h.events,
		Log:         log,
		Location:    time.UTC,
		Now:         h.clock,
	}
	h.inbound = &service.InboundService{
		MessageRepo:  h.store.Messages,
		CampaignRepo: h.store.Campaigns,
		Analytics:    h.store.Analytics,
		AutoReply:    h.autoReply,
		Registry:     h.registry,
		Queue:        h.events,
		Log:          log,
		Now:          h.clock,
	}
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) sleepCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sleeps)
}

func (h *harness) addChannel(status string) int {
	h.t.Helper()
	ch := &model.Channel{Name: "line", Status: status}
	require.NoError(h.t, h.store.Channels.CreateChannel(h.ctx, ch))
	return ch.ID
}

func (h *harness) addContact(name, phone string, groups ...string) *model.Contact {
	h.t.Helper()
	c := &model.Contact{Name: name, Phone: phone, Groups: groups}
	require.NoError(h.t, h.store.Contacts.Create(h.ctx, c))
	return c
}

func (h *harness) addCampaign(channelID, rateLimit int, template string, groups ...string) *model.Campaign {
	h.t.Helper()
	c, err := h.campaigns.CreateCampaign(h.ctx, service.CampaignInput{
		Name:            "campaign",
		ChannelID:       channelID,
		BaseTemplate:    template,
		RecipientGroups: groups,
		RateLimit:       rateLimit,
	})
	require.NoError(h.t, err)
	return c
}

func (h *harness) campaign(id int) *model.Campaign {
	h.t.Helper()
	c, err := h.store.Campaigns.GetByID(h.ctx, id)
	require.NoError(h.t, err)
	return c
}

func (h *harness) messagesFor(campaignID int) []*model.QueuedMessage {
	var out []*model.QueuedMessage
	for _, m := range h.db.Messages() {
		if m.CampaignID != nil && *m.CampaignID == campaignID {
			out = append(out, m)
		}
	}
	return out
}
