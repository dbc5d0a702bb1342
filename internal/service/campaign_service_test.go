package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

func strPtr(s string) *string { return &s }

func autoAnyRule() service.RuleInput {
	return service.RuleInput{Name: "any", TriggerType: model.TriggerAny, ResponseTemplate: "Thanks!", Active: true}
}

func TestCreateCampaignValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name  string
		in    service.CampaignInput
		field string
	}{
		{"no name", service.CampaignInput{ChannelID: 1, BaseTemplate: "hi"}, "name"},
		{"no channel", service.CampaignInput{Name: "n", BaseTemplate: "hi"}, "channel_id"},
		{"empty template", service.CampaignInput{Name: "n", ChannelID: 1, BaseTemplate: " "}, "base_template"},
		{"empty option", service.CampaignInput{Name: "n", ChannelID: 1, BaseTemplate: "{a|b|}"}, "base_template"},
		{"unmatched brace", service.CampaignInput{Name: "n", ChannelID: 1, BaseTemplate: "{a|b"}, "base_template"},
		{"negative rate", service.CampaignInput{Name: "n", ChannelID: 1, BaseTemplate: "hi", RateLimit: -1}, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.campaigns.CreateCampaign(h.ctx, tt.in)
			var verr *appErrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestCreateCampaignAcceptsPlaceholders(t *testing.T) {
	h := newHarness(t)
	c, err := h.campaigns.CreateCampaign(h.ctx, service.CampaignInput{
		Name: "promo", ChannelID: 1, BaseTemplate: "{Hi|Hello} {name}, {city} deals",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, model.DefaultRateLimit, c.EffectiveRateLimit())
	assert.Equal(t, []string{queue.TopicCampaignCreated}, h.events.Topics())
}

func TestCreateCampaignStoresDefaultRateLimit(t *testing.T) {
	h := newHarness(t)
	c := h.addCampaign(1, 0, "Hi")
	assert.Equal(t, model.DefaultRateLimit, c.RateLimit)
	assert.Equal(t, 30, h.campaign(c.ID).RateLimit)

	updated, err := h.campaigns.UpdateCampaign(h.ctx, c.ID, service.CampaignInput{Name: "n", BaseTemplate: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRateLimit, updated.RateLimit)
}

func TestUpdateCampaignOnlyDrafts(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	c := h.addCampaign(ch, 5, "Hi")

	updated, err := h.campaigns.UpdateCampaign(h.ctx, c.ID, service.CampaignInput{Name: "new", BaseTemplate: "Yo {name}", RateLimit: 9})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Name)
	assert.Equal(t, 9, h.campaign(c.ID).RateLimit)

	_, err = h.scheduler.Schedule(h.ctx, c.ID, nil)
	require.NoError(t, err)
	_, err = h.campaigns.UpdateCampaign(h.ctx, c.ID, service.CampaignInput{Name: "late", BaseTemplate: "x"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestRenderPreview(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	ann := &model.Contact{Name: "Ann", Phone: "+1", Metadata: map[string]string{"city": "Lisbon"}}
	require.NoError(t, h.store.Contacts.Create(h.ctx, ann))
	c := h.addCampaign(ch, 0, "Hi {name} from {city}{missing}")

	out, err := h.campaigns.RenderPreview(h.ctx, c.ID, ann.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann from Lisbon", out)

	out, err = h.campaigns.RenderPreview(h.ctx, c.ID, ann.ID, strPtr("{Yo|Yo} {name}"))
	require.NoError(t, err)
	assert.Equal(t, "Yo Ann", out)

	_, err = h.campaigns.RenderPreview(h.ctx, c.ID, 99, nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = h.campaigns.RenderPreview(h.ctx, c.ID, ann.ID, strPtr("{a|"))
	assert.True(t, appErrors.IsValidation(err))
}

func TestCampaignDetailsWithStats(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	c := h.launch(ch, 2, 3)
	h.dispatcher.Tick(h.ctx)

	details, err := h.campaigns.GetCampaignDetailsWithStats(h.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, details.ID)
	assert.Equal(t, 3, details.Stats["total"])
	assert.Equal(t, 2, details.Stats["sent"])
	assert.Equal(t, 1, details.Stats["pending"])
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	c := h.addCampaign(ch, 0, "Hi")

	_, err := h.campaigns.PauseCampaign(h.ctx, c.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition, "drafts cannot be paused")

	h.addContact("Ann", "+1")
	_, err = h.campaigns.ScheduleCampaign(h.ctx, c.ID, nil)
	require.NoError(t, err)

	paused, err := h.campaigns.PauseCampaign(h.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignPaused, paused.Status)

	_, err = h.campaigns.PauseCampaign(h.ctx, c.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	resumed, err := h.campaigns.ResumeCampaign(h.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSending, resumed.Status)
	assert.Len(t, h.messagesFor(c.ID), 1, "resume does not re-expand")
}

func TestResumeWithNothingLeftCompletes(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	c := h.launch(ch, 5, 1)

	// pause after the only message went out
	h.dispatcher.Tick(h.ctx)
	require.Equal(t, model.CampaignCompleted, h.campaign(c.ID).Status)

	c2 := h.launch(ch, 6, 1)
	_, err := h.campaigns.PauseCampaign(h.ctx, c2.ID)
	require.NoError(t, err)
	msg := h.messagesFor(c2.ID)[0]
	_, err = h.store.Messages.MarkFailed(h.ctx, msg.ID, "operator removed")
	require.NoError(t, err)

	resumed, err := h.campaigns.ResumeCampaign(h.ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, resumed.Status)
}

func TestFullLifecycleThreeRecipients(t *testing.T) {
	h := newHarness(t)
	ch := h.addChannel(model.ChannelConnected)
	c := h.launch(ch, 1, 3)
	assert.Equal(t, 3, h.campaign(c.ID).TotalRecipients)

	for i := 0; i < 5; i++ {
		h.dispatcher.Tick(h.ctx)
	}
	stored := h.campaign(c.ID)
	assert.Equal(t, 3, stored.MessagesSent)
	assert.Equal(t, model.CampaignCompleted, stored.Status)
	assert.LessOrEqual(t, stored.MessagesSent, stored.TotalRecipients)
}
