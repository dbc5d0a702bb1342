package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatcher/internal/controller"
	"github.com/unclebandit/campaign-dispatcher/internal/lock"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/queue"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
	"github.com/unclebandit/campaign-dispatcher/internal/repository/memory"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

type api struct {
	t      *testing.T
	store  *repository.Store
	router chi.Router
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := logger.NewNop()
	store := memory.NewStore(memory.NewDB())
	events := queue.NewInMemoryQueue(log)
	engine := spintax.NewEngine(7, 11)

	expander := &service.Expander{
		CampaignRepo: store.Campaigns,
		ContactRepo:  store.Contacts,
		Channels:     store.Channels,
		Spintax:      engine,
		Queue:        events,
		Log:          log,
	}
	scheduler := &service.Scheduler{
		CampaignRepo: store.Campaigns,
		Expander:     expander,
		Lock:         lock.NewLocalLock(),
		Queue:        events,
		Log:          log,
	}
	campaigns := &service.CampaignService{
		CampaignRepo: store.Campaigns,
		ContactRepo:  store.Contacts,
		MessageRepo:  store.Messages,
		Scheduler:    scheduler,
		Spintax:      engine,
		Queue:        events,
		Log:          log,
	}
	autoReply := &service.AutoReplyService{
		RuleRepo:    store.Rules,
		MessageRepo: store.Messages,
		ContactRepo: store.Contacts,
		Analytics:   store.Analytics,
		Spintax:     engine,
		Queue:       events,
		Log:         log,
		Location:    time.UTC,
	}

	r := chi.NewRouter()
	(&controller.CampaignController{CampaignService: campaigns, Log: log}).Routes(r)
	(&controller.SpintaxController{Engine: engine, Log: log}).Routes(r)
	(&controller.AutoReplyController{AutoReplyService: autoReply, Log: log}).Routes(r)
	return &api{t: t, store: store, router: r}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) channel() int {
	a.t.Helper()
	ch := &model.Channel{Name: "main", Status: model.ChannelConnected}
	require.NoError(a.t, a.store.Channels.CreateChannel(context.Background(), ch))
	return ch.ID
}

func (a *api) contact(name, phone string, groups ...string) int {
	a.t.Helper()
	c := &model.Contact{Name: name, Phone: phone, Groups: groups, Metadata: map[string]string{"city": "Nairobi"}}
	require.NoError(a.t, a.store.Contacts.Create(context.Background(), c))
	return c.ID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func (a *api) createCampaign(channelID int, template string, groups ...string) model.Campaign {
	a.t.Helper()
	w := a.do(http.MethodPost, "/campaigns", map[string]any{
		"name":             "Launch",
		"channel_id":       channelID,
		"base_template":    template,
		"recipient_groups": groups,
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Campaign](a.t, w)
}

func TestCreateCampaign(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()

	c := a.createCampaign(ch, "{Hi|Hello} {name}", "vip")
	assert.NotZero(t, c.ID)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, []string{"vip"}, c.RecipientGroups)
}

func TestCreateCampaignValidation(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodPost, "/campaigns", map[string]any{"base_template": "hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	res := decode[struct {
		Errors []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}](t, w)
	fields := map[string]string{}
	for _, e := range res.Errors {
		fields[e.Field] = e.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Contains(t, fields, "channel_id")
}

func TestCreateCampaignRejectsBadSpintax(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()

	w := a.do(http.MethodPost, "/campaigns", map[string]any{
		"name":          "Broken",
		"channel_id":    ch,
		"base_template": "{Hi|Hello",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCampaignInvalidJSON(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCampaignsPagination(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	other := a.channel()

	totalCampaigns := 25
	for i := 0; i < totalCampaigns; i++ {
		a.createCampaign(ch, "Hello "+strconv.Itoa(i))
	}
	a.createCampaign(other, "Elsewhere")

	pageSize := 10
	seen := map[int]bool{}
	totalPages := (totalCampaigns + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		w := a.do(http.MethodGet,
			"/campaigns?page="+strconv.Itoa(page)+
				"&page_size="+strconv.Itoa(pageSize)+
				"&channel_id="+strconv.Itoa(ch)+"&status=draft", nil)
		require.Equal(t, http.StatusOK, w.Code)

		res := decode[struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
				TotalPages int `json:"total_pages"`
			} `json:"pagination"`
		}](t, w)

		assert.Equal(t, page, res.Pagination.Page)
		assert.Equal(t, pageSize, res.Pagination.PageSize)
		assert.Equal(t, totalCampaigns, res.Pagination.TotalCount)
		assert.Equal(t, totalPages, res.Pagination.TotalPages)

		for _, c := range res.Data {
			assert.False(t, seen[c.ID], "duplicate campaign %d across pages", c.ID)
			seen[c.ID] = true
			assert.Equal(t, ch, c.ChannelID)
			assert.Equal(t, model.CampaignDraft, c.Status)
		}
	}
	assert.Len(t, seen, totalCampaigns)
}

func TestGetCampaignDetails(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	a.contact("Alice", "+254700000001", "vip")
	a.contact("Bob", "+254700000002", "vip")
	c := a.createCampaign(ch, "Hi {name}", "vip")

	w := a.do(http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, "/campaigns/"+strconv.Itoa(c.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[struct {
		ID              int            `json:"id"`
		Status          string         `json:"status"`
		TotalRecipients int            `json:"total_recipients"`
		Stats           map[string]int `json:"stats"`
	}](t, w)
	assert.Equal(t, c.ID, res.ID)
	assert.Equal(t, model.CampaignSending, res.Status)
	assert.Equal(t, 2, res.TotalRecipients)
	assert.Equal(t, 2, res.Stats["pending"])
	assert.Equal(t, 2, res.Stats["total"])
}

func TestGetCampaignDetailsErrors(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/campaigns/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/campaigns/abc", nil).Code)
}

func TestUpdateCampaignOnlyDrafts(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	c := a.createCampaign(ch, "Hi")
	path := "/campaigns/" + strconv.Itoa(c.ID)

	w := a.do(http.MethodPut, path, map[string]any{
		"name":          "Renamed",
		"channel_id":    ch,
		"base_template": "{Hey|Yo}",
		"rate_limit":    5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[model.Campaign](t, w)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 5, updated.RateLimit)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/schedule", nil).Code)

	w = a.do(http.MethodPut, path, map[string]any{
		"name":          "Too late",
		"channel_id":    ch,
		"base_template": "Hi",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateCampaignMovesSendTime(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	c := a.createCampaign(ch, "Hi")
	path := "/campaigns/" + strconv.Itoa(c.ID)

	at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	w := a.do(http.MethodPut, path, map[string]any{
		"name":          "Later",
		"channel_id":    ch,
		"base_template": "Hi",
		"scheduled_at":  at.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[model.Campaign](t, w)
	require.NotNil(t, updated.ScheduledAt)
	assert.True(t, at.Equal(*updated.ScheduledAt))

	w = a.do(http.MethodPost, path+"/schedule", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	scheduled := decode[model.Campaign](t, w)
	assert.Equal(t, model.CampaignScheduled, scheduled.Status)
	require.NotNil(t, scheduled.ScheduledAt)
	assert.True(t, at.Equal(*scheduled.ScheduledAt))
}

func TestScheduleAndCancel(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	c := a.createCampaign(ch, "Hi {name}")
	path := "/campaigns/" + strconv.Itoa(c.ID) + "/schedule"

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w := a.do(http.MethodPost, path, map[string]any{"scheduled_at": future})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	scheduled := decode[model.Campaign](t, w)
	assert.Equal(t, model.CampaignScheduled, scheduled.Status)
	require.NotNil(t, scheduled.ScheduledAt)

	w = a.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[map[string]any](t, w)
	assert.Equal(t, true, res["cancelled"])

	// a second cancel finds nothing scheduled
	w = a.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[map[string]any](t, w)
	assert.Equal(t, false, res["cancelled"])

	stored, err := a.store.Campaigns.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDraft, stored.Status)
}

func TestScheduleWithInvalidTimeSendsNow(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	c := a.createCampaign(ch, "Hi")

	w := a.do(http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/schedule", map[string]any{"scheduled_at": "next tuesday"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[model.Campaign](t, w)
	// no contacts, so expansion completes the campaign at once
	assert.Equal(t, model.CampaignCompleted, res.Status)
}

func TestScheduleMissingChannelFailsCampaign(t *testing.T) {
	a := newAPI(t)
	c := a.createCampaign(404, "Hi")

	w := a.do(http.MethodPost, "/campaigns/"+strconv.Itoa(c.ID)+"/schedule", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	stored, err := a.store.Campaigns.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestPauseResume(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	a.contact("Alice", "+254700000001")
	c := a.createCampaign(ch, "Hi {name}")
	path := "/campaigns/" + strconv.Itoa(c.ID)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, path+"/pause", nil).Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, path+"/schedule", nil).Code)

	w := a.do(http.MethodPost, path+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignPaused, decode[model.Campaign](t, w).Status)

	w = a.do(http.MethodPost, path+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignSending, decode[model.Campaign](t, w).Status)
}

func TestPersonalizedPreview(t *testing.T) {
	a := newAPI(t)
	ch := a.channel()
	alice := a.contact("Alice", "+254700000001")
	c := a.createCampaign(ch, "Hi {name} from {city}")
	path := "/campaigns/" + strconv.Itoa(c.ID) + "/personalized-preview"

	w := a.do(http.MethodPost, path, map[string]any{"contact_id": alice})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[map[string]any](t, w)
	assert.Equal(t, "Hi Alice from Nairobi", res["rendered_message"])
	assert.Nil(t, res["used_template"])

	w = a.do(http.MethodPost, path, map[string]any{"contact_id": alice, "override_template": "{Hey|Hey} {name}"})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[map[string]any](t, w)
	assert.Equal(t, "Hey Alice", res["rendered_message"])
	assert.Equal(t, "{Hey|Hey} {name}", res["used_template"])

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, path, map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, path, map[string]any{"contact_id": 99}).Code)
}
