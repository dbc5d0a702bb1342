// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *logger.Logger
}

type campaignRequest struct {
	Name            string   `json:"name" validate:"required,max=200"`
	ChannelID       int      `json:"channel_id" validate:"required,gte=1"`
	BaseTemplate    string   `json:"base_template" validate:"required"`
	RecipientGroups []string `json:"recipient_groups" validate:"dive,required"`
	MediaURL        string   `json:"media_url" validate:"omitempty,url"`
	RateLimit       int      `json:"rate_limit" validate:"gte=0"`
	ScheduledAt     string   `json:"scheduled_at"`
}

func (c *CampaignController) input(body campaignRequest) service.CampaignInput {
	return service.CampaignInput{
		Name:            body.Name,
		ChannelID:       body.ChannelID,
		BaseTemplate:    body.BaseTemplate,
		RecipientGroups: body.RecipientGroups,
		MediaURL:        body.MediaURL,
		RateLimit:       body.RateLimit,
		ScheduledAt:     service.ParseScheduledAt(body.ScheduledAt, c.Log),
	}
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body campaignRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), c.input(body))
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

// UpdateCampaign edits a draft. The channel cannot change once created.
func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	var body campaignRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), id, c.input(body))
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	channelID, _ := strconv.Atoi(r.URL.Query().Get("channel_id"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, channelID, status)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // page, page_size, total_count, total_pages
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// ScheduleCampaign sends a draft now, or at scheduled_at when that lies in
// the future.
func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	var body struct {
		ScheduledAt string `json:"scheduled_at"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, c.Log, err)
			return
		}
	}

	campaign, err := c.CampaignService.ScheduleCampaign(r.Context(), id, service.ParseScheduledAt(body.ScheduledAt, c.Log))
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	cancelled, err := c.CampaignService.CancelScheduledCampaign(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"cancelled":   cancelled,
	})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.PauseCampaign(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.ResumeCampaign(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	var body struct {
		ContactID        int     `json:"contact_id" validate:"required,gte=1"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_id":       body.ContactID,
	})
}

// Routes mounts the campaign endpoints.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Put("/campaigns/{id}", c.UpdateCampaign)
	r.Post("/campaigns/{id}/schedule", c.ScheduleCampaign)
	r.Delete("/campaigns/{id}/schedule", c.CancelSchedule)
	r.Post("/campaigns/{id}/pause", c.PauseCampaign)
	r.Post("/campaigns/{id}/resume", c.ResumeCampaign)
	r.Post("/campaigns/{id}/personalized-preview", c.PersonalizedPreview)
}
