package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

type AutoReplyController struct {
	AutoReplyService *service.AutoReplyService
	Log              *logger.Logger
}

type ruleRequest struct {
	Name               string   `json:"name" validate:"required,max=200"`
	Keywords           []string `json:"keywords"`
	TriggerType        string   `json:"trigger_type" validate:"required,oneof=contains exact starts_with ends_with any first_message"`
	ResponseTemplate   string   `json:"response_template" validate:"required"`
	DelaySeconds       int      `json:"delay_seconds" validate:"gte=0,max=86400"`
	Active             *bool    `json:"active"`
	BusinessHoursStart string   `json:"business_hours_start" validate:"omitempty,datetime=15:04"`
	BusinessHoursEnd   string   `json:"business_hours_end" validate:"omitempty,datetime=15:04"`
}

// input defaults Active to true when the field is omitted.
func (body ruleRequest) input() service.RuleInput {
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	return service.RuleInput{
		Name:               body.Name,
		Keywords:           body.Keywords,
		TriggerType:        body.TriggerType,
		ResponseTemplate:   body.ResponseTemplate,
		DelaySeconds:       body.DelaySeconds,
		Active:             active,
		BusinessHoursStart: body.BusinessHoursStart,
		BusinessHoursEnd:   body.BusinessHoursEnd,
	}
}

func (c *AutoReplyController) ListRules(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	rules, err := c.AutoReplyService.ListRules(r.Context(), channelID)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": rules})
}

func (c *AutoReplyController) CreateRule(w http.ResponseWriter, r *http.Request) {
	channelID, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	var body ruleRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}

	rule, err := c.AutoReplyService.CreateRule(r.Context(), channelID, body.input())
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

func (c *AutoReplyController) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	rule, err := c.AutoReplyService.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

func (c *AutoReplyController) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	var body ruleRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}

	rule, err := c.AutoReplyService.UpdateRule(r.Context(), id, body.input())
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

func (c *AutoReplyController) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	if err := c.AutoReplyService.DeleteRule(r.Context(), id); err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *AutoReplyController) Routes(r chi.Router) {
	r.Get("/channels/{id}/auto-replies", c.ListRules)
	r.Post("/channels/{id}/auto-replies", c.CreateRule)
	r.Get("/auto-replies/{id}", c.GetRule)
	r.Put("/auto-replies/{id}", c.UpdateRule)
	r.Delete("/auto-replies/{id}", c.DeleteRule)
}
