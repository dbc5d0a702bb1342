// internal/handler/gateway_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

// Gateway event types accepted on the webhook.
const (
	EventMessage = "message"
	EventReceipt = "receipt"
	EventStatus  = "status"
)

// GatewayHandler receives what the messaging gateway reports for a channel.
type GatewayHandler struct {
	Inbound *service.InboundService
	Log     *logger.Logger
}

// gatewayEvent is the webhook body. Which fields are read depends on Type.
type gatewayEvent struct {
	Type       string     `json:"type" validate:"required,oneof=message receipt status"`
	From       string     `json:"from" validate:"required_if=Type message"`
	Text       string     `json:"text"`
	FromMe     bool       `json:"from_me"`
	ExternalID string     `json:"external_id" validate:"required_if=Type receipt"`
	Kind       string     `json:"kind" validate:"required_if=Type receipt"`
	Status     string     `json:"status" validate:"required_if=Type status"`
	At         *time.Time `json:"at"`
}

var validate = validator.New()

func (e gatewayEvent) at() time.Time {
	if e.At == nil {
		return time.Time{}
	}
	return *e.At
}

// HandleEvent dispatches one webhook event to the inbound service.
func (h *GatewayHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || channelID <= 0 {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}

	var ev gatewayEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(ev); err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}

	log := h.Log.With(zap.Int("channelID", channelID), zap.String("event", ev.Type))
	resp := map[string]interface{}{"accepted": true}

	switch ev.Type {
	case EventMessage:
		reply, err := h.Inbound.HandleMessage(r.Context(), model.InboundMessage{
			ChannelID:  channelID,
			From:       ev.From,
			Text:       ev.Text,
			FromMe:     ev.FromMe,
			ReceivedAt: ev.at(),
		})
		if err != nil {
			h.fail(w, log, err)
			return
		}
		if reply != nil {
			resp["auto_reply_id"] = reply.ID
		}
	case EventReceipt:
		err = h.Inbound.HandleReceipt(r.Context(), model.Receipt{
			ChannelID:  channelID,
			ExternalID: ev.ExternalID,
			Kind:       ev.Kind,
			At:         ev.at(),
		})
	case EventStatus:
		err = h.Inbound.HandleStatus(r.Context(), channelID, ev.Status)
	}
	if err != nil {
		h.fail(w, log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *GatewayHandler) fail(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case appErrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appErrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Error("Failed to handle gateway event", zap.Error(err))
		http.Error(w, "failed to handle event", http.StatusInternalServerError)
	}
}

func (h *GatewayHandler) Routes(r chi.Router) {
	r.Post("/channels/{id}/events", h.HandleEvent)
}
