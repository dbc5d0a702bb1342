// internal/controller/response.go
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
)

var validate = newValidator()

// newValidator reports fields by their json name so error payloads match
// the request body the caller sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeBody reads the JSON body into dst and runs the struct validators.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return appErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return fieldErrors(ve)
		}
		return err
	}
	return nil
}

func fieldErrors(ve validator.ValidationErrors) error {
	out := &appErrors.ValidationError{}
	for _, fe := range ve {
		out.Add(fe.Field(), errorMessage(fe))
	}
	return out
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "datetime":
		return "must be a time in format " + fe.Param()
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	var ve *appErrors.ValidationError
	var xe *appErrors.ExpansionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": ve.Fields})
	case errors.As(err, &xe):
		// the campaign is already marked failed, the caller gets the cause
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": xe.Error(), "campaign_id": xe.CampaignID})
	case errors.Is(err, appErrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, appErrors.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		if log != nil {
			log.Error("Request failed", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
