package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

const maxPreviewSamples = 50

// SpintaxController lets operators check a template before saving it.
type SpintaxController struct {
	Engine *spintax.Engine
	Log    *logger.Logger
}

type spintaxRequest struct {
	Text  string `json:"text" validate:"required"`
	Count int    `json:"count" validate:"gte=0,max=50"`
}

// Validate reports syntax problems and the number of variations.
// Placeholders are masked first so {name} is not read as a broken group.
func (c *SpintaxController) Validate(w http.ResponseWriter, r *http.Request) {
	var body spintaxRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}

	masked := service.MaskPlaceholders(body.Text)
	valid, errs := spintax.Validate(masked)
	if errs == nil {
		errs = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      valid,
		"errors":     errs,
		"variations": spintax.CountVariations(body.Text),
	})
}

// Preview returns up to count distinct renderings, 5 by default.
func (c *SpintaxController) Preview(w http.ResponseWriter, r *http.Request) {
	var body spintaxRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, err)
		return
	}
	count := body.Count
	if count == 0 {
		count = 5
	}
	if count > maxPreviewSamples {
		count = maxPreviewSamples
	}

	var samples []string
	if c.Engine != nil {
		samples = c.Engine.GenerateUnique(body.Text, count)
	} else {
		samples = spintax.GenerateUnique(body.Text, count)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"variations": spintax.CountVariations(body.Text),
		"samples":    samples,
	})
}

func (c *SpintaxController) Routes(r chi.Router) {
	r.Post("/spintax/validate", c.Validate)
	r.Post("/spintax/preview", c.Preview)
}
