// internal/service/template_service.go
package service

import (
	"regexp"

	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Personalize replaces every {key} with the matching field. Keys the
// record does not have become the empty string.
func Personalize(template string, fields map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		return fields[m[1:len(m)-1]]
	})
}

// MaskPlaceholders swaps placeholders for plain text so a template can be
// checked as spintax without tripping over {name}.
func MaskPlaceholders(template string) string {
	return placeholderRe.ReplaceAllString(template, "_")
}

// ValidateTemplate returns the spintax problems of a template that may
// also contain placeholders.
func ValidateTemplate(template string) []string {
	_, errs := spintax.Validate(MaskPlaceholders(template))
	return errs
}

// RenderMessage personalizes then spins the template. When a field value
// breaks the spintax syntax (a brace or pipe in a contact's metadata) the
// template is spun first and personalized afterwards.
func RenderMessage(engine *spintax.Engine, template string, fields map[string]string) string {
	render := spintax.Render
	if engine != nil {
		render = engine.Render
	}
	personalized := Personalize(template, fields)
	if ok, _ := spintax.Validate(personalized); ok {
		return render(personalized)
	}
	return Personalize(render(template), fields)
}
