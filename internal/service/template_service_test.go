package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/campaign-dispatcher/internal/service"
	"github.com/unclebandit/campaign-dispatcher/internal/spintax"
)

func TestPersonalize(t *testing.T) {
	tests := []struct {
		name     string
		template string
		fields   map[string]string
		want     string
	}{
		{"name", "Hello {name}", map[string]string{"name": "Ann"}, "Hello Ann"},
		{"missing key", "Hi {x}", map[string]string{}, "Hi "},
		{"metadata", "{name} from {city}", map[string]string{"name": "Bo", "city": "Porto"}, "Bo from Porto"},
		{"spintax untouched", "{Hi|Hello} {name}", map[string]string{"name": "Ann"}, "{Hi|Hello} Ann"},
		{"repeated", "{name} {name}", map[string]string{"name": "A"}, "A A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.Personalize(tt.template, tt.fields))
		})
	}
}

func TestValidateTemplateIgnoresPlaceholders(t *testing.T) {
	assert.Empty(t, service.ValidateTemplate("{Hi|Hello} {name}, see {city}"))
	assert.NotEmpty(t, service.ValidateTemplate("{Hi|} {name}"))
	assert.NotEmpty(t, service.ValidateTemplate("{Hi|Hello {name}"))
}

func TestRenderMessage(t *testing.T) {
	engine := spintax.NewEngine(7, 7)
	out := service.RenderMessage(engine, "{Hi|Hi} {name}!", map[string]string{"name": "Ann"})
	assert.Equal(t, "Hi Ann!", out)
}

func TestRenderMessageFallsBackWhenFieldsBreakSpintax(t *testing.T) {
	engine := spintax.NewEngine(7, 7)
	fields := map[string]string{"name": "A|B {x"}
	out := service.RenderMessage(engine, "{Hi|Hi} {name}", fields)
	assert.Equal(t, "Hi A|B {x", out)
}
