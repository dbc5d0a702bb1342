package appErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundUnwrap(t *testing.T) {
	err := fmt.Errorf("load: %w", NewCampaignNotFound(7))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, NewRuleNotFound(3), "auto-reply rule with ID 3 not found")
}

func TestValidationError(t *testing.T) {
	ve := &ValidationError{}
	assert.NoError(t, ve.OrNil())

	ve.Add("name", "is required")
	ve.Add("rate_limit", "must be positive")
	err := ve.OrNil()
	assert.Error(t, err)
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", err)))
	assert.Equal(t, "validation failed: name: is required; rate_limit: must be positive", err.Error())
}

func TestExpansionError(t *testing.T) {
	cause := errors.New("channel missing")
	err := &ExpansionError{CampaignID: 4, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "campaign 4")
}
