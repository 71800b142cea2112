package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatchingThroughWrapping(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("fetch current: %w", Wrap(ErrUpstreamUnavailable, "failed to fetch current weather", cause))

	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ErrUpstreamUnavailable, KindOf(err))
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "dial tcp: timeout")
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, ErrInternal, KindOf(errors.New("boom")))
	assert.False(t, Retryable(Conflict("city already in favorites")))
}

func TestMessageOmitsCause(t *testing.T) {
	err := Wrap(ErrInternal, "failed to save favorite", errors.New("disk full"))
	assert.Equal(t, "failed to save favorite", err.Message())
	assert.Equal(t, "failed to save favorite: disk full", err.Error())
}
