package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesOnKind(t *testing.T) {
	err := InvalidState("Request is already rejected")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("decide: %w", Conflict("lost the race"))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestPersistence_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Persistence("Failed to save request", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Failed to save request: connection refused", err.Error())
	assert.True(t, err.Retriable())
	assert.False(t, Forbidden("no").Retriable())
}
