package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknownAsInternal(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
}

func TestClonedErrorMatchesTemplate(t *testing.T) {
	err := fmt.Errorf("claim: %w", Clone(ErrSlotAlreadyBooked, "slot 09:20 already booked"))
	assert.True(t, errors.Is(err, ErrSlotAlreadyBooked))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusConflict, FromError(err).Status)
}
