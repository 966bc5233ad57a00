package booking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-booking/booking"
)

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, booking.StatusPending.CanTransitionTo(booking.StatusAccepted))
	assert.True(t, booking.StatusPending.CanTransitionTo(booking.StatusRejected))
	assert.True(t, booking.StatusAccepted.CanTransitionTo(booking.StatusCompleted))

	assert.False(t, booking.StatusPending.CanTransitionTo(booking.StatusCompleted))
	assert.False(t, booking.StatusAccepted.CanTransitionTo(booking.StatusRejected))
	assert.False(t, booking.StatusRejected.CanTransitionTo(booking.StatusAccepted))
	assert.False(t, booking.StatusCompleted.CanTransitionTo(booking.StatusPending))

	assert.True(t, booking.StatusRejected.IsTerminal())
	assert.True(t, booking.StatusCompleted.IsTerminal())
	assert.False(t, booking.StatusPending.IsTerminal())
	assert.False(t, booking.StatusAccepted.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := booking.ParseStatus("ACCEPTED")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusAccepted, s)

	_, err = booking.ParseStatus("accepted")
	assert.ErrorIs(t, err, booking.ErrInvalidArgument)
}
