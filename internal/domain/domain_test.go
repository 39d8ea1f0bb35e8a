package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeatReservable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name string
		seat Seat
		want bool
	}{
		{"available", Seat{Status: SeatAvailable}, true},
		{"reserved with live hold", Seat{Status: SeatReserved, HoldExpiresAt: &future}, false},
		// A lapsed hold stays off the market until the sweeper returns it
		{"reserved with lapsed hold", Seat{Status: SeatReserved, HoldExpiresAt: &past}, false},
		{"reserved without expiry", Seat{Status: SeatReserved}, false},
		{"booked", Seat{Status: SeatBooked}, false},
		{"blocked", Seat{Status: SeatBlocked}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.seat.Reservable())
		})
	}
}

func TestSeatHeldBy(t *testing.T) {
	holder := "user-1"
	seat := Seat{Status: SeatReserved, HolderID: &holder}

	assert.True(t, seat.HeldBy("user-1"))
	assert.False(t, seat.HeldBy("user-2"))

	seat.Status = SeatBooked
	assert.False(t, seat.HeldBy("user-1"))

	assert.False(t, (&Seat{Status: SeatReserved}).HeldBy("user-1"))
}

func TestReservationExpired(t *testing.T) {
	now := time.Now()

	active := Reservation{Status: ReservationActive, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, active.Expired(now))

	lapsed := Reservation{Status: ReservationActive, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, lapsed.Expired(now))

	// Only an active hold can lapse
	confirmed := Reservation{Status: ReservationConfirmed, ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, confirmed.Expired(now))
}

func TestEventAcceptsReservations(t *testing.T) {
	assert.True(t, (&Event{Status: EventOnSale}).AcceptsReservations())
	assert.False(t, (&Event{Status: EventUpcoming}).AcceptsReservations())
	assert.False(t, (&Event{Status: EventSoldOut}).AcceptsReservations())
	assert.False(t, (&Event{Status: EventCancelled}).AcceptsReservations())
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	p, err = ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	_, err = ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestRequestStateTerminal(t *testing.T) {
	assert.False(t, RequestPending.Terminal())
	assert.False(t, RequestProcessing.Terminal())
	assert.True(t, RequestCompleted.Terminal())
	assert.True(t, RequestFailed.Terminal())
	assert.True(t, RequestCancelled.Terminal())
}

func TestSeatUnavailableError(t *testing.T) {
	err := fmt.Errorf("reserving: %w", &SeatUnavailableError{SeatID: 42})

	assert.ErrorIs(t, err, ErrSeatUnavailable)
	assert.True(t, IsUnavailableError(err))

	var unavailable *SeatUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, int64(42), unavailable.SeatID)
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsNotFoundError(ErrSeatNotFound))
	assert.True(t, IsValidationError(ErrDuplicateSeats))
	assert.True(t, IsUnavailableError(ErrLockTimeout))
	assert.True(t, IsConflictError(ErrOptimisticConflict))

	plain := errors.New("boom")
	assert.False(t, IsNotFoundError(plain))
	assert.False(t, IsValidationError(plain))
	assert.False(t, IsUnavailableError(plain))
	assert.False(t, IsConflictError(plain))
}
