package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is returned when the active balance is below the requested amount
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAmountMismatch is returned when a refund amount differs from the reserved amount
	ErrAmountMismatch = errors.New("refund amount does not match reservation")

	ErrRecordNotFound = errors.New("credit record not found")

	// ErrRefundPending is returned when a refund failed and was queued for reconciliation
	ErrRefundPending = errors.New("refund queued for retry")
)

// InsufficientError carries the shortfall. It matches ErrInsufficientCredits.
type InsufficientError struct {
	Need int
	Have int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Need, e.Have)
}

func (e *InsufficientError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
