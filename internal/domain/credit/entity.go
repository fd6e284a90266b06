package credit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PlanType of a credit grant.
type PlanType string

const (
	PlanSubscription PlanType = "subscription"
	PlanOneTime      PlanType = "one_time"
)

// RecordStatus of a credit grant.
type RecordStatus string

const (
	RecordActive  RecordStatus = "active"
	RecordExpired RecordStatus = "expired"
)

// MembershipRefund labels records created to hold refunded credits whose
// original records are no longer active.
const MembershipRefund = "refund"

// Record is one grant of purchased or subscribed credits.
type Record struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	UserID         uuid.UUID      `db:"user_id" json:"userId"`
	Credits        int            `db:"credits" json:"credits"`
	Status         RecordStatus   `db:"status" json:"status"`
	PlanType       PlanType       `db:"plan_type" json:"planType"`
	Membership     string         `db:"membership" json:"membership"`
	SubscriptionID sql.NullString `db:"subscription_id" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"-"`
	ExpiresAt      sql.NullTime   `db:"expires_at" json:"-"`
}

// Stale reports whether the sweep must expire r at now.
func (r *Record) Stale(now time.Time) bool {
	if r.Status != RecordActive {
		return false
	}
	if r.PlanType == PlanOneTime && r.Credits == 0 {
		return true
	}
	return r.ExpiresAt.Valid && !r.ExpiresAt.Time.After(now)
}

// ReservationStatus tracks a hold through its lifecycle.
type ReservationStatus string

const (
	ReservationReserved      ReservationStatus = "reserved"
	ReservationCommitted     ReservationStatus = "committed"
	ReservationRefundPending ReservationStatus = "refund_pending"
	ReservationRefunded      ReservationStatus = "refunded"
)

// Reservation is a hold against a user's balance taken before a costly
// operation. The balance is already decremented while it exists.
type Reservation struct {
	ID             uuid.UUID         `db:"id"`
	UserID         uuid.UUID         `db:"user_id"`
	Amount         int               `db:"amount"`
	Status         ReservationStatus `db:"status"`
	Operation      string            `db:"operation"`
	ProductID      uuid.NullUUID     `db:"product_id"`
	Reason         sql.NullString    `db:"reason"`
	RefundAttempts int               `db:"refund_attempts"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
}

// ReservationItem records how much of a reservation came from one record.
// Seq is the debit order.
type ReservationItem struct {
	ReservationID uuid.UUID `db:"reservation_id"`
	CreditID      uuid.UUID `db:"credit_id"`
	Seq           int       `db:"seq"`
	Amount        int       `db:"amount"`
}

// ReserveMeta describes what a reservation pays for.
type ReserveMeta struct {
	Operation string
	ProductID uuid.UUID
}

// ReserveResult is returned by a successful reservation.
type ReserveResult struct {
	ReservationID uuid.UUID `json:"reservationId"`
	Amount        int       `json:"amount"`
	Remaining     int       `json:"remaining"`
}

// Balance is the aggregate of a user's active records.
type Balance struct {
	Balance int       `json:"balance"`
	Records []*Record `json:"records"`
}
