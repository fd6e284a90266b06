package payment

import "errors"

var (
	ErrDuplicatePayment     = errors.New("payment already processed")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrUnknownPrice         = errors.New("captured amount does not match any credit pack")
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrPlanNotConfigured    = errors.New("plan has no provider product configured")
)
