package payment

import "github.com/google/uuid"

// CaptureRequest is the body of POST /paypal-capture.
type CaptureRequest struct {
	OrderID string `json:"orderId" validate:"required,max=128"`
}

// SubscriptionRequest is the body of POST /payment and POST /polar/change-plan.
type SubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=100"`
	Plan           string `json:"plan" validate:"required,plan"`
}

// PaymentResponse is returned after credits were granted or adjusted.
type PaymentResponse struct {
	PaymentID uuid.UUID `json:"paymentId"`
	Credits   int       `json:"credits"`
	Kind      Kind      `json:"kind"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
}

func newPaymentResponse(p *Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID: p.ID,
		Credits:   p.Credits,
		Kind:      p.Kind,
		Amount:    p.Amount,
		Currency:  p.Currency,
	}
}
