package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/techpack/techpack-api/internal/domain/credit"
	"github.com/techpack/techpack-api/internal/pkg/paypal"
	"github.com/techpack/techpack-api/internal/pkg/polar"
)

const (
	membershipAddOn = "add_on"
	activeStatus    = "ACTIVE"
)

// PayPal is the subset of the PayPal client the service calls.
type PayPal interface {
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Capture, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*paypal.Subscription, error)
}

// Polar is the subset of the Polar client the service calls.
type Polar interface {
	ChangeProduct(ctx context.Context, subscriptionID, productID string) (*polar.Subscription, error)
}

// Ledger grants and adjusts credit records.
type Ledger interface {
	Grant(ctx context.Context, rec *credit.Record) error
	ActiveSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (*credit.Record, error)
	ChangeSubscriptionPlan(ctx context.Context, userID uuid.UUID, subscriptionID, membership string, credits int) error
}

// Service handles payment business logic
type Service struct {
	repo          Repository
	ledger        Ledger
	paypal        PayPal
	polar         Polar
	polarProducts map[string]string
	now           func() time.Time
}

// NewService creates payment service. polarProducts maps plan names to
// Polar product ids.
func NewService(repo Repository, ledger Ledger, pp PayPal, pl Polar, polarProducts map[string]string) *Service {
	return &Service{
		repo:          repo,
		ledger:        ledger,
		paypal:        pp,
		polar:         pl,
		polarProducts: polarProducts,
		now:           time.Now,
	}
}

// CapturePayPalOrder captures a one-time checkout and grants the matching
// credit pack.
func (s *Service) CapturePayPalOrder(ctx context.Context, userID uuid.UUID, orderID string) (*Payment, error) {
	if p, err := s.resume(ctx, userID, ProviderPayPal, orderID); p != nil || err != nil {
		return p, err
	}

	capture, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	credits, ok := CreditsForAmount(capture.Amount)
	if !ok {
		log.Warn().
			Str("order_id", orderID).
			Str("amount", capture.Amount).
			Msg("PayPal capture with unknown price")
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrice, capture.Amount)
	}

	p := &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    ProviderPayPal,
		ProviderRef: orderID,
		Kind:        KindOneTime,
		Amount:      capture.Amount,
		Currency:    orDefault(capture.Currency, "USD"),
		Credits:     credits,
		Status:      StatusPending,
		RawPayload:  capture.Raw,
	}
	if err := s.record(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ActivateSubscription verifies a PayPal subscription and grants the plan's
// monthly allowance.
func (s *Service) ActivateSubscription(ctx context.Context, userID uuid.UUID, subscriptionID, planName string) (*Payment, error) {
	plan, ok := LookupPlan(planName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planName)
	}
	if p, err := s.resume(ctx, userID, ProviderPayPal, subscriptionID); p != nil || err != nil {
		return p, err
	}

	sub, err := s.paypal.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(sub.Status, activeStatus) {
		return nil, fmt.Errorf("%w: status=%s", ErrSubscriptionInactive, sub.Status)
	}

	p := &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    ProviderPayPal,
		ProviderRef: subscriptionID,
		Kind:        KindSubscription,
		Amount:      plan.Price,
		Currency:    "USD",
		Credits:     plan.Credits,
		Status:      StatusPending,
		RawPayload:  sub.Raw,
	}
	if err := s.record(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ChangePolarPlan moves the Polar subscription to plan and updates the
// active subscription record. The subscription must be the caller's active
// one before Polar is called.
func (s *Service) ChangePolarPlan(ctx context.Context, userID uuid.UUID, subscriptionID, planName string) (*Payment, error) {
	plan, ok := LookupPlan(planName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planName)
	}
	productID := s.polarProducts[plan.Name]
	if productID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotConfigured, plan.Name)
	}

	if _, err := s.ledger.ActiveSubscription(ctx, userID, subscriptionID); err != nil {
		return nil, err
	}

	sub, err := s.polar.ChangeProduct(ctx, subscriptionID, productID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.ChangeSubscriptionPlan(ctx, userID, subscriptionID, plan.Name, plan.Credits); err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(sub)
	p := &Payment{
		ID:         uuid.New(),
		UserID:     userID,
		Provider:   ProviderPolar,
		Kind:       KindPlanChange,
		Amount:     plan.Price,
		Currency:   "USD",
		Credits:    plan.Credits,
		Status:     StatusCompleted,
		RawPayload: raw,
	}
	p.ProviderRef = subscriptionID + ":" + p.ID.String()
	if err := s.repo.Create(ctx, p); err != nil {
		// The plan already changed at Polar and in the ledger.
		log.Error().
			Err(err).
			Str("subscription_id", subscriptionID).
			Str("plan", plan.Name).
			Msg("Failed to record plan change")
	}
	return p, nil
}

// History lists a user's payments, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// resume looks up an earlier payment for ref. It returns nil, nil for a new
// ref. A failed payment of the same user had its provider side succeed, so
// its grant is retried without charging again. Anything else is a replay.
func (s *Service) resume(ctx context.Context, userID uuid.UUID, provider Provider, ref string) (*Payment, error) {
	p, err := s.repo.GetByProviderRef(ctx, provider, ref)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Status != StatusFailed || p.UserID != userID {
		return nil, ErrDuplicatePayment
	}

	claimed, err := s.repo.TransitionStatus(ctx, p.ID, StatusFailed, StatusPending)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrDuplicatePayment
	}
	p.Status = StatusPending

	log.Info().
		Str("payment_id", p.ID.String()).
		Str("provider_ref", ref).
		Msg("Retrying credit grant for failed payment")
	if err := s.grant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// record claims the provider reference, then grants credits. The unique
// constraint on the claim stops concurrent replays from granting twice.
func (s *Service) record(ctx context.Context, p *Payment) error {
	if err := s.repo.Create(ctx, p); err != nil {
		if !errors.Is(err, ErrDuplicatePayment) {
			// The provider has already charged the user.
			log.Error().
				Err(err).
				Str("user_id", p.UserID.String()).
				Str("provider", string(p.Provider)).
				Str("provider_ref", p.ProviderRef).
				Str("amount", p.Amount).
				Int("credits", p.Credits).
				Msg("Failed to record charged payment")
		}
		return err
	}
	return s.grant(ctx, p)
}

// grant credits a pending payment and marks it completed, or failed so a
// retry of the same provider reference can pick it up.
func (s *Service) grant(ctx context.Context, p *Payment) error {
	rec, err := s.creditRecord(p)
	if err == nil {
		err = s.ledger.Grant(ctx, rec)
	}
	if err != nil {
		if uerr := s.repo.UpdateStatus(context.WithoutCancel(ctx), p.ID, StatusFailed); uerr != nil {
			log.Error().Err(uerr).Str("payment_id", p.ID.String()).Msg("Failed to mark payment failed")
		}
		p.Status = StatusFailed
		return fmt.Errorf("grant credits: %w", err)
	}

	if err := s.repo.UpdateStatus(ctx, p.ID, StatusCompleted); err != nil {
		log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("Failed to mark payment completed")
	}
	p.Status = StatusCompleted

	log.Info().
		Str("user_id", p.UserID.String()).
		Str("provider", string(p.Provider)).
		Str("kind", string(p.Kind)).
		Int("credits", p.Credits).
		Msg("Payment processed")
	return nil
}

// creditRecord is the ledger record a payment buys.
func (s *Service) creditRecord(p *Payment) (*credit.Record, error) {
	switch p.Kind {
	case KindOneTime:
		return &credit.Record{
			UserID:     p.UserID,
			Credits:    p.Credits,
			PlanType:   credit.PlanOneTime,
			Membership: membershipAddOn,
		}, nil
	case KindSubscription:
		plan, ok := planForPrice(p.Amount)
		if !ok {
			return nil, fmt.Errorf("%w: price %s", ErrUnknownPlan, p.Amount)
		}
		return &credit.Record{
			UserID:         p.UserID,
			Credits:        p.Credits,
			PlanType:       credit.PlanSubscription,
			Membership:     plan.Name,
			SubscriptionID: sql.NullString{String: p.ProviderRef, Valid: true},
			ExpiresAt:      sql.NullTime{Time: s.now().AddDate(0, 1, 0), Valid: true},
		}, nil
	}
	return nil, fmt.Errorf("payment kind %s grants no credits", p.Kind)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// IsClientError reports whether err stems from the request rather than the
// provider or the database.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownPrice) ||
		errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrSubscriptionInactive) ||
		errors.Is(err, paypal.ErrNotCompleted)
}
