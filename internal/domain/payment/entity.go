package payment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider represents payment provider
type Provider string

const (
	ProviderPayPal Provider = "paypal"
	ProviderPolar  Provider = "polar"
)

// Kind of a payment row.
type Kind string

const (
	KindOneTime      Kind = "one_time"
	KindSubscription Kind = "subscription"
	KindPlanChange   Kind = "plan_change"
)

// Status represents payment status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment is one processed provider event. (provider, provider_ref) is
// unique, so replays are rejected.
type Payment struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"userId"`
	Provider    Provider        `db:"provider" json:"provider"`
	ProviderRef string          `db:"provider_ref" json:"providerRef"`
	Kind        Kind            `db:"kind" json:"kind"`
	Amount      string          `db:"amount" json:"amount"`
	Currency    string          `db:"currency" json:"currency"`
	Credits     int             `db:"credits" json:"credits"`
	Status      Status          `db:"status" json:"status"`
	RawPayload  json.RawMessage `db:"raw_payload" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// Plan is a subscription tier.
type Plan struct {
	Name    string
	Credits int
	Price   string
}

var plans = map[string]Plan{
	"pro":      {Name: "pro", Credits: 300, Price: "19.00"},
	"business": {Name: "business", Credits: 1000, Price: "49.00"},
}

// LookupPlan returns the tier named name.
func LookupPlan(name string) (Plan, bool) {
	p, ok := plans[name]
	return p, ok
}

// planForPrice finds the tier billed at price.
func planForPrice(price string) (Plan, bool) {
	for _, p := range plans {
		if p.Price == price {
			return p, true
		}
	}
	return Plan{}, false
}

// creditPacks maps a captured one-time price to the credits it buys.
var creditPacks = map[string]int{
	"5.00":  50,
	"10.00": 120,
	"25.00": 350,
}

// CreditsForAmount returns the credits bought by a one-time payment of amount.
func CreditsForAmount(amount string) (int, bool) {
	c, ok := creditPacks[amount]
	return c, ok
}
