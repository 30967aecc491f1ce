package mailqueue

// Task type names.
const (
	TypeVerificationEmail = "mail:verification"
	TypeTwoFactorEnabled  = "mail:2fa_enabled"
	TypeSubscription      = "mail:subscription"
)

type VerificationPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type TwoFactorEnabledPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type SubscriptionPayload struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	PlanName   string `json:"plan_name"`
	PriceCents int64  `json:"price_cents"`
}
