package models

import "time"

// CreditAccount is the credit-metering state embedded in the user entity.
// CreditsUsed <= CreditsLimit is enforced at admission time, never
// retroactively.
type CreditAccount struct {
	UserID          string          `json:"user_id"`
	Plan            Plan            `json:"plan"`
	Interval        BillingInterval `json:"interval"`
	CreditsUsed     int             `json:"credits_used"`
	CreditsLimit    int             `json:"credits_limit"`
	LastCreditReset time.Time       `json:"last_credit_reset"`
}
