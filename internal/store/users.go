package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

// UserStore reads and writes the credit fields embedded in the user entity.
// The subscription rows themselves belong to the billing collaborator; this
// store only reads the latest active one to derive the plan.
type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetCreditAccount(ctx context.Context, userID string) (models.CreditAccount, error) {
	account := models.CreditAccount{UserID: userID}

	var lastReset *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT credits_used, credits_limit, last_credit_reset
		FROM users
		WHERE id = $1
	`, userID).Scan(&account.CreditsUsed, &account.CreditsLimit, &lastReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return account, ErrNotFound
	}
	if err != nil {
		return account, fmt.Errorf("failed to load user credits: %w", err)
	}
	if lastReset != nil {
		account.LastCreditReset = *lastReset
	}

	// No active subscription means FREE.
	account.Plan = models.PlanFree
	account.Interval = models.IntervalMonthly

	var plan, interval string
	err = s.db.QueryRow(ctx, `
		SELECT plan, billing_interval
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&plan, &interval)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return account, fmt.Errorf("failed to load subscription: %w", err)
	}
	if err == nil {
		account.Plan = models.Plan(plan)
		if interval != "" {
			account.Interval = models.BillingInterval(interval)
		}
	}

	return account, nil
}

func (s *UserStore) SaveCreditAccount(ctx context.Context, account models.CreditAccount) error {
	var lastReset *time.Time
	if !account.LastCreditReset.IsZero() {
		lastReset = &account.LastCreditReset
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET credits_used = $1, credits_limit = $2, last_credit_reset = $3
		WHERE id = $4
	`, account.CreditsUsed, account.CreditsLimit, lastReset, account.UserID)
	if err != nil {
		return fmt.Errorf("failed to save credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeCredits is the per-user serialization point for admission under
// concurrent submissions: the increment and the ceiling check are one
// statement, so two concurrent runs cannot both slip under the limit.
func (s *UserStore) ConsumeCredits(ctx context.Context, userID string, cost int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET credits_used = credits_used + $1
		WHERE id = $2 AND credits_used + $1 <= credits_limit
	`, cost, userID)
	if err != nil {
		return fmt.Errorf("failed to consume credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credit ceiling reached for user %s", userID)
	}
	return nil
}
