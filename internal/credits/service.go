package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

// ErrQuotaExceeded rejects work that would push usage past the ceiling. It
// is raised at admission, before any browser session opens.
var ErrQuotaExceeded = errors.New("credit quota exceeded")

// UserStore is the slice of the persistence collaborator this package
// needs: a user's credit fields plus their active subscription tier.
type UserStore interface {
	GetCreditAccount(ctx context.Context, userID string) (models.CreditAccount, error)
	SaveCreditAccount(ctx context.Context, account models.CreditAccount) error
	// ConsumeCredits atomically increments credits_used by cost, failing
	// when the increment would pass credits_limit.
	ConsumeCredits(ctx context.Context, userID string, cost int) error
}

type Service struct {
	store  UserStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store UserStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "credits"),
		now:    time.Now,
	}
}

// ResolveCreditState reads the user's credit account, applies any pending
// cadence reset or ceiling correction, and persists the result when it
// changed.
func (s *Service) ResolveCreditState(ctx context.Context, userID string) (models.CreditAccount, error) {
	account, err := s.store.GetCreditAccount(ctx, userID)
	if err != nil {
		return models.CreditAccount{}, fmt.Errorf("failed to load credit account: %w", err)
	}

	next, changed := Resolve(account, s.now())
	if changed {
		if err := s.store.SaveCreditAccount(ctx, next); err != nil {
			return models.CreditAccount{}, fmt.Errorf("failed to persist credit state: %w", err)
		}
		s.logger.Info("credit state updated",
			"user", userID,
			"plan", next.Plan,
			"credits_used", next.CreditsUsed,
			"credits_limit", next.CreditsLimit,
		)
	}

	return next, nil
}

// Admit checks whether the user may start work costing cost credits. The
// check happens before any work is queued or any browser opens.
func (s *Service) Admit(ctx context.Context, userID string, cost int) error {
	account, err := s.ResolveCreditState(ctx, userID)
	if err != nil {
		return err
	}
	if account.CreditsUsed+cost > account.CreditsLimit {
		s.logger.Info("admission rejected",
			"user", userID,
			"cost", cost,
			"credits_used", account.CreditsUsed,
			"credits_limit", account.CreditsLimit,
		)
		return ErrQuotaExceeded
	}
	return nil
}

// Consume charges cost credits after a successful run. Failed or partial
// runs never reach this call.
func (s *Service) Consume(ctx context.Context, userID string, cost int) error {
	if err := s.store.ConsumeCredits(ctx, userID, cost); err != nil {
		return fmt.Errorf("failed to consume credits: %w", err)
	}
	return nil
}
