package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
)

// ErrInsufficientCredits carries enough state for the caller (or the agent)
// to react: the current balance and the amount that was needed.
type ErrInsufficientCredits struct {
	Balance int
	Needed  int
}

func (e *ErrInsufficientCredits) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Balance, e.Needed)
}

// Service is the only write path to the credit ledger. Every method
// consults the global metering switch first; when metering is disabled the
// ledger is never touched, not even for a zero-amount entry.
type Service struct {
	repo    repository.CreditRepository
	enabled bool
	logger  zerolog.Logger
}

func NewService(repo repository.CreditRepository, enabled bool, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		enabled: enabled,
		logger:  logger.With().Str("component", "credits").Logger(),
	}
}

// Enabled reports whether metering is on. Callers use it for display only;
// the short-circuit itself lives inside each mutating method.
func (s *Service) Enabled() bool {
	return s.enabled
}

func (s *Service) Balance(ctx context.Context, userID string) (models.CreditBalance, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

// CheckAndDeduct atomically verifies and debits the balance. Concurrent
// debits against the same user serialize on the row lock inside the
// repository; two simultaneous triggers never both succeed when only one
// fits the balance.
func (s *Service) CheckAndDeduct(ctx context.Context, userID string, amount int, description string) (models.CreditBalance, error) {
	if !s.enabled {
		return models.CreditBalance{UserID: userID}, nil
	}
	if amount == 0 {
		return s.repo.GetBalance(ctx, userID)
	}

	balance, err := s.repo.Deduct(ctx, userID, amount, models.TransactionTypeUsage, description)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceTooLow) {
			return balance, &ErrInsufficientCredits{Balance: balance.Balance, Needed: amount}
		}
		return balance, errors.Wrap(err, "credit deduction failed")
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("amount", amount).
		Int("balance", balance.Balance).
		Msg("credits deducted")
	return balance, nil
}

// Add grants credits with no balance floor.
func (s *Service) Add(ctx context.Context, userID string, amount int, txType models.TransactionType, description string, ref *repository.TxRef) (models.CreditBalance, error) {
	if !s.enabled {
		return models.CreditBalance{UserID: userID}, nil
	}

	balance, err := s.repo.Add(ctx, userID, amount, txType, description, ref)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateReference) {
			// Redelivery of a purchase event is a success, not an error.
			s.logger.Info().
				Str("user_id", userID).
				Str("reference", refString(ref)).
				Msg("duplicate credit grant skipped")
			return s.repo.GetBalance(ctx, userID)
		}
		return balance, errors.Wrap(err, "credit grant failed")
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("amount", amount).
		Int("balance", balance.Balance).
		Msg("credits added")
	return balance, nil
}

// ResetPeriod starts a fresh billing period: balance set to the plan's
// monthly grant, used_this_period zeroed, period bounds rewritten. The ref
// makes it idempotent against webhook redelivery.
func (s *Service) ResetPeriod(ctx context.Context, userID string, newBalance int, periodStart, periodEnd time.Time, ref repository.TxRef) (models.CreditBalance, error) {
	if !s.enabled {
		return models.CreditBalance{UserID: userID}, nil
	}

	balance, applied, err := s.repo.ResetPeriod(ctx, userID, newBalance, periodStart, periodEnd, &ref)
	if err != nil {
		return balance, errors.Wrap(err, "period reset failed")
	}
	if !applied {
		s.logger.Info().
			Str("user_id", userID).
			Str("reference", ref.Type+"/"+ref.ID).
			Msg("duplicate period reset skipped")
		return balance, nil
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("balance", balance.Balance).
		Msg("billing period reset")
	return balance, nil
}

// CapBalance lowers a balance to the given ceiling on plan downgrade. A
// grandfathered surplus above the ceiling is removed, never refunded; a
// balance already at or below the ceiling is untouched.
func (s *Service) CapBalance(ctx context.Context, userID string, ceiling int, description string) (models.CreditBalance, error) {
	if !s.enabled {
		return models.CreditBalance{UserID: userID}, nil
	}
	balance, err := s.repo.CapBalance(ctx, userID, ceiling, description)
	return balance, errors.Wrap(err, "balance cap failed")
}

func refString(ref *repository.TxRef) string {
	if ref == nil {
		return ""
	}
	return ref.Type + "/" + ref.ID
}
