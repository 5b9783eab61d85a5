package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/leadninja/leadninja-api/internal/models"
)

// ErrBalanceTooLow is returned by Deduct when the locked balance cannot
// cover the requested amount. The caller inspects the row it read to build
// a typed insufficient-credits error.
var ErrBalanceTooLow = errors.New("balance too low")

// ErrDuplicateReference is returned when a grant carrying an idempotency
// reference collides with an existing transaction for the same reference.
var ErrDuplicateReference = errors.New("transaction reference already recorded")

// TxRef is an optional (reference_type, reference_id) idempotency key
// attached to a ledger transaction.
type TxRef struct {
	Type string
	ID   string
}

type CreditRepository interface {
	GetBalance(ctx context.Context, userID string) (models.CreditBalance, error)

	// Deduct locks the balance row, verifies balance >= amount, decrements
	// it, increments used_this_period and appends the transaction row, all
	// inside one database transaction. Returns the balance as of before
	// the deduction alongside ErrBalanceTooLow when the check fails.
	Deduct(ctx context.Context, userID string, amount int, txType models.TransactionType, description string) (models.CreditBalance, error)

	// Add accumulates credits with no floor check, atomically with its
	// transaction-log write.
	Add(ctx context.Context, userID string, amount int, txType models.TransactionType, description string, ref *TxRef) (models.CreditBalance, error)

	// ResetPeriod sets the balance outright, zeroes used_this_period and
	// rewrites the period bounds. When ref matches an existing transaction
	// the call no-ops and returns the current balance unchanged.
	ResetPeriod(ctx context.Context, userID string, newBalance int, periodStart, periodEnd time.Time, ref *TxRef) (models.CreditBalance, bool, error)

	// CapBalance lowers the balance to ceiling when it currently exceeds
	// it; balances at or below the ceiling are untouched.
	CapBalance(ctx context.Context, userID string, ceiling int, description string) (models.CreditBalance, error)

	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error)
	HasTransactionRef(ctx context.Context, ref TxRef) (bool, error)
}

type creditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) CreditRepository {
	return &creditRepository{db: db}
}

const balanceColumns = `user_id, balance, used_this_period, period_start, period_end, updated_at`

func scanBalance(row *sql.Row) (models.CreditBalance, error) {
	var b models.CreditBalance
	err := row.Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	return b, err
}

func (r *creditRepository) GetBalance(ctx context.Context, userID string) (models.CreditBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM ninja.credit_balances WHERE user_id = $1`
	b, err := scanBalance(r.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		// No row yet means a zero balance, not an error.
		return models.CreditBalance{UserID: userID}, nil
	}
	return b, err
}

func (r *creditRepository) Deduct(ctx context.Context, userID string, amount int, txType models.TransactionType, description string) (models.CreditBalance, error) {
	if amount <= 0 {
		return models.CreditBalance{}, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return models.CreditBalance{}, err
	}
	defer tx.Rollback()

	var b models.CreditBalance
	lockQuery := `SELECT ` + balanceColumns + ` FROM ninja.credit_balances WHERE user_id = $1 FOR UPDATE`
	err = tx.QueryRowContext(ctx, lockQuery, userID).
		Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.CreditBalance{UserID: userID}, ErrBalanceTooLow
		}
		return b, err
	}

	if b.Balance < amount {
		return b, ErrBalanceTooLow
	}

	updateQuery := `
		UPDATE ninja.credit_balances
		SET balance = balance - $2,
		    used_this_period = used_this_period + $2,
		    updated_at = now()
		WHERE user_id = $1
		RETURNING ` + balanceColumns + `
	`
	err = tx.QueryRowContext(ctx, updateQuery, userID, amount).
		Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	if err != nil {
		return b, err
	}

	if err := insertTransaction(ctx, tx, userID, -amount, b.Balance, txType, description, nil); err != nil {
		return b, err
	}
	return b, tx.Commit()
}

func (r *creditRepository) Add(ctx context.Context, userID string, amount int, txType models.TransactionType, description string, ref *TxRef) (models.CreditBalance, error) {
	if amount <= 0 {
		return models.CreditBalance{}, fmt.Errorf("add amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return models.CreditBalance{}, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ninja.credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = ninja.credit_balances.balance + $2, updated_at = now()
		RETURNING ` + balanceColumns + `
	`
	var b models.CreditBalance
	err = tx.QueryRowContext(ctx, query, userID, amount).
		Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	if err != nil {
		return b, err
	}

	if err := insertTransaction(ctx, tx, userID, amount, b.Balance, txType, description, ref); err != nil {
		return b, err
	}
	return b, tx.Commit()
}

func (r *creditRepository) ResetPeriod(ctx context.Context, userID string, newBalance int, periodStart, periodEnd time.Time, ref *TxRef) (models.CreditBalance, bool, error) {
	if ref != nil {
		exists, err := r.HasTransactionRef(ctx, *ref)
		if err != nil {
			return models.CreditBalance{}, false, err
		}
		if exists {
			b, err := r.GetBalance(ctx, userID)
			return b, false, err
		}
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return models.CreditBalance{}, false, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ninja.credit_balances (user_id, balance, used_this_period, period_start, period_end, updated_at)
		VALUES ($1, $2, 0, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = $2,
		    used_this_period = 0,
		    period_start = $3,
		    period_end = $4,
		    updated_at = now()
		RETURNING ` + balanceColumns + `
	`
	var b models.CreditBalance
	err = tx.QueryRowContext(ctx, query, userID, newBalance, periodStart, periodEnd).
		Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	if err != nil {
		return b, false, err
	}

	err = insertTransaction(ctx, tx, userID, newBalance, b.Balance, models.TransactionTypeSubscriptionRenewal, "period reset", ref)
	if err != nil {
		// A concurrent redelivery can slip past the pre-check; the partial
		// unique index turns it into a no-op instead of a double grant.
		if errors.Is(err, ErrDuplicateReference) {
			b, getErr := r.GetBalance(ctx, userID)
			return b, false, getErr
		}
		return b, false, err
	}
	return b, true, tx.Commit()
}

func (r *creditRepository) CapBalance(ctx context.Context, userID string, ceiling int, description string) (models.CreditBalance, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return models.CreditBalance{}, err
	}
	defer tx.Rollback()

	var b models.CreditBalance
	lockQuery := `SELECT ` + balanceColumns + ` FROM ninja.credit_balances WHERE user_id = $1 FOR UPDATE`
	err = tx.QueryRowContext(ctx, lockQuery, userID).
		Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.CreditBalance{UserID: userID}, nil
		}
		return b, err
	}

	if b.Balance <= ceiling {
		return b, tx.Commit()
	}
	removed := b.Balance - ceiling

	updateQuery := `
		UPDATE ninja.credit_balances
		SET balance = $2, updated_at = now()
		WHERE user_id = $1
		RETURNING ` + balanceColumns + `
	`
	err = tx.QueryRowContext(ctx, updateQuery, userID, ceiling).
		Scan(&b.UserID, &b.Balance, &b.UsedThisPeriod, &b.PeriodStart, &b.PeriodEnd, &b.UpdatedAt)
	if err != nil {
		return b, err
	}

	if err := insertTransaction(ctx, tx, userID, -removed, b.Balance, models.TransactionTypeAdjustment, description, nil); err != nil {
		return b, err
	}
	return b, tx.Commit()
}

func (r *creditRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	query := `
		SELECT id, user_id, amount, balance_after, type, reference_type, reference_id, description, created_at
		FROM ninja.credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]models.CreditTransaction, 0, limit)
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Amount, &t.BalanceAfter, &t.Type,
			&t.ReferenceType, &t.ReferenceID, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (r *creditRepository) HasTransactionRef(ctx context.Context, ref TxRef) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ninja.credit_transactions
			WHERE reference_type = $1 AND reference_id = $2
		)
	`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, ref.Type, ref.ID).Scan(&exists)
	return exists, err
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID string, amount, balanceAfter int, txType models.TransactionType, description string, ref *TxRef) error {
	var refType, refID interface{}
	if ref != nil {
		refType, refID = ref.Type, ref.ID
	}
	query := `
		INSERT INTO ninja.credit_transactions (user_id, amount, balance_after, type, reference_type, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query, userID, amount, balanceAfter, txType, refType, refID, description)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}
