package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/lock"
	"github.com/mcclellann/loanSchedule/pkg/models"
	"github.com/mcclellann/loanSchedule/pkg/store"
	"github.com/sirupsen/logrus"
)

// Ledger handles the business logic for loans and their repayments.
type Ledger struct {
	storage store.Storage
	locker  lock.Locker
	log     *logrus.Logger
	now     func() time.Time
}

// NewLedger creates a new Ledger with a given Storage implementation and per-loan locker.
func NewLedger(s store.Storage, locker lock.Locker, log *logrus.Logger) *Ledger {
	return &Ledger{
		storage: s,
		locker:  locker,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateLoanInput struct {
	UserID       string
	Amount       int64
	CurrencyCode string
	Terms        int
	ProcessedAt  time.Time
}

type RepaymentInput struct {
	LoanID       uuid.UUID
	Amount       int64
	CurrencyCode string
	ReceivedAt   time.Time
}

// RepaymentResult is the state of a loan right after a repayment was allocated.
type RepaymentResult struct {
	Loan                *models.Loan
	ScheduledRepayments []*models.ScheduledRepayment
	Receipt             *models.ReceivedRepayment
	// Unapplied is the part of the payment that exceeded everything owed. It is kept only in the receipt.
	Unapplied int64
}

// CreateLoan stores a new loan together with its full repayment schedule.
func (l *Ledger) CreateLoan(ctx context.Context, in CreateLoanInput) (*models.Loan, []*models.ScheduledRepayment, error) {
	if in.Amount <= 0 {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrInvalidLoan)
	}

	now := l.now()
	loan := &models.Loan{
		ID:                uuid.New(),
		UserID:            in.UserID,
		Amount:            in.Amount,
		Terms:             in.Terms,
		OutstandingAmount: in.Amount,
		CurrencyCode:      in.CurrencyCode,
		ProcessedAt:       Date(in.ProcessedAt),
		Status:            models.LoanStatusDue,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	schedule, err := GenerateSchedule(loan.ID, in.Amount, in.CurrencyCode, in.Terms, loan.ProcessedAt)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range schedule {
		r.CreatedAt = now
		r.UpdatedAt = now
	}

	if err := l.storage.CreateLoan(ctx, loan, schedule); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"loan_id":  loan.ID,
		"user_id":  loan.UserID,
		"amount":   loan.Amount,
		"currency": loan.CurrencyCode,
		"terms":    loan.Terms,
	}).Info("loan created")
	return loan, schedule, nil
}

// RepayLoan records a received payment and allocates it across the loan's open installments.
// Validation failures and lock contention leave no trace. Once the lock is held, the receipt is kept
// even if allocation fails.
func (l *Ledger) RepayLoan(ctx context.Context, in RepaymentInput) (*RepaymentResult, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidPayment
	}

	loan, err := l.storage.GetLoan(ctx, in.LoanID)
	if err != nil {
		return nil, err
	}
	if in.CurrencyCode != loan.CurrencyCode {
		return nil, fmt.Errorf("%w: got %s, loan is in %s", ErrCurrencyMismatch, in.CurrencyCode, loan.CurrencyCode)
	}

	release, err := l.locker.Acquire(ctx, loan.ID.String())
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return nil, err
	}
	defer release()

	receipt := &models.ReceivedRepayment{
		ID:           uuid.New(),
		LoanID:       loan.ID,
		Amount:       in.Amount,
		CurrencyCode: in.CurrencyCode,
		ReceivedAt:   Date(in.ReceivedAt),
		CreatedAt:    l.now(),
	}
	if err := l.storage.CreateReceivedRepayment(ctx, receipt); err != nil {
		return nil, fmt.Errorf("failed to store received repayment: %w", err)
	}

	result := &RepaymentResult{Receipt: receipt}
	err = l.storage.WithinTx(ctx, func(tx store.Tx) error {
		loan, err := tx.GetLoan(in.LoanID)
		if err != nil {
			return err
		}
		schedule, err := tx.GetScheduledRepayments(loan.ID)
		if err != nil {
			return err
		}

		if sum := Outstanding(schedule); sum != loan.OutstandingAmount {
			l.log.WithFields(logrus.Fields{
				"loan_id":          loan.ID,
				"loan_outstanding": loan.OutstandingAmount,
				"schedule_sum":     sum,
			}).Warn("loan outstanding amount drifted from its schedule, recomputing")
		}

		alloc := Allocate(schedule, in.Amount)
		now := l.now()
		for _, r := range alloc.Changed {
			r.UpdatedAt = now
			if err := tx.UpdateScheduledRepayment(r); err != nil {
				return err
			}
		}

		loan.Settle(alloc.Outstanding)
		loan.UpdatedAt = now
		if err := tx.UpdateLoan(loan); err != nil {
			return err
		}

		result.Loan = loan
		result.ScheduledRepayments = schedule
		result.Unapplied = alloc.Unapplied
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("failed to allocate repayment: %w", err)
	}

	fields := logrus.Fields{
		"loan_id":     result.Loan.ID,
		"receipt_id":  receipt.ID,
		"amount":      in.Amount,
		"outstanding": result.Loan.OutstandingAmount,
		"status":      result.Loan.Status,
	}
	if result.Unapplied > 0 {
		fields["unapplied"] = result.Unapplied
		l.log.WithFields(fields).Warn("repayment exceeded outstanding amount")
	} else {
		l.log.WithFields(fields).Info("repayment allocated")
	}
	return result, nil
}

// GetLoan retrieves a loan and its schedule.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, []*models.ScheduledRepayment, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	schedule, err := l.storage.GetScheduledRepayments(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return loan, schedule, nil
}

// GetAllLoans retrieves all loans, optionally limited to one user.
func (l *Ledger) GetAllLoans(ctx context.Context, userID string) ([]*models.Loan, error) {
	return l.storage.GetAllLoans(ctx, userID)
}

// GetReceivedRepayments retrieves the receipts recorded for a loan.
func (l *Ledger) GetReceivedRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetReceivedRepayments(ctx, loanID)
}

// SetClock replaces the time source used for timestamps and the default overdue date.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// ReportOverdue lists open installments due before asOf and logs each one. It changes nothing.
// A zero asOf means today.
func (l *Ledger) ReportOverdue(ctx context.Context, asOf time.Time) ([]*models.ScheduledRepayment, error) {
	if asOf.IsZero() {
		asOf = l.now()
	}
	overdue, err := l.storage.GetOverdueScheduledRepayments(ctx, Date(asOf))
	if err != nil {
		return nil, err
	}
	for _, r := range overdue {
		l.log.WithFields(logrus.Fields{
			"loan_id":     r.LoanID,
			"sequence":    r.Sequence,
			"due_date":    r.DueDate.Format("2006-01-02"),
			"outstanding": r.OutstandingAmount,
			"status":      r.Status,
		}).Warn("installment overdue")
	}
	l.log.WithFields(logrus.Fields{"as_of": Date(asOf).Format("2006-01-02"), "count": len(overdue)}).Info("overdue sweep complete")
	return overdue, nil
}
