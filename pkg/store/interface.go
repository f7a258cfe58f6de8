package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/models"
)

var (
	ErrLoanNotFound = errors.New("loan not found")
	// ErrBusy is returned when the backing database could not take the write lock.
	ErrBusy = errors.New("database is busy")
)

// Storage defines the interface for database operations related to loans and their repayments.
type Storage interface {
	// CreateLoan inserts the loan and its whole schedule atomically.
	CreateLoan(ctx context.Context, loan *models.Loan, schedule []*models.ScheduledRepayment) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetAllLoans(ctx context.Context, userID string) ([]*models.Loan, error)

	// GetScheduledRepayments returns the loan's installments ordered by due date, then sequence.
	GetScheduledRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.ScheduledRepayment, error)
	GetOverdueScheduledRepayments(ctx context.Context, asOf time.Time) ([]*models.ScheduledRepayment, error)

	CreateReceivedRepayment(ctx context.Context, receipt *models.ReceivedRepayment) error
	GetReceivedRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.ReceivedRepayment, error)

	// WithinTx runs fn inside a single write transaction. Nothing fn wrote is kept if it returns an error.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the set of operations available inside WithinTx.
type Tx interface {
	GetLoan(id uuid.UUID) (*models.Loan, error)
	GetScheduledRepayments(loanID uuid.UUID) ([]*models.ScheduledRepayment, error)
	UpdateScheduledRepayment(repayment *models.ScheduledRepayment) error
	UpdateLoan(loan *models.Loan) error
}
