package models

import (
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	LoanStatusDue    LoanStatus = "due"
	LoanStatusRepaid LoanStatus = "repaid"
)

type RepaymentStatus string

const (
	RepaymentStatusDue     RepaymentStatus = "due"
	RepaymentStatusPartial RepaymentStatus = "partial"
	RepaymentStatusRepaid  RepaymentStatus = "repaid"
)

// Loan amounts are integers in the minor unit of CurrencyCode.
type Loan struct {
	ID                uuid.UUID  `json:"id"`
	UserID            string     `json:"user_id"` // Link to external user system
	Amount            int64      `json:"amount"`
	Terms             int        `json:"terms"`
	OutstandingAmount int64      `json:"outstanding_amount"`
	CurrencyCode      string     `json:"currency_code"`
	ProcessedAt       time.Time  `json:"processed_at"`
	Status            LoanStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Settle sets the aggregate outstanding amount and derives the loan status from it.
func (l *Loan) Settle(outstanding int64) {
	l.OutstandingAmount = outstanding
	if outstanding == 0 {
		l.Status = LoanStatusRepaid
	} else {
		l.Status = LoanStatusDue
	}
}

// ScheduledRepayment is one installment of a loan.
type ScheduledRepayment struct {
	ID                uuid.UUID       `json:"id"`
	LoanID            uuid.UUID       `json:"loan_id"`
	Sequence          int             `json:"sequence"` // 1-based position in the schedule
	Amount            int64           `json:"amount"`
	OutstandingAmount int64           `json:"outstanding_amount"`
	CurrencyCode      string          `json:"currency_code"`
	DueDate           time.Time       `json:"due_date"`
	Status            RepaymentStatus `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Open reports whether the installment still has something owed on it.
func (r *ScheduledRepayment) Open() bool {
	return r.Status == RepaymentStatusDue || r.Status == RepaymentStatusPartial
}

// Apply pays up to amount towards the installment and returns how much was used.
func (r *ScheduledRepayment) Apply(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	owed := r.OutstandingAmount
	if amount >= owed {
		r.OutstandingAmount = 0
		r.Status = RepaymentStatusRepaid
		return owed
	}
	r.OutstandingAmount = owed - amount
	r.Status = RepaymentStatusPartial
	return amount
}

// ReceivedRepayment is an append-only record of cash received for a loan.
type ReceivedRepayment struct {
	ID           uuid.UUID `json:"id"`
	LoanID       uuid.UUID `json:"loan_id"`
	Amount       int64     `json:"amount"`
	CurrencyCode string    `json:"currency_code"`
	ReceivedAt   time.Time `json:"received_at"`
	CreatedAt    time.Time `json:"created_at"`
}
