package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/models"
)

// GenerateSchedule splits principal into terms monthly installments starting one month after start.
// The first principal%terms installments carry one extra minor unit so the amounts sum to principal.
func GenerateSchedule(loanID uuid.UUID, principal int64, currency string, terms int, start time.Time) ([]*models.ScheduledRepayment, error) {
	if terms <= 0 {
		return nil, fmt.Errorf("%w: terms must be positive", ErrInvalidLoan)
	}
	if principal < int64(terms) {
		return nil, fmt.Errorf("%w: amount %d cannot cover %d terms", ErrInvalidLoan, principal, terms)
	}

	base := principal / int64(terms)
	remainder := principal % int64(terms)
	start = Date(start)

	schedule := make([]*models.ScheduledRepayment, 0, terms)
	for i := 1; i <= terms; i++ {
		amount := base
		if int64(i) <= remainder {
			amount++
		}
		schedule = append(schedule, &models.ScheduledRepayment{
			ID:                uuid.New(),
			LoanID:            loanID,
			Sequence:          i,
			Amount:            amount,
			OutstandingAmount: amount,
			CurrencyCode:      currency,
			DueDate:           AddMonths(start, i),
			Status:            models.RepaymentStatusDue,
		})
	}
	return schedule, nil
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddMonths moves t forward by n calendar months, clamping the day to the end of the target month.
// Unlike time.AddDate, Jan 31 + 1 month is Feb 28 (or 29), not early March.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
