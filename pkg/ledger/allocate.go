package ledger

import (
	"sort"

	"github.com/mcclellann/loanSchedule/pkg/models"
)

// Allocation is the outcome of applying one payment to a schedule.
type Allocation struct {
	Changed     []*models.ScheduledRepayment // installments touched by the payment, in allocation order
	Applied     int64
	Unapplied   int64 // payment left over after every open installment was repaid
	Outstanding int64 // sum of outstanding amounts across the whole schedule afterwards
}

// Allocate applies amount to the open installments of schedule, earliest due date first.
// Installments are mutated in place. Ties on due date are broken by sequence.
func Allocate(schedule []*models.ScheduledRepayment, amount int64) Allocation {
	open := make([]*models.ScheduledRepayment, 0, len(schedule))
	for _, r := range schedule {
		if r.Open() {
			open = append(open, r)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].DueDate.Equal(open[j].DueDate) {
			return open[i].DueDate.Before(open[j].DueDate)
		}
		return open[i].Sequence < open[j].Sequence
	})

	var out Allocation
	remaining := amount
	for _, r := range open {
		if remaining <= 0 {
			break
		}
		used := r.Apply(remaining)
		remaining -= used
		out.Applied += used
		out.Changed = append(out.Changed, r)
	}
	if remaining > 0 {
		out.Unapplied = remaining
	}
	out.Outstanding = Outstanding(schedule)
	return out
}

// Outstanding sums the outstanding amounts of every installment.
func Outstanding(schedule []*models.ScheduledRepayment) int64 {
	var total int64
	for _, r := range schedule {
		total += r.OutstandingAmount
	}
	return total
}
