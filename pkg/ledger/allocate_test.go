package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/models"
)

func testSchedule(t *testing.T) []*models.ScheduledRepayment {
	t.Helper()
	schedule, err := GenerateSchedule(uuid.New(), 5000, "VND", 3, date("2020-01-20"))
	if err != nil {
		t.Fatalf("Failed to generate schedule: %v", err)
	}
	return schedule
}

func TestAllocate_ExactInstallment(t *testing.T) {
	schedule := testSchedule(t)

	alloc := Allocate(schedule, 1667)

	checkRepayment(t, schedule[0], 0, models.RepaymentStatusRepaid)
	checkRepayment(t, schedule[1], 1667, models.RepaymentStatusDue)
	checkRepayment(t, schedule[2], 1666, models.RepaymentStatusDue)
	if len(alloc.Changed) != 1 || alloc.Applied != 1667 || alloc.Unapplied != 0 || alloc.Outstanding != 3333 {
		t.Errorf("Unexpected allocation %+v", alloc)
	}
}

func TestAllocate_Waterfall(t *testing.T) {
	schedule := testSchedule(t)

	alloc := Allocate(schedule, 2000)

	checkRepayment(t, schedule[0], 0, models.RepaymentStatusRepaid)
	checkRepayment(t, schedule[1], 1334, models.RepaymentStatusPartial)
	checkRepayment(t, schedule[2], 1666, models.RepaymentStatusDue)
	if len(alloc.Changed) != 2 || alloc.Outstanding != 3000 {
		t.Errorf("Unexpected allocation %+v", alloc)
	}
}

func TestAllocate_SkipsRepaidAndFinishesPartial(t *testing.T) {
	schedule := testSchedule(t)
	Allocate(schedule, 2000)

	alloc := Allocate(schedule, 1334)

	checkRepayment(t, schedule[0], 0, models.RepaymentStatusRepaid)
	checkRepayment(t, schedule[1], 0, models.RepaymentStatusRepaid)
	checkRepayment(t, schedule[2], 1666, models.RepaymentStatusDue)
	if len(alloc.Changed) != 1 || alloc.Changed[0] != schedule[1] {
		t.Errorf("Expected only the partial installment to change, got %+v", alloc.Changed)
	}
}

func TestAllocate_OrdersByDueDate(t *testing.T) {
	schedule := testSchedule(t)
	// Store order must not matter.
	reversed := []*models.ScheduledRepayment{schedule[2], schedule[1], schedule[0]}

	Allocate(reversed, 1667)

	checkRepayment(t, schedule[0], 0, models.RepaymentStatusRepaid)
	checkRepayment(t, schedule[2], 1666, models.RepaymentStatusDue)
}

func TestAllocate_TieBrokenBySequence(t *testing.T) {
	due := date("2020-02-20")
	a := &models.ScheduledRepayment{Sequence: 2, Amount: 100, OutstandingAmount: 100, DueDate: due, Status: models.RepaymentStatusDue}
	b := &models.ScheduledRepayment{Sequence: 1, Amount: 100, OutstandingAmount: 100, DueDate: due, Status: models.RepaymentStatusDue}

	Allocate([]*models.ScheduledRepayment{a, b}, 150)

	checkRepayment(t, b, 0, models.RepaymentStatusRepaid)
	checkRepayment(t, a, 50, models.RepaymentStatusPartial)
}

func TestAllocate_Overpayment(t *testing.T) {
	schedule := testSchedule(t)

	alloc := Allocate(schedule, 6000)

	for _, r := range schedule {
		checkRepayment(t, r, 0, models.RepaymentStatusRepaid)
	}
	if alloc.Applied != 5000 || alloc.Unapplied != 1000 || alloc.Outstanding != 0 {
		t.Errorf("Unexpected allocation %+v", alloc)
	}

	again := Allocate(schedule, 10)
	if len(again.Changed) != 0 || again.Unapplied != 10 {
		t.Errorf("Expected no-op on a repaid schedule, got %+v", again)
	}
}
