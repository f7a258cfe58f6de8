package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/models"
)

func seedCard(t *testing.T, s *SQLiteStore, userID string) *models.DebitCard {
	t.Helper()
	now := time.Now().UTC()
	card := &models.DebitCard{
		ID:             uuid.New(),
		UserID:         userID,
		Number:         "4111111111111111",
		Type:           "visa",
		ExpirationDate: day("2027-05-01"),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreateDebitCard(context.Background(), card); err != nil {
		t.Fatalf("Failed to create debit card: %v", err)
	}
	return card
}

func TestSQLiteStore_DebitCardRoundTrip(t *testing.T) {
	s := newTestStore(t)
	card := seedCard(t, s, "user-1")

	fetched, err := s.GetDebitCard(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("Failed to get debit card: %v", err)
	}
	if fetched.Number != card.Number || !fetched.IsActive || fetched.DisabledAt != nil || fetched.DeletedAt != nil {
		t.Errorf("Unexpected debit card %+v", fetched)
	}
	if got := fetched.ExpirationDate.Format(dateLayout); got != "2027-05-01" {
		t.Errorf("Expected expiration 2027-05-01, got %s", got)
	}

	disabledAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetched.SetActive(false, disabledAt)
	if err := s.UpdateDebitCard(context.Background(), fetched); err != nil {
		t.Fatalf("Failed to update debit card: %v", err)
	}
	updated, _ := s.GetDebitCard(context.Background(), card.ID)
	if updated.IsActive || updated.DisabledAt == nil || !updated.DisabledAt.Equal(disabledAt) {
		t.Errorf("Expected card disabled at %s, got %+v", disabledAt, updated)
	}

	active, _ := s.GetActiveDebitCards(context.Background(), "user-1")
	if len(active) != 0 {
		t.Errorf("Expected disabled card to be excluded, got %d", len(active))
	}
}

func TestSQLiteStore_DeleteDebitCard(t *testing.T) {
	s := newTestStore(t)
	card := seedCard(t, s, "user-1")

	if err := s.DeleteDebitCard(context.Background(), card.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Failed to delete debit card: %v", err)
	}
	if _, err := s.GetDebitCard(context.Background(), card.ID); !errors.Is(err, ErrDebitCardNotFound) {
		t.Errorf("Expected soft-deleted card to be hidden, got %v", err)
	}
	if err := s.DeleteDebitCard(context.Background(), card.ID, time.Now().UTC()); !errors.Is(err, ErrDebitCardNotFound) {
		t.Errorf("Expected second delete to report not found, got %v", err)
	}

	row := s.db.QueryRow(`SELECT `+cardColumns+` FROM debit_cards WHERE id = ?`, card.ID.String())
	raw, err := scanDebitCard(row)
	if err != nil {
		t.Fatalf("Expected row to remain after soft delete: %v", err)
	}
	if raw.DeletedAt == nil {
		t.Error("Expected deleted_at to be set")
	}

	err = s.CreateDebitCardTransaction(context.Background(), &models.DebitCardTransaction{
		ID: uuid.New(), DebitCardID: card.ID, Amount: 10, CurrencyCode: "SGD", CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrDebitCardNotFound) {
		t.Errorf("Expected transaction on a deleted card to fail, got %v", err)
	}
}

func TestSQLiteStore_DeleteDebitCardWithTransactions(t *testing.T) {
	s := newTestStore(t)
	card := seedCard(t, s, "user-1")
	txn := &models.DebitCardTransaction{
		ID: uuid.New(), DebitCardID: card.ID, Amount: 10000, CurrencyCode: "IDR", CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateDebitCardTransaction(context.Background(), txn); err != nil {
		t.Fatalf("Failed to create transaction: %v", err)
	}

	if err := s.DeleteDebitCard(context.Background(), card.ID, time.Now().UTC()); !errors.Is(err, ErrCardHasTransactions) {
		t.Fatalf("Expected ErrCardHasTransactions, got %v", err)
	}
	if _, err := s.GetDebitCard(context.Background(), card.ID); err != nil {
		t.Errorf("Expected card to survive, got %v", err)
	}

	fetched, err := s.GetDebitCardTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("Failed to get transaction: %v", err)
	}
	if fetched.Amount != 10000 || fetched.DebitCardID != card.ID {
		t.Errorf("Unexpected transaction %+v", fetched)
	}
	all, _ := s.GetDebitCardTransactions(context.Background(), card.ID)
	if len(all) != 1 {
		t.Errorf("Expected 1 transaction, got %d", len(all))
	}
}
