package cards

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/models"
	"github.com/mcclellann/loanSchedule/pkg/money"
	"github.com/mcclellann/loanSchedule/pkg/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrForbidden means the card or transaction belongs to another user.
	ErrForbidden = errors.New("debit card belongs to another user")
	ErrInvalid   = errors.New("invalid debit card request")
)

// validity is how long a newly issued card stays valid.
const validity = 3

// Service manages users' debit cards and the transactions made with them.
type Service struct {
	storage store.CardStorage
	log     *logrus.Logger
	now     func() time.Time
}

func NewService(s store.CardStorage, log *logrus.Logger) *Service {
	return &Service{
		storage: s,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListCards returns the user's active cards.
func (s *Service) ListCards(ctx context.Context, userID string) ([]*models.DebitCard, error) {
	return s.storage.GetActiveDebitCards(ctx, userID)
}

// CreateCard issues a new active card of the given type.
func (s *Service) CreateCard(ctx context.Context, userID, cardType string) (*models.DebitCard, error) {
	cardType = strings.TrimSpace(cardType)
	if cardType == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalid)
	}

	now := s.now()
	card := &models.DebitCard{
		ID:             uuid.New(),
		UserID:         userID,
		Number:         newCardNumber(),
		Type:           cardType,
		ExpirationDate: time.Date(now.Year()+validity, now.Month(), 1, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.storage.CreateDebitCard(ctx, card); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"card_id": card.ID, "user_id": userID, "type": cardType}).Info("debit card created")
	return card, nil
}

// GetCard returns one of the user's cards.
func (s *Service) GetCard(ctx context.Context, userID string, id uuid.UUID) (*models.DebitCard, error) {
	card, err := s.storage.GetDebitCard(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.UserID != userID {
		return nil, ErrForbidden
	}
	return card, nil
}

// SetActive activates or deactivates one of the user's cards.
func (s *Service) SetActive(ctx context.Context, userID string, id uuid.UUID, active bool) (*models.DebitCard, error) {
	card, err := s.GetCard(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	card.SetActive(active, now)
	card.UpdatedAt = now
	if err := s.storage.UpdateDebitCard(ctx, card); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"card_id": card.ID, "is_active": active}).Info("debit card updated")
	return card, nil
}

// DeleteCard soft-deletes one of the user's cards. Cards with transactions cannot be deleted.
func (s *Service) DeleteCard(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := s.GetCard(ctx, userID, id); err != nil {
		return err
	}
	if err := s.storage.DeleteDebitCard(ctx, id, s.now()); err != nil {
		return err
	}
	s.log.WithField("card_id", id).Info("debit card deleted")
	return nil
}

// ListTransactions returns the transactions of one of the user's cards.
func (s *Service) ListTransactions(ctx context.Context, userID string, cardID uuid.UUID) ([]*models.DebitCardTransaction, error) {
	if _, err := s.GetCard(ctx, userID, cardID); err != nil {
		return nil, err
	}
	return s.storage.GetDebitCardTransactions(ctx, cardID)
}

// CreateTransaction records a transaction on one of the user's cards.
func (s *Service) CreateTransaction(ctx context.Context, userID string, cardID uuid.UUID, amount int64, currency string) (*models.DebitCardTransaction, error) {
	currency = money.Normalize(currency)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalid)
	}
	if !money.IsSupported(currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalid, currency)
	}
	if _, err := s.GetCard(ctx, userID, cardID); err != nil {
		return nil, err
	}

	txn := &models.DebitCardTransaction{
		ID:           uuid.New(),
		DebitCardID:  cardID,
		Amount:       amount,
		CurrencyCode: currency,
		CreatedAt:    s.now(),
	}
	if err := s.storage.CreateDebitCardTransaction(ctx, txn); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"card_id":        cardID,
		"amount":         amount,
		"currency":       currency,
	}).Info("debit card transaction created")
	return txn, nil
}

// GetTransaction returns a transaction made with one of the user's cards.
func (s *Service) GetTransaction(ctx context.Context, userID string, id uuid.UUID) (*models.DebitCardTransaction, error) {
	txn, err := s.storage.GetDebitCardTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetCard(ctx, userID, txn.DebitCardID); err != nil {
		return nil, err
	}
	return txn, nil
}

// newCardNumber returns a random 16 digit number with a valid Luhn check digit.
func newCardNumber() string {
	digits := make([]byte, 16)
	digits[0] = '4'
	for i := 1; i < 15; i++ {
		digits[i] = byte('0' + rand.IntN(10))
	}
	digits[15] = byte('0' + luhnCheckDigit(digits[:15]))
	return string(digits)
}

func luhnCheckDigit(payload []byte) int {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
