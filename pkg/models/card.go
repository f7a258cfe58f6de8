package models

import (
	"time"

	"github.com/google/uuid"
)

type DebitCard struct {
	ID             uuid.UUID  `json:"id"`
	UserID         string     `json:"user_id"`
	Number         string     `json:"number"`
	Type           string     `json:"type"`
	ExpirationDate time.Time  `json:"expiration_date"`
	IsActive       bool       `json:"is_active"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	DeletedAt      *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SetActive toggles the card. DisabledAt is set exactly when the card is inactive.
func (c *DebitCard) SetActive(active bool, now time.Time) {
	c.IsActive = active
	if active {
		c.DisabledAt = nil
		return
	}
	if c.DisabledAt == nil {
		c.DisabledAt = &now
	}
}

// DebitCardTransaction amounts are in the minor unit of CurrencyCode.
type DebitCardTransaction struct {
	ID           uuid.UUID `json:"id"`
	DebitCardID  uuid.UUID `json:"debit_card_id"`
	Amount       int64     `json:"amount"`
	CurrencyCode string    `json:"currency_code"`
	CreatedAt    time.Time `json:"created_at"`
}
