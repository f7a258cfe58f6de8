package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanSchedule/pkg/models"
)

var (
	ErrDebitCardNotFound   = errors.New("debit card not found")
	ErrTransactionNotFound = errors.New("debit card transaction not found")
	ErrCardHasTransactions = errors.New("debit card has transactions")
)

// CardStorage defines the database operations for debit cards and their transactions.
// Soft-deleted cards are invisible to every read.
type CardStorage interface {
	CreateDebitCard(ctx context.Context, card *models.DebitCard) error
	GetDebitCard(ctx context.Context, id uuid.UUID) (*models.DebitCard, error)
	// GetActiveDebitCards returns the user's cards that are active and not disabled.
	GetActiveDebitCards(ctx context.Context, userID string) ([]*models.DebitCard, error)
	UpdateDebitCard(ctx context.Context, card *models.DebitCard) error
	// DeleteDebitCard soft-deletes a card. It fails with ErrCardHasTransactions if any were recorded.
	DeleteDebitCard(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateDebitCardTransaction(ctx context.Context, txn *models.DebitCardTransaction) error
	GetDebitCardTransaction(ctx context.Context, id uuid.UUID) (*models.DebitCardTransaction, error)
	GetDebitCardTransactions(ctx context.Context, cardID uuid.UUID) ([]*models.DebitCardTransaction, error)
}

const cardColumns = `id, user_id, number, type, expiration_date, is_active, disabled_at, deleted_at, created_at, updated_at`

func (s *SQLiteStore) CreateDebitCard(ctx context.Context, card *models.DebitCard) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO debit_cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID.String(), card.UserID, card.Number, card.Type, card.ExpirationDate.Format(dateLayout),
		card.IsActive, nullTime(card.DisabledAt), nullTime(card.DeletedAt), card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create debit card: %w", mapErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetDebitCard(ctx context.Context, id uuid.UUID) (*models.DebitCard, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM debit_cards WHERE id = ? AND deleted_at IS NULL`, id.String())
	card, err := scanDebitCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDebitCardNotFound
		}
		return nil, fmt.Errorf("failed to get debit card: %w", err)
	}
	return card, nil
}

func (s *SQLiteStore) GetActiveDebitCards(ctx context.Context, userID string) ([]*models.DebitCard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM debit_cards
		WHERE user_id = ? AND is_active = 1 AND disabled_at IS NULL AND deleted_at IS NULL
		ORDER BY created_at ASC, rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get debit cards: %w", err)
	}
	defer rows.Close()

	var cards []*models.DebitCard
	for rows.Next() {
		card, err := scanDebitCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debit card row: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for debit cards: %w", err)
	}
	return cards, nil
}

func (s *SQLiteStore) UpdateDebitCard(ctx context.Context, card *models.DebitCard) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE debit_cards SET is_active = ?, disabled_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		card.IsActive, nullTime(card.DisabledAt), card.UpdatedAt, card.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update debit card: %w", mapErr(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDebitCardNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteDebitCard(ctx context.Context, id uuid.UUID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM debit_card_transactions WHERE debit_card_id = ?`, id.String(),
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count debit card transactions: %w", mapErr(err))
	}
	if count > 0 {
		return ErrCardHasTransactions
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE debit_cards SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at, at, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete debit card: %w", mapErr(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDebitCardNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit card deletion: %w", mapErr(err))
	}
	return nil
}

// CreateDebitCardTransaction appends a transaction. The card must exist and not be deleted.
func (s *SQLiteStore) CreateDebitCardTransaction(ctx context.Context, txn *models.DebitCardTransaction) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO debit_card_transactions (id, debit_card_id, amount, currency_code, created_at)
		SELECT ?, id, ?, ?, ? FROM debit_cards WHERE id = ? AND deleted_at IS NULL`,
		txn.ID.String(), txn.Amount, txn.CurrencyCode, txn.CreatedAt, txn.DebitCardID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create debit card transaction: %w", mapErr(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDebitCardNotFound
	}
	return nil
}

func (s *SQLiteStore) GetDebitCardTransaction(ctx context.Context, id uuid.UUID) (*models.DebitCardTransaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, debit_card_id, amount, currency_code, created_at FROM debit_card_transactions WHERE id = ?`,
		id.String(),
	)
	txn, err := scanDebitCardTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get debit card transaction: %w", err)
	}
	return txn, nil
}

func (s *SQLiteStore) GetDebitCardTransactions(ctx context.Context, cardID uuid.UUID) ([]*models.DebitCardTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, debit_card_id, amount, currency_code, created_at
		FROM debit_card_transactions WHERE debit_card_id = ? ORDER BY created_at ASC, rowid ASC`,
		cardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for debit card %s: %w", cardID, err)
	}
	defer rows.Close()

	var txns []*models.DebitCardTransaction
	for rows.Next() {
		txn, err := scanDebitCardTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debit card transaction row: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for debit card transactions: %w", err)
	}
	return txns, nil
}

func scanDebitCard(row scanner) (*models.DebitCard, error) {
	var card models.DebitCard
	var idStr, expiration string
	var disabledAt, deletedAt sql.NullTime
	if err := row.Scan(&idStr, &card.UserID, &card.Number, &card.Type, &expiration, &card.IsActive,
		&disabledAt, &deletedAt, &card.CreatedAt, &card.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if card.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid debit card id %q: %w", idStr, err)
	}
	if card.ExpirationDate, err = time.Parse(dateLayout, expiration); err != nil {
		return nil, fmt.Errorf("invalid expiration_date %q: %w", expiration, err)
	}
	if disabledAt.Valid {
		card.DisabledAt = &disabledAt.Time
	}
	if deletedAt.Valid {
		card.DeletedAt = &deletedAt.Time
	}
	return &card, nil
}

func scanDebitCardTransaction(row scanner) (*models.DebitCardTransaction, error) {
	var txn models.DebitCardTransaction
	var idStr, cardIDStr string
	if err := row.Scan(&idStr, &cardIDStr, &txn.Amount, &txn.CurrencyCode, &txn.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if txn.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if txn.DebitCardID, err = uuid.Parse(cardIDStr); err != nil {
		return nil, err
	}
	return &txn, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
