package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/loanSchedule/pkg/models"
)

const dateLayout = "2006-01-02"

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
// Transactions are opened with BEGIN IMMEDIATE so two writers on the same file serialize.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + path + "?" + params
}

// initSchema creates the database tables if they don't already exist.
// Calendar dates are stored as YYYY-MM-DD text so they sort lexically.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		terms INTEGER NOT NULL CHECK (terms > 0),
		outstanding_amount INTEGER NOT NULL CHECK (outstanding_amount >= 0),
		currency_code TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_user ON loans(user_id);
	CREATE TABLE IF NOT EXISTS scheduled_repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		outstanding_amount INTEGER NOT NULL CHECK (outstanding_amount >= 0),
		currency_code TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (loan_id, sequence),
		FOREIGN KEY(loan_id) REFERENCES loans(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_repayments_due ON scheduled_repayments(status, due_date);
	CREATE TABLE IF NOT EXISTS received_repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency_code TEXT NOT NULL,
		received_at TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_received_repayments_loan ON received_repayments(loan_id);
	CREATE TABLE IF NOT EXISTS debit_cards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		number TEXT NOT NULL,
		type TEXT NOT NULL,
		expiration_date TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		disabled_at DATETIME,
		deleted_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_debit_cards_user ON debit_cards(user_id);
	CREATE TABLE IF NOT EXISTS debit_card_transactions (
		id TEXT PRIMARY KEY,
		debit_card_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency_code TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(debit_card_id) REFERENCES debit_cards(id)
	);
	CREATE INDEX IF NOT EXISTS idx_debit_card_transactions_card ON debit_card_transactions(debit_card_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a loan and its schedule in one transaction.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan, schedule []*models.ScheduledRepayment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (id, user_id, amount, terms, outstanding_amount, currency_code, processed_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.UserID, loan.Amount, loan.Terms, loan.OutstandingAmount, loan.CurrencyCode,
		loan.ProcessedAt.Format(dateLayout), string(loan.Status), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", mapErr(err))
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scheduled_repayments (id, loan_id, sequence, amount, outstanding_amount, currency_code, due_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare scheduled repayment insert: %w", mapErr(err))
	}
	defer stmt.Close()

	for _, r := range schedule {
		_, err := stmt.ExecContext(ctx,
			r.ID.String(), r.LoanID.String(), r.Sequence, r.Amount, r.OutstandingAmount, r.CurrencyCode,
			r.DueDate.Format(dateLayout), string(r.Status), r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create scheduled repayment %d: %w", r.Sequence, mapErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit loan: %w", mapErr(err))
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return getLoan(ctx, s.db, id)
}

// GetAllLoans retrieves all loans, or only those of userID when it is not empty.
func (s *SQLiteStore) GetAllLoans(ctx context.Context, userID string) ([]*models.Loan, error) {
	q := `SELECT ` + loanColumns + ` FROM loans`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// GetScheduledRepayments retrieves the schedule of a loan in allocation order.
func (s *SQLiteStore) GetScheduledRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.ScheduledRepayment, error) {
	return getScheduledRepayments(ctx, s.db, loanID)
}

// GetOverdueScheduledRepayments retrieves unpaid installments due strictly before asOf.
func (s *SQLiteStore) GetOverdueScheduledRepayments(ctx context.Context, asOf time.Time) ([]*models.ScheduledRepayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+repaymentColumns+` FROM scheduled_repayments
		WHERE status IN (?, ?) AND due_date < ?
		ORDER BY due_date ASC, loan_id ASC, sequence ASC`,
		string(models.RepaymentStatusDue), string(models.RepaymentStatusPartial), asOf.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get overdue scheduled repayments: %w", err)
	}
	defer rows.Close()
	return scanScheduledRepayments(rows)
}

// CreateReceivedRepayment appends a receipt.
func (s *SQLiteStore) CreateReceivedRepayment(ctx context.Context, receipt *models.ReceivedRepayment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO received_repayments (id, loan_id, amount, currency_code, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.ID.String(), receipt.LoanID.String(), receipt.Amount, receipt.CurrencyCode,
		receipt.ReceivedAt.Format(dateLayout), receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create received repayment: %w", mapErr(err))
	}
	return nil
}

// GetReceivedRepayments retrieves all receipts of a loan in the order they were recorded.
func (s *SQLiteStore) GetReceivedRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, amount, currency_code, received_at, created_at
		FROM received_repayments WHERE loan_id = ? ORDER BY created_at ASC, rowid ASC`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get received repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var receipts []*models.ReceivedRepayment
	for rows.Next() {
		var r models.ReceivedRepayment
		var idStr, loanIDStr, receivedAt string
		if err := rows.Scan(&idStr, &loanIDStr, &r.Amount, &r.CurrencyCode, &receivedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan received repayment row: %w", err)
		}
		if r.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if r.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, err
		}
		if r.ReceivedAt, err = time.Parse(dateLayout, receivedAt); err != nil {
			return nil, fmt.Errorf("invalid received_at %q: %w", receivedAt, err)
		}
		receipts = append(receipts, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for received repayments: %w", err)
	}
	return receipts, nil
}

// WithinTx runs fn inside a write transaction and commits only if fn succeeds.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapErr(err))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return getLoan(t.ctx, t.tx, id)
}

func (t *sqliteTx) GetScheduledRepayments(loanID uuid.UUID) ([]*models.ScheduledRepayment, error) {
	return getScheduledRepayments(t.ctx, t.tx, loanID)
}

func (t *sqliteTx) UpdateScheduledRepayment(r *models.ScheduledRepayment) error {
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE scheduled_repayments SET outstanding_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		r.OutstandingAmount, string(r.Status), r.UpdatedAt, r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled repayment: %w", mapErr(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scheduled repayment %s not found", r.ID)
	}
	return nil
}

func (t *sqliteTx) UpdateLoan(loan *models.Loan) error {
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE loans SET outstanding_amount = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.OutstandingAmount, string(loan.Status), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", mapErr(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

const loanColumns = `id, user_id, amount, terms, outstanding_amount, currency_code, processed_at, status, created_at, updated_at`

const repaymentColumns = `id, loan_id, sequence, amount, outstanding_amount, currency_code, due_date, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func getLoan(ctx context.Context, q queryer, id uuid.UUID) (*models.Loan, error) {
	row := q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", mapErr(err))
	}
	return loan, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, processedAt, status string
	if err := row.Scan(&idStr, &loan.UserID, &loan.Amount, &loan.Terms, &loan.OutstandingAmount, &loan.CurrencyCode,
		&processedAt, &status, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	loan.ID = id
	loan.Status = models.LoanStatus(status)
	if loan.ProcessedAt, err = time.Parse(dateLayout, processedAt); err != nil {
		return nil, fmt.Errorf("invalid processed_at %q: %w", processedAt, err)
	}
	return &loan, nil
}

func getScheduledRepayments(ctx context.Context, q queryer, loanID uuid.UUID) ([]*models.ScheduledRepayment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+repaymentColumns+` FROM scheduled_repayments WHERE loan_id = ? ORDER BY due_date ASC, sequence ASC`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled repayments for loan %s: %w", loanID, mapErr(err))
	}
	defer rows.Close()
	return scanScheduledRepayments(rows)
}

func scanScheduledRepayments(rows *sql.Rows) ([]*models.ScheduledRepayment, error) {
	var out []*models.ScheduledRepayment
	for rows.Next() {
		var r models.ScheduledRepayment
		var idStr, loanIDStr, dueDate, status string
		if err := rows.Scan(&idStr, &loanIDStr, &r.Sequence, &r.Amount, &r.OutstandingAmount, &r.CurrencyCode,
			&dueDate, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled repayment row: %w", err)
		}
		var err error
		if r.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if r.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, err
		}
		if r.DueDate, err = time.Parse(dateLayout, dueDate); err != nil {
			return nil, fmt.Errorf("invalid due_date %q: %w", dueDate, err)
		}
		r.Status = models.RepaymentStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for scheduled repayments: %w", err)
	}
	return out, nil
}

// mapErr turns SQLite lock contention into ErrBusy.
func mapErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
