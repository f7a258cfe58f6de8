package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanSchedule/pkg/cards"
	"github.com/mcclellann/loanSchedule/pkg/config"
	"github.com/mcclellann/loanSchedule/pkg/ledger"
	"github.com/mcclellann/loanSchedule/pkg/lock"
	"github.com/mcclellann/loanSchedule/pkg/models"
	"github.com/mcclellann/loanSchedule/pkg/money"
	"github.com/mcclellann/loanSchedule/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Server holds the ledger and debit card services.
type Server struct {
	ledger  *ledger.Ledger
	cards   *cards.Service
	storage store.Storage // Keep a reference to the storage to close it
	log     *logrus.Logger
}

func NewServer(s store.Storage, cs store.CardStorage, locker lock.Locker, log *logrus.Logger) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, locker, log),
		cards:   cards.NewService(cs, log),
		storage: s,
		log:     log,
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/repayments", s.repayLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/repayments", s.listReceivedRepaymentsHandler).Methods("GET")
	router.HandleFunc("/repayments/overdue", s.overdueHandler).Methods("GET")
	s.cardRoutes(router)
	return router
}

type scheduledRepaymentResponse struct {
	ID                 uuid.UUID              `json:"id"`
	Sequence           int                    `json:"sequence"`
	Amount             int64                  `json:"amount"`
	AmountDisplay      string                 `json:"amount_display"`
	OutstandingAmount  int64                  `json:"outstanding_amount"`
	OutstandingDisplay string                 `json:"outstanding_display"`
	CurrencyCode       string                 `json:"currency_code"`
	DueDate            string                 `json:"due_date"`
	Status             models.RepaymentStatus `json:"status"`
}

type loanResponse struct {
	ID                  uuid.UUID                    `json:"id"`
	UserID              string                       `json:"user_id"`
	Amount              int64                        `json:"amount"`
	AmountDisplay       string                       `json:"amount_display"`
	Terms               int                          `json:"terms"`
	OutstandingAmount   int64                        `json:"outstanding_amount"`
	OutstandingDisplay  string                       `json:"outstanding_display"`
	CurrencyCode        string                       `json:"currency_code"`
	ProcessedAt         string                       `json:"processed_at"`
	Status              models.LoanStatus            `json:"status"`
	ScheduledRepayments []scheduledRepaymentResponse `json:"scheduled_repayments,omitempty"`
}

type receivedRepaymentResponse struct {
	ID            uuid.UUID `json:"id"`
	LoanID        uuid.UUID `json:"loan_id"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	CurrencyCode  string    `json:"currency_code"`
	ReceivedAt    string    `json:"received_at"`
}

type repaymentResponse struct {
	Loan            loanResponse              `json:"loan"`
	Receipt         receivedRepaymentResponse `json:"receipt"`
	UnappliedAmount int64                     `json:"unapplied_amount"`
}

type overdueResponse struct {
	LoanID             uuid.UUID              `json:"loan_id"`
	Sequence           int                    `json:"sequence"`
	OutstandingAmount  int64                  `json:"outstanding_amount"`
	OutstandingDisplay string                 `json:"outstanding_display"`
	CurrencyCode       string                 `json:"currency_code"`
	DueDate            string                 `json:"due_date"`
	Status             models.RepaymentStatus `json:"status"`
}

func toLoanResponse(loan *models.Loan, schedule []*models.ScheduledRepayment) loanResponse {
	out := loanResponse{
		ID:                 loan.ID,
		UserID:             loan.UserID,
		Amount:             loan.Amount,
		AmountDisplay:      money.Format(loan.Amount, loan.CurrencyCode),
		Terms:              loan.Terms,
		OutstandingAmount:  loan.OutstandingAmount,
		OutstandingDisplay: money.Format(loan.OutstandingAmount, loan.CurrencyCode),
		CurrencyCode:       loan.CurrencyCode,
		ProcessedAt:        loan.ProcessedAt.Format(dateLayout),
		Status:             loan.Status,
	}
	for _, r := range schedule {
		out.ScheduledRepayments = append(out.ScheduledRepayments, scheduledRepaymentResponse{
			ID:                 r.ID,
			Sequence:           r.Sequence,
			Amount:             r.Amount,
			AmountDisplay:      money.Format(r.Amount, r.CurrencyCode),
			OutstandingAmount:  r.OutstandingAmount,
			OutstandingDisplay: money.Format(r.OutstandingAmount, r.CurrencyCode),
			CurrencyCode:       r.CurrencyCode,
			DueDate:            r.DueDate.Format(dateLayout),
			Status:             r.Status,
		})
	}
	return out
}

func toReceiptResponse(r *models.ReceivedRepayment) receivedRepaymentResponse {
	return receivedRepaymentResponse{
		ID:            r.ID,
		LoanID:        r.LoanID,
		Amount:        r.Amount,
		AmountDisplay: money.Format(r.Amount, r.CurrencyCode),
		CurrencyCode:  r.CurrencyCode,
		ReceivedAt:    r.ReceivedAt.Format(dateLayout),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidLoan), errors.Is(err, ledger.ErrInvalidPayment):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrDebitCardNotFound), errors.Is(err, store.ErrTransactionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, cards.ErrForbidden), errors.Is(err, store.ErrCardHasTransactions):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, cards.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.WithError(err).Error("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func parseLoanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"user_id"`
		Amount       int64  `json:"amount"`
		CurrencyCode string `json:"currency_code"`
		Terms        int    `json:"terms"`
		ProcessedAt  string `json:"processed_at"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	currency := money.Normalize(req.CurrencyCode)
	switch {
	case req.UserID == "":
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	case req.Amount <= 0:
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	case req.Terms <= 0:
		http.Error(w, "Terms must be positive", http.StatusBadRequest)
		return
	case !money.IsSupported(currency):
		http.Error(w, "Unsupported currency, expected one of "+strings.Join(money.Supported(), ", "), http.StatusBadRequest)
		return
	}
	processedAt, err := time.Parse(dateLayout, req.ProcessedAt)
	if err != nil {
		http.Error(w, "processed_at must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	loan, schedule, err := s.ledger.CreateLoan(r.Context(), ledger.CreateLoanInput{
		UserID:       req.UserID,
		Amount:       req.Amount,
		CurrencyCode: currency,
		Terms:        req.Terms,
		ProcessedAt:  processedAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanResponse(loan, schedule))
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	loan, schedule, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(loan, schedule))
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		out = append(out, toLoanResponse(loan, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) repayLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount       int64  `json:"amount"`
		CurrencyCode string `json:"currency_code"`
		ReceivedAt   string `json:"received_at"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	currency := money.Normalize(req.CurrencyCode)
	if req.Amount <= 0 {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}
	if !money.IsSupported(currency) {
		http.Error(w, "Unsupported currency, expected one of "+strings.Join(money.Supported(), ", "), http.StatusBadRequest)
		return
	}
	receivedAt, err := time.Parse(dateLayout, req.ReceivedAt)
	if err != nil {
		http.Error(w, "received_at must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	result, err := s.ledger.RepayLoan(r.Context(), ledger.RepaymentInput{
		LoanID:       loanID,
		Amount:       req.Amount,
		CurrencyCode: currency,
		ReceivedAt:   receivedAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, repaymentResponse{
		Loan:            toLoanResponse(result.Loan, result.ScheduledRepayments),
		Receipt:         toReceiptResponse(result.Receipt),
		UnappliedAmount: result.Unapplied,
	})
}

func (s *Server) listReceivedRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	receipts, err := s.ledger.GetReceivedRepayments(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]receivedRepaymentResponse, 0, len(receipts))
	for _, receipt := range receipts {
		out = append(out, toReceiptResponse(receipt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) overdueHandler(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			http.Error(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	overdue, err := s.ledger.ReportOverdue(r.Context(), asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]overdueResponse, 0, len(overdue))
	for _, o := range overdue {
		out = append(out, overdueResponse{
			LoanID:             o.LoanID,
			Sequence:           o.Sequence,
			OutstandingAmount:  o.OutstandingAmount,
			OutstandingDisplay: money.Format(o.OutstandingAmount, o.CurrencyCode),
			CurrencyCode:       o.CurrencyCode,
			DueDate:            o.DueDate.Format(dateLayout),
			Status:             o.Status,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.LockTTL, logger)
		if err := redisLocker.Ping(context.Background()); err != nil {
			logger.Fatalf("Failed to reach Redis at %s: %v", cfg.RedisAddr, err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		logger.Infof("Using Redis loan locks at %s", cfg.RedisAddr)
	}

	server := NewServer(sqliteStore, sqliteStore, locker, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.OverdueSchedule, func() {
		if _, err := server.ledger.ReportOverdue(context.Background(), time.Time{}); err != nil {
			logger.WithError(err).Error("overdue sweep failed")
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule overdue sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Errorf("Server failed: %v", err)
		return
	case <-quit:
		logger.Info("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
}
