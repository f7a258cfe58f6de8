package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanSchedule/pkg/models"
	"github.com/mcclellann/loanSchedule/pkg/money"
)

// userHeader carries the caller's identity, set by the gateway in front of this service.
const userHeader = "X-User-ID"

func (s *Server) cardRoutes(router *mux.Router) {
	handle := func(path string, h http.HandlerFunc, method string) {
		router.Handle(path, requireUser(h)).Methods(method)
	}
	handle("/debit-cards", s.listCardsHandler, "GET")
	handle("/debit-cards", s.createCardHandler, "POST")
	handle("/debit-cards/{id}", s.getCardHandler, "GET")
	handle("/debit-cards/{id}", s.updateCardHandler, "PUT")
	handle("/debit-cards/{id}", s.deleteCardHandler, "DELETE")
	handle("/debit-card-transactions", s.listCardTransactionsHandler, "GET")
	handle("/debit-card-transactions", s.createCardTransactionHandler, "POST")
	handle("/debit-card-transactions/{id}", s.getCardTransactionHandler, "GET")
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(userHeader)) == "" {
			http.Error(w, userHeader+" header is required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

type debitCardResponse struct {
	ID             uuid.UUID `json:"id"`
	Number         string    `json:"number"`
	Type           string    `json:"type"`
	ExpirationDate string    `json:"expiration_date"`
	IsActive       bool      `json:"is_active"`
}

type cardTransactionResponse struct {
	ID            uuid.UUID `json:"id"`
	DebitCardID   uuid.UUID `json:"debit_card_id"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	CurrencyCode  string    `json:"currency_code"`
	CreatedAt     time.Time `json:"created_at"`
}

func toCardResponse(c *models.DebitCard) debitCardResponse {
	return debitCardResponse{
		ID:             c.ID,
		Number:         c.Number,
		Type:           c.Type,
		ExpirationDate: c.ExpirationDate.Format(dateLayout),
		IsActive:       c.IsActive,
	}
}

func toCardTransactionResponse(t *models.DebitCardTransaction) cardTransactionResponse {
	return cardTransactionResponse{
		ID:            t.ID,
		DebitCardID:   t.DebitCardID,
		Amount:        t.Amount,
		AmountDisplay: money.Format(t.Amount, t.CurrencyCode),
		CurrencyCode:  t.CurrencyCode,
		CreatedAt:     t.CreatedAt,
	}
}

func parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid "+what+" ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) listCardsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.cards.ListCards(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]debitCardResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCardResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createCardHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	card, err := s.cards.CreateCard(r.Context(), userID(r), req.Type)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardResponse(card))
}

func (s *Server) getCardHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "debit card")
	if !ok {
		return
	}

	card, err := s.cards.GetCard(r.Context(), userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardResponse(card))
}

func (s *Server) updateCardHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "debit card")
	if !ok {
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "is_active must be a boolean", http.StatusBadRequest)
		return
	}
	if req.IsActive == nil {
		http.Error(w, "is_active is required", http.StatusBadRequest)
		return
	}

	card, err := s.cards.SetActive(r.Context(), userID(r), id, *req.IsActive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardResponse(card))
}

func (s *Server) deleteCardHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "debit card")
	if !ok {
		return
	}

	if err := s.cards.DeleteCard(r.Context(), userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCardTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	cardID, err := uuid.Parse(r.URL.Query().Get("debit_card_id"))
	if err != nil {
		http.Error(w, "debit_card_id must be a valid ID", http.StatusBadRequest)
		return
	}

	txns, err := s.cards.ListTransactions(r.Context(), userID(r), cardID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]cardTransactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, toCardTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createCardTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DebitCardID  string `json:"debit_card_id"`
		Amount       int64  `json:"amount"`
		CurrencyCode string `json:"currency_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cardID, err := uuid.Parse(req.DebitCardID)
	if err != nil {
		http.Error(w, "debit_card_id must be a valid ID", http.StatusBadRequest)
		return
	}

	txn, err := s.cards.CreateTransaction(r.Context(), userID(r), cardID, req.Amount, req.CurrencyCode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardTransactionResponse(txn))
}

func (s *Server) getCardTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "transaction")
	if !ok {
		return
	}

	txn, err := s.cards.GetTransaction(r.Context(), userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardTransactionResponse(txn))
}
