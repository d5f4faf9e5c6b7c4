package api

import (
	"net/http"
	"strconv"

	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/ledger"
	"github.com/zenzefi/gateway/internal/payments"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())
	balance, err := s.ledger.Balance(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  balance.StringFixed(2),
		"currency": "ZNC",
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, offset = ledger.ClampPage(limit, offset)
	var txType *ledger.TransactionType
	if raw := q.Get("type"); raw != "" {
		t := ledger.TransactionType(raw)
		txType = &t
	}

	txs, total, err := s.ledger.Transactions(r.Context(), principal.UserID, limit, offset, txType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  txs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleMockPayment is the simulation endpoint the mock provider's
// confirmation URL points at; visiting it settles the payment as the
// real gateway's webhook would.
func (s *Server) handleMockPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := r.URL.Query().Get("payment_id")
	if paymentID == "" {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "payment_id is required"))
		return
	}

	if err := s.payments.HandleWebhook(r.Context(), paymentID, payments.StatusSucceeded); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_id": paymentID, "status": "succeeded"})
}
