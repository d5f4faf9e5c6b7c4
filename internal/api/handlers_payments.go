package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/middleware"
	"github.com/zenzefi/gateway/internal/payments"
)

type topUpRequest struct {
	AmountZNC string `json:"amount_znc"`
	ReturnURL string `json:"return_url"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	var req topUpRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.AmountZNC)
	if err != nil {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "invalid amount_znc"))
		return
	}

	intent, err := s.payments.CreateTopUp(r.Context(), principal.UserID, amount, req.ReturnURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

type webhookRequest struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	var req webhookRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.PaymentID == "" || req.Status == "" {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "payment_id and status are required"))
		return
	}

	if err := s.payments.HandleWebhook(r.Context(), req.PaymentID, payments.IntentStatus(req.Status)); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(r.Context(), audit.Entry{
		Action:       "payment.webhook",
		ResourceType: "payment_intent",
		ResourceID:   req.PaymentID,
		Details:      map[string]any{"provider": provider, "status": req.Status},
		IPAddress:    middleware.ClientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]any{"processed": true})
}
