package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/zenzefi/gateway/internal/audit"
	"github.com/zenzefi/gateway/internal/bundle"
	"github.com/zenzefi/gateway/internal/core"
	"github.com/zenzefi/gateway/internal/middleware"
	"github.com/zenzefi/gateway/internal/token"
)

func bundleID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, core.NewError(core.KindInvalidInput, "invalid bundle id")
	}
	return id, nil
}

func (s *Server) handleBundleList(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	activeOnly := true
	if raw := r.URL.Query().Get("active_only"); raw != "" && principal.Elevated {
		activeOnly, _ = strconv.ParseBool(raw)
	}

	bundles, err := s.bundles.List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if bundles == nil {
		bundles = []bundle.TokenBundle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundles": bundles, "total": len(bundles)})
}

func (s *Server) handleBundleGet(w http.ResponseWriter, r *http.Request) {
	id, err := bundleID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bundles.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBundlePurchase(w http.ResponseWriter, r *http.Request) {
	principal, _ := core.PrincipalFrom(r.Context())

	id, err := bundleID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.bundles.Purchase(r.Context(), id, principal.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(r.Context(), audit.Entry{
		UserID:       &principal.UserID,
		Action:       "bundle.purchase",
		ResourceType: "token_bundle",
		ResourceID:   id.String(),
		Details: map[string]any{
			"bundle": receipt.BundleName, "tokens": receipt.TokensGenerated,
			"cost": receipt.CostZNC.StringFixed(2),
		},
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})

	writeJSON(w, http.StatusCreated, receipt)
}

type bundleRequest struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	TokenCount      int     `json:"token_count"`
	DurationHours   int     `json:"duration_hours"`
	Scope           string  `json:"scope"`
	DiscountPercent string  `json:"discount_percent"`
	BasePrice       string  `json:"base_price"`
	TotalPrice      string  `json:"total_price"`
	IsActive        *bool   `json:"is_active"`
}

func (s *Server) handleBundleCreate(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	discount, err1 := decimal.NewFromString(req.DiscountPercent)
	base, err2 := decimal.NewFromString(req.BasePrice)
	total, err3 := decimal.NewFromString(req.TotalPrice)
	if err1 != nil || err2 != nil || err3 != nil {
		s.writeError(w, r, core.NewError(core.KindInvalidInput, "invalid bundle pricing"))
		return
	}

	b := &bundle.TokenBundle{
		Name:            req.Name,
		Description:     req.Description,
		TokenCount:      req.TokenCount,
		DurationHours:   req.DurationHours,
		Scope:           token.Scope(req.Scope),
		DiscountPercent: discount,
		BasePrice:       base,
		TotalPrice:      total,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	if err := s.bundles.Create(r.Context(), b); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBundleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := bundleID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var raw struct {
		Name            *string `json:"name"`
		Description     *string `json:"description"`
		TokenCount      *int    `json:"token_count"`
		DurationHours   *int    `json:"duration_hours"`
		Scope           *string `json:"scope"`
		DiscountPercent *string `json:"discount_percent"`
		BasePrice       *string `json:"base_price"`
		TotalPrice      *string `json:"total_price"`
		IsActive        *bool   `json:"is_active"`
	}
	if err := decode(r, &raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	upd := bundle.Update{
		Name:          raw.Name,
		Description:   raw.Description,
		TokenCount:    raw.TokenCount,
		DurationHours: raw.DurationHours,
		IsActive:      raw.IsActive,
	}
	if raw.Scope != nil {
		sc := token.Scope(*raw.Scope)
		upd.Scope = &sc
	}
	for _, f := range []struct {
		raw *string
		dst **decimal.Decimal
	}{
		{raw.DiscountPercent, &upd.DiscountPercent},
		{raw.BasePrice, &upd.BasePrice},
		{raw.TotalPrice, &upd.TotalPrice},
	} {
		if f.raw == nil {
			continue
		}
		d, err := decimal.NewFromString(*f.raw)
		if err != nil {
			s.writeError(w, r, core.NewError(core.KindInvalidInput, "invalid bundle pricing"))
			return
		}
		*f.dst = &d
	}

	b, err := s.bundles.Update(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBundleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, err := bundleID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.bundles.Deactivate(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": true})
}
