package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/affiliate-ledger/internal/affiliate"
	"github.com/radiusdt/affiliate-ledger/internal/models"
)

// ---- Settlements ----

func (s *Server) handleCreateSettlement(w http.ResponseWriter, r *http.Request) {
	stl, created, err := s.svc.Settlements.CreateSettlement(r.Context(), chi.URLParam(r, "affiliateId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	s.jsonStatus(w, code, stl)
}

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	stls, err := s.svc.Settlements.ListSettlements(r.Context(), r.URL.Query().Get("affiliateId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if stls == nil {
		stls = []*models.Settlement{}
	}
	s.jsonResponse(w, stls)
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	stl, err := s.svc.Settlements.GetSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if stl == nil {
		s.errorResponse(w, "settlement not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, stl)
}

func (s *Server) handleConfirmSettlement(w http.ResponseWriter, r *http.Request) {
	stl, err := s.svc.Settlements.ConfirmSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, stl)
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	stl, err := s.svc.Settlements.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, stl)
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailSettlement(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	stl, err := s.svc.Settlements.FailSettlement(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, stl)
}

// ---- Commission Rules ----

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.svc.Rules.ListRules(r.Context())
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []*models.CommissionRule{}
	}
	s.jsonResponse(w, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.Rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if rule == nil {
		s.errorResponse(w, "rule not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var in affiliate.RuleInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	rule, err := s.svc.Rules.CreateRule(r.Context(), in)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonStatus(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var in affiliate.RuleInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	rule, err := s.svc.Rules.UpdateRule(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, rule)
}

func (s *Server) handleSetRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := s.svc.Rules.SetRuleActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
		s.jsonResponse(w, rule)
	}
}
