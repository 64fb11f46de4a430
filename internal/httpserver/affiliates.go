package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/affiliate-ledger/internal/models"
)

const defaultStatsDays = 30

func (s *Server) handleGetAffiliate(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Affiliates.GetAffiliate(r.Context(), chi.URLParam(r, "affiliateId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if a == nil {
		s.errorResponse(w, "affiliate not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, a)
}

type affiliateRequest struct {
	Code           string  `json:"code"`
	CommissionRate float64 `json:"commissionRate"`
	Status         string  `json:"status"`
}

// handleUpsertAffiliate mirrors a partner record pushed by the commerce engine.
func (s *Server) handleUpsertAffiliate(w http.ResponseWriter, r *http.Request) {
	var req affiliateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	a, err := s.svc.Affiliates.UpsertAffiliate(r.Context(), &models.Affiliate{
		ID:             chi.URLParam(r, "affiliateId"),
		Code:           req.Code,
		CommissionRate: req.CommissionRate,
		Status:         req.Status,
	})
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, a)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.errorResponse(w, "days: must be an integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	summary, err := s.svc.Stats.GetAffiliateStats(r.Context(), chi.URLParam(r, "affiliateId"), days)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, summary)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Settlements.Balance(r.Context(), chi.URLParam(r, "affiliateId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, b)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.svc.Links.ListLinks(r.Context(), chi.URLParam(r, "affiliateId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if links == nil {
		links = []*models.AffiliateLink{}
	}
	s.jsonResponse(w, links)
}

type createLinkRequest struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	link, err := s.svc.Links.CreateLink(r.Context(), chi.URLParam(r, "affiliateId"), req.URL, req.Code)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonStatus(w, http.StatusCreated, link)
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Links.DeleteLink(r.Context(), chi.URLParam(r, "affiliateId"), chi.URLParam(r, "linkId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReconcileLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.svc.Links.ReconcileLink(r.Context(), chi.URLParam(r, "linkId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, link)
}
