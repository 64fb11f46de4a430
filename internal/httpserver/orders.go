package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/affiliate-ledger/internal/affiliate"
	"github.com/radiusdt/affiliate-ledger/internal/middleware"
)

type attributionPayload struct {
	AffiliateID string `json:"affiliateId"`
	Ref         string `json:"ref"`
	LinkID      string `json:"linkId"`
	ClickID     string `json:"clickId"`
}

type orderCompletedRequest struct {
	OrderID           string              `json:"orderId"`
	OrderValue        float64             `json:"orderValue"`
	Currency          string              `json:"currency"`
	ProductCategories []string            `json:"productCategories"`
	Attribution       *attributionPayload `json:"attribution"`
	// Cookie is the shopper's raw Cookie header captured at checkout.
	Cookie   string            `json:"cookie"`
	Metadata map[string]string `json:"metadata"`
}

// source picks the first non-empty identity: explicit attribution, order
// metadata, the forwarded cookie header, then cookies on this request.
func (req orderCompletedRequest) source(r *http.Request) affiliate.Source {
	var explicit affiliate.Source
	if a := req.Attribution; a != nil {
		explicit = affiliate.Source{AffiliateID: a.AffiliateID, Ref: a.Ref, LinkID: a.LinkID, ClickID: a.ClickID}
	}
	return affiliate.FirstSource(
		explicit,
		affiliate.SourceFromMetadata(req.Metadata),
		affiliate.SourceFromCookieHeader(req.Cookie),
		affiliate.SourceFromCookies(r.Cookies()),
	)
}

func (s *Server) handleOrderCompleted(w http.ResponseWriter, r *http.Request) {
	var req orderCompletedRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	out, err := s.svc.Commissions.CompleteOrder(r.Context(), affiliate.OrderEvent{
		OrderID:           req.OrderID,
		OrderValue:        req.OrderValue,
		Currency:          req.Currency,
		ProductCategories: req.ProductCategories,
		Source:            req.source(r),
	})
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	code := http.StatusCreated
	if out.Replayed || !out.Attributed {
		code = http.StatusOK
	}
	s.jsonStatus(w, code, out)
}

func (s *Server) handleReverseOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Commissions.ReverseOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, rec)
}

func (s *Server) handleGetCommission(w http.ResponseWriter, r *http.Request) {
	h, err := s.svc.Commissions.CommissionHistory(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, h)
}

type adjustmentRequest struct {
	AdjustedCommission *float64 `json:"adjustedCommission"`
	Reason             string   `json:"reason"`
}

func (s *Server) handleAdjustCommission(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.AdjustedCommission == nil {
		s.errorResponse(w, "adjustedCommission: is required", http.StatusBadRequest)
		return
	}

	adj, err := s.svc.Commissions.AdjustCommission(r.Context(), chi.URLParam(r, "orderId"),
		*req.AdjustedCommission, req.Reason, middleware.Actor(r.Context()))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonStatus(w, http.StatusCreated, adj)
}

func (s *Server) handleGetClick(w http.ResponseWriter, r *http.Request) {
	click, err := s.svc.Clicks.GetClick(r.Context(), chi.URLParam(r, "clickId"))
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if click == nil {
		s.errorResponse(w, "click not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, click)
}

type conversionRequest struct {
	Value float64 `json:"value"`
}

// handleRecordConversion flips a click to converted. Unknown clicks are
// reported with converted=false rather than an error.
func (s *Server) handleRecordConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	ok, err := s.svc.Clicks.RecordConversion(r.Context(), chi.URLParam(r, "clickId"), req.Value)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, map[string]bool{"converted": ok})
}
