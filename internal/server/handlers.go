package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/errs"
	"github.com/aristath/backmarket-repricer/internal/probe"
)

// apiResponse is the envelope every admin endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var perm *errs.PermanentRemoteError
	var transient *errs.TransientRemoteError
	var cfgErr *errs.ConfigError
	var dataErr *errs.DataError
	switch {
	case errors.As(err, &perm):
		status = perm.StatusCode
	case errors.As(err, &transient):
		status = transient.StatusCode
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.As(err, &dataErr):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, apiResponse{Success: false, Message: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	signature := r.Header.Get("X-Signature")
	if err := s.syncDriver.HandleWebhook(r.Context(), body, signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listing_id")
	listing, err := s.store.GetListing(r.Context(), listingID)
	if err != nil {
		writeError(w, err)
		return
	}
	result := s.probe.Run(r.Context(), listingID, listing.Price)
	if result.FinalState == probe.StatePeakScheduled {
		// The Dip went out but the Peak restoration never confirmed —
		// surface the error; the listing may still sit at the Dip price.
		writeError(w, result.PeekErr)
		return
	}
	if result.RestoredTo.IsZero() && result.PeekErr != nil {
		// Dip itself never dispatched.
		writeError(w, result.PeekErr)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: result})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listing_id")
	listing, err := s.store.GetListing(r.Context(), listingID)
	if err != nil {
		writeError(w, err)
		return
	}
	result := s.probe.Run(r.Context(), listingID, listing.Price)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: result})
}

func (s *Server) handleSyncOrders(w http.ResponseWriter, r *http.Request) {
	result := s.syncDriver.SyncOrders(r.Context(), r.URL.Query().Get("full") == "true")
	if result.Err != nil {
		writeError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: result})
}

func (s *Server) handleSyncListings(w http.ResponseWriter, r *http.Request) {
	result := s.syncDriver.SyncListings(r.Context())
	if result.Err != nil {
		writeError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: result})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	orders, err := s.store.ListOrders(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: orders})
}

func (s *Server) handleGetOrderMessages(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	messages, err := s.market.GetOrderMessages(r.Context(), orderID, domain.PriorityNormal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: messages})
}

func (s *Server) handlePostOrderMessage(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &errs.DataError{Msg: err.Error()})
		return
	}
	if err := s.market.PostOrderMessage(r.Context(), orderID, body.Body, domain.PriorityNormal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleSuspendOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if err := s.market.SuspendOrder(r.Context(), orderID, domain.PriorityHigh); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListPublishedListings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: listings})
}

func (s *Server) handleReprice(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listing_id")
	listing, err := s.store.GetListing(r.Context(), listingID)
	if err != nil {
		writeError(w, err)
		return
	}
	countries, err := s.store.CountryCodesFor(r.Context(), listingID)
	if err != nil {
		writeError(w, err)
		return
	}
	result := s.orchestrator.Reprice(r.Context(), *listing, countries)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: result})
}

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	grade := 0
	if v := r.URL.Query().Get("grade"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			grade = parsed
		}
	}
	country := r.URL.Query().Get("country")
	params, err := s.store.PricingParameters(r.Context(), sku, grade, country)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: params})
}

func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	var params domain.PricingParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, &errs.DataError{Msg: err.Error()})
		return
	}
	params.SKU = sku
	if err := s.store.UpsertPricingParameters(r.Context(), params); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: s.scheduler.Status()})
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	taskName := chi.URLParam(r, "task_name")
	ran, err := s.scheduler.Trigger(taskName)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ran {
		writeJSON(w, http.StatusConflict, apiResponse{Success: false, Message: "task already running, tick skipped"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (s *Server) handleSchedulerTriggerAll(w http.ResponseWriter, r *http.Request) {
	s.scheduler.TriggerAll()
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

type bucketStatus struct {
	Available int `json:"available"`
	Spent     int `json:"spent"`
	Reserved  int `json:"reserved"`
	Capacity  int `json:"capacity"`
}

func snapshotOf(b interface {
	Snapshot() (available, spent, reserved, capacity int)
}) bucketStatus {
	available, spent, reserved, capacity := b.Snapshot()
	return bucketStatus{Available: available, Spent: spent, Reserved: reserved, Capacity: capacity}
}

func (s *Server) handleGetRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]bucketStatus{
		"global":     snapshotOf(s.controller.Bucket(domain.BucketGlobal)),
		"catalog":    snapshotOf(s.controller.Bucket(domain.BucketCatalog)),
		"competitor": snapshotOf(s.controller.Bucket(domain.BucketCompetitor)),
		"care":       snapshotOf(s.controller.Bucket(domain.BucketCare)),
	}})
}

func (s *Server) handleUpdateRateLimits(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RateLimitConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, &errs.DataError{Msg: err.Error()})
		return
	}
	s.controller.UpdateConfig(cfg)
	if err := s.store.SaveRateLimitConfig(r.Context(), cfg); err != nil {
		s.log.Warn().Err(err).Msg("persisting rate limit override failed")
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}
