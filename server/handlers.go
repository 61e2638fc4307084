package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dbfleet/dbfleet/discovery"
	"github.com/dbfleet/dbfleet/types"
)

type discoveryRequest struct {
	ForceRefresh bool `json:"force_refresh,omitempty"`
}

type discoveryResponse struct {
	TotalInstances      int                     `json:"total_instances"`
	AccountsAttempted   int                     `json:"accounts_attempted,omitempty"`
	AccountsScanned     int                     `json:"accounts_scanned,omitempty"`
	CrossAccountEnabled bool                    `json:"cross_account_enabled"`
	Stale               bool                    `json:"stale"`
	StaleReason         string                  `json:"stale_reason,omitempty"`
	Fallback            bool                    `json:"fallback"`
	FetchedAt           time.Time               `json:"fetched_at"`
	Instances           []types.InventoryRecord `json:"instances"`
	PerPairErrors       []discovery.PairError   `json:"per_pair_errors,omitempty"`
}

type servicesResponse struct {
	Endpoints map[string]string        `json:"endpoints"`
	Health    map[string]serviceHealth `json:"health"`
}

type serviceHealth struct {
	Status              types.HealthStatus `json:"status"`
	LastCheck           time.Time          `json:"last_check"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	entry, aggregate, err := s.inventory.Refresh(r.Context(), req.ForceRefresh)
	if err != nil {
		s.logger.WithContext(r.Context()).Error().Err(err).Msg("Discovery refresh failed with no cached fallback")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := discoveryResponse{
		TotalInstances:      len(entry.Records),
		CrossAccountEnabled: s.crossAccount,
		Stale:               entry.Stale,
		StaleReason:         entry.StaleReason,
		Fallback:            entry.RefreshFailed,
		FetchedAt:           entry.FetchedAt,
		Instances:           entry.Records,
	}
	if aggregate != nil {
		resp.AccountsAttempted = aggregate.AccountsAttempted
		resp.AccountsScanned = aggregate.AccountsScanned
		resp.PerPairErrors = aggregate.PerPairErrors
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req types.OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.operations.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, operationErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// operationErrorStatus maps dispatch errors onto HTTP status codes. A
// missing inventory match is a 404; other request defects are 400; a
// duplicate still in flight is a 409.
func operationErrorStatus(err error) int {
	var dup *types.DuplicateInFlightError
	if errors.As(err, &dup) {
		return http.StatusConflict
	}
	var unknown *types.UnknownInstanceError
	if errors.As(err, &unknown) {
		return http.StatusNotFound
	}
	var verr *types.OperationValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleServices(w http.ResponseWriter, _ *http.Request) {
	endpoints := s.directory.Endpoints()
	resp := servicesResponse{
		Endpoints: make(map[string]string, len(endpoints)),
		Health:    make(map[string]serviceHealth, len(endpoints)),
	}
	for _, e := range endpoints {
		resp.Endpoints[e.LogicalName] = e.URL
		resp.Health[e.LogicalName] = serviceHealth{
			Status:              e.HealthStatus,
			LastCheck:           e.LastHealthCheckAt,
			ConsecutiveFailures: e.ConsecutiveFailures,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
