package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/leadfive/ledgerview/pkg/ledger"
	"github.com/leadfive/ledgerview/pkg/store"
	"github.com/leadfive/ledgerview/pkg/types"
	"github.com/leadfive/ledgerview/pkg/version"
)

// StateResponse is the full presentation payload
type StateResponse struct {
	Snapshot   store.Snapshot      `json:"snapshot"`
	Overview   store.Overview      `json:"overview"`
	Breakdown  store.Breakdown     `json:"breakdown"`
	Team       store.TeamStats     `json:"team"`
	Connection store.Connection    `json:"connection"`
	Loading    bool                `json:"loading"`
	Stale      bool                `json:"stale"`
	Errors     []store.DomainError `json:"errors"`
}

func (s *Server) stateResponse(snap store.Snapshot) StateResponse {
	errs := store.ErrorList(snap)
	if errs == nil {
		errs = []store.DomainError{}
	}
	return StateResponse{
		Snapshot:   snap,
		Overview:   store.SelectOverview(snap),
		Breakdown:  store.SelectBreakdown(snap),
		Team:       store.SelectTeamStats(snap),
		Connection: store.SelectConnection(snap),
		Loading:    store.IsLoading(snap),
		Stale:      store.IsStale(snap, s.cacheTTL, s.now()),
		Errors:     errs,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"phase":   snap.Phase,
		"version": version.GetBuildInfo(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse(s.store.Snapshot()))
}

func (s *Server) handleDomainState(w http.ResponseWriter, r *http.Request) {
	domain, err := types.ParseDomain(chi.URLParam(r, "domain"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap := s.store.Snapshot()
	var vm interface{}
	switch domain {
	case types.DomainDashboard:
		vm = snap.Dashboard
	case types.DomainEarnings:
		vm = snap.Earnings
	case types.DomainReferrals:
		vm = snap.Referrals
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain": domain,
		"status": snap.Domains[domain],
		"data":   vm,
	})
}

// handleConnect retries the wallet connection after a failure or disconnect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.connect == nil {
		s.writeError(w, errConnectUnavailable)
		return
	}
	if err := s.connect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse(s.store.Snapshot()))
}

type refreshRequest struct {
	Domains []string `json:"domains"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	domains := make([]types.Domain, 0, len(req.Domains))
	for _, raw := range req.Domains {
		d, err := types.ParseDomain(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		domains = append(domains, d)
	}

	if err := s.store.Refresh(r.Context(), domains...); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateResponse(s.store.Snapshot()))
}

func (s *Server) handleToggleLive(w http.ResponseWriter, r *http.Request) {
	on, err := s.store.ToggleLiveMode()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"live_mode": on})
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", types.ErrInvalidAmount, err))
		return
	}
	if !req.Amount.IsPositive() {
		s.writeError(w, types.ErrInvalidAmount)
		return
	}
	pending, err := s.store.Withdraw(r.Context(), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pending)
}

type upgradeRequest struct {
	Level uint8 `json:"level"`
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == 0 {
		s.writeError(w, types.ErrInvalidPackage)
		return
	}
	pending, err := s.store.UpgradePackage(r.Context(), req.Level)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pending)
}

type registerRequest struct {
	Referrer string `json:"referrer"`
	Level    uint8  `json:"level"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	referrer, err := types.ParseAddress(req.Referrer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Level == 0 {
		s.writeError(w, types.ErrInvalidPackage)
		return
	}
	pending, err := s.store.Register(r.Context(), referrer, req.Level)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pending)
}

var (
	errBadRequest         = errors.New("bad request")
	errConnectUnavailable = errors.New("reconnect not configured")
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var writeErr *ledger.WriteError
	var connErr *ledger.ConnectionError
	switch {
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, errConnectUnavailable):
		return http.StatusNotImplemented
	case errors.As(err, &writeErr):
		switch writeErr.Kind {
		case ledger.InsufficientFunds:
			return http.StatusUnprocessableEntity
		case ledger.Rejected:
			return http.StatusConflict
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, types.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrInvalidAddress),
		errors.Is(err, types.ErrInvalidPackage):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnknownDomain):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	body := map[string]string{"error": err.Error()}
	var writeErr *ledger.WriteError
	var connErr *ledger.ConnectionError
	switch {
	case errors.As(err, &writeErr):
		body["kind"] = string(writeErr.Kind)
	case errors.As(err, &connErr):
		body["kind"] = string(connErr.Kind)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
