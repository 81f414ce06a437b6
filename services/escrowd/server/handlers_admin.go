package server

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"escrowledger/crypto"
	"escrowledger/native/access"
	"escrowledger/native/escrow"
	"escrowledger/observability"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

type pullResponse struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// pullAction adapts Withdraw and ClaimRefund.
func (s *Server) pullAction(fn func(caller [20]byte, asset string) (*big.Int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Asset string `json:"asset"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.badRequest(w, r, err)
			return
		}
		if strings.TrimSpace(req.Asset) == "" {
			req.Asset = escrow.NativeAsset
		}
		moved, err := fn(callerOf(r.Context()), req.Asset)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		asset, _ := escrow.NormalizeAsset(req.Asset)
		writeJSON(w, http.StatusOK, pullResponse{Asset: asset, Amount: amountString(moved)})
	}
}

type accountResponse struct {
	Address       string   `json:"address"`
	Bech32        string   `json:"bech32"`
	Asset         string   `json:"asset"`
	Wallet        string   `json:"wallet"`
	Balance       string   `json:"balance"`
	PendingRefund string   `json:"pendingRefund"`
	Score         *uint64  `json:"score,omitempty"`
	Roles         []string `json:"roles"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeEngineError(w, r, escrowAddressError(err))
		return
	}
	asset := r.URL.Query().Get("asset")
	if strings.TrimSpace(asset) == "" {
		asset = escrow.NativeAsset
	}
	normalized, err := escrow.NormalizeAsset(asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := accountResponse{
		Address: crypto.HexAddress(addr),
		Bech32:  crypto.EncodeAddress(addr),
		Asset:   normalized,
		Roles:   []string{},
	}
	wallet, err := s.engine.WalletBalance(addr, normalized)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	balance, err := s.engine.Balance(addr, normalized)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	refund, err := s.engine.PendingRefund(addr, normalized)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp.Wallet, resp.Balance, resp.PendingRefund = wallet.String(), balance.String(), refund.String()
	for _, role := range access.Roles() {
		ok, err := s.engine.HasRole(role, addr)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		if ok {
			resp.Roles = append(resp.Roles, string(role))
		}
	}
	if s.reputation != nil {
		if score, err := s.reputation.Score(addr); err == nil {
			resp.Score = &score
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type solvencyResponse struct {
	Asset   string `json:"asset"`
	Custody string `json:"custody"`
	Locked  string `json:"locked"`
	Owed    string `json:"owed"`
	Holds   bool   `json:"holds"`
}

func (s *Server) handleSolvency(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Solvency(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	observability.Escrow().RecordSolvency(report)
	writeJSON(w, http.StatusOK, solvencyResponse{
		Asset:   report.Asset,
		Custody: amountString(report.Custody),
		Locked:  amountString(report.Locked),
		Owed:    amountString(report.Owed),
		Holds:   report.Holds(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	policy, err := s.engine.Policy()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPolicyView(policy))
}

// callerAction adapts admin calls that take only the caller.
func (s *Server) callerAction(fn func(caller [20]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(callerOf(r.Context())); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		paused, err := s.engine.Paused()
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
	}
}

func (s *Server) roleAction(fn func(caller [20]byte, role access.Role, account [20]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role    string `json:"role"`
			Account string `json:"account"`
		}
		if err := decodeBody(r, &req); err != nil {
			s.badRequest(w, r, err)
			return
		}
		role, err := access.ParseRole(req.Role)
		if err != nil {
			s.badRequest(w, r, err)
			return
		}
		account, err := crypto.ParseAddress(req.Account)
		if err != nil {
			s.writeEngineError(w, r, escrowAddressError(err))
			return
		}
		if err := fn(callerOf(r.Context()), role, account); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		held, err := s.engine.HasRole(role, account)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"role":    string(role),
			"account": crypto.HexAddress(account),
			"granted": held,
		})
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	account, err := crypto.ParseAddress(req.Account)
	if err != nil {
		s.writeEngineError(w, r, escrowAddressError(err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.engine.Deposit(callerOf(r.Context()), account, req.Asset, amount); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	wallet, err := s.engine.WalletBalance(account, req.Asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": crypto.HexAddress(account), "wallet": wallet.String()})
}

// configUpdate decodes a body, applies it and echoes the new policy.
func (s *Server) configUpdate(w http.ResponseWriter, r *http.Request, body interface{}, apply func(caller [20]byte) error) {
	if err := decodeBody(r, body); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := apply(callerOf(r.Context())); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.handleGetConfig(w, r)
}

func (s *Server) handleConfigWhitelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset   string `json:"asset"`
		Allowed bool   `json:"allowed"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		return s.engine.SetAssetWhitelisted(caller, req.Asset, req.Allowed)
	})
}

func (s *Server) handleConfigFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bps uint32 `json:"bps"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		return s.engine.SetPlatformFee(caller, req.Bps)
	})
}

func (s *Server) handleConfigVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vault string `json:"vault"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		vault, err := optionalAddress(req.Vault)
		if err != nil {
			return escrowAddressError(err)
		}
		return s.engine.SetVault(caller, vault)
	})
}

func (s *Server) handleConfigThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold uint64 `json:"threshold"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		return s.engine.SetReputationThreshold(caller, req.Threshold)
	})
}

func (s *Server) handleConfigSupreme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Supreme bool   `json:"supreme"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		account, err := crypto.ParseAddress(req.Account)
		if err != nil {
			return escrowAddressError(err)
		}
		return s.engine.SetSupreme(caller, account, req.Supreme)
	})
}

func (s *Server) handleConfigStake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bps uint32 `json:"bps"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		return s.engine.SetStakeBps(caller, req.Bps)
	})
}

func (s *Server) handleConfigArbitration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	s.configUpdate(w, r, &req, func(caller [20]byte) error {
		return s.engine.SetExternalArbitration(caller, req.Enabled)
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, r, http.StatusNotFound, "EventLogDisabled", nil)
		return
	}
	query := r.URL.Query()
	var after uint64
	if raw := query.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.badRequest(w, r, err)
			return
		}
		after = v
	}
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.badRequest(w, r, errInvalidLimit)
			return
		}
		limit = v
	}
	records, err := s.events.List(r.Context(), after, limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "Internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": records})
}
