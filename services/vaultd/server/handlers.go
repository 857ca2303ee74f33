package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"synthvault/native/vault"
	"synthvault/services/vaultd/journal"
)

const requestLimit = 1 << 20

// errBadInput marks malformed requests.
var errBadInput = errors.New("bad input")

func badInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadInput, fmt.Sprintf(format, args...))
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badInput("%s must be a hex address", field)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount reads a base-unit decimal string.
func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, badInput("%s required", field)
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, badInput("%s must be a base-unit integer", field)
	}
	return v, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badInput("decode body: %v", err)
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadInput) {
		writeJSONError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	writeEngineError(w, err)
}

func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func caller(r *http.Request) common.Address {
	c, _ := CallerFrom(r.Context())
	return c
}

type okResponse struct {
	OK bool `json:"ok"`
}

func writeOK(w http.ResponseWriter) { writeJSON(w, http.StatusOK, okResponse{OK: true}) }

// Reads.

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, err)
		return
	}
	view, err := s.engine.Position(user, asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(view))
}

func (s *Server) getMintStatus(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, err)
		return
	}
	view, err := s.engine.UserMintStatus(user)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mintStatusView(view))
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	view, err := s.engine.GlobalStatus()
	if err != nil {
		s.fail(w, err)
		return
	}
	tvl, err := s.engine.TotalValueLocked()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, globalStatusView(view, tvl))
}

func (s *Server) listCollateral(w http.ResponseWriter, _ *http.Request) {
	list, err := s.engine.Collaterals()
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]collateralJSON, 0, len(list))
	for _, c := range list {
		out = append(out, collateralView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCollateral(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, err)
		return
	}
	cfg, err := s.engine.CollateralConfig(asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collateralView(cfg))
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.engine.LiquidationCandidates(asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]candidateJSON, 0, len(list))
	for _, c := range list {
		out = append(out, candidateView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Unavailable", "event journal not configured")
		return
	}
	q := r.URL.Query()
	filter := journal.Filter{Type: q.Get("type"), User: q.Get("user")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(w, badInput("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	events, err := s.events.Recent(ctx, filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []vault.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// User operations act on the caller's own position.

type amountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) userAmountOp(op func(context.Context, common.Address, common.Address, *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, err)
			return
		}
		asset, err := parseAddress("asset", req.Asset)
		if err != nil {
			s.fail(w, err)
			return
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			s.fail(w, err)
			return
		}
		ctx, cancel := s.opContext(r)
		defer cancel()
		if err := op(ctx, caller(r), asset, amount); err != nil {
			s.fail(w, err)
			return
		}
		s.respondPosition(w, caller(r), asset)
	}
}

func (s *Server) respondPosition(w http.ResponseWriter, user, asset common.Address) {
	view, err := s.engine.Position(user, asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(view))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.userAmountOp(s.engine.Deposit)(w, r)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.userAmountOp(s.engine.Withdraw)(w, r)
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	s.userAmountOp(s.engine.Mint)(w, r)
}

func (s *Server) burn(w http.ResponseWriter, r *http.Request) {
	s.userAmountOp(s.engine.Burn)(w, r)
}

type depositAndMintRequest struct {
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"`
	Amount     string `json:"amount"`
}

func (s *Server) depositAndMint(w http.ResponseWriter, r *http.Request) {
	var req depositAndMintRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := s.engine.DepositAndMint(ctx, caller(r), asset, collateral, amount); err != nil {
		s.fail(w, err)
		return
	}
	s.respondPosition(w, caller(r), asset)
}

type assetRequest struct {
	Asset string `json:"asset"`
}

type rewardResponse struct {
	Reward string `json:"reward"`
}

func (s *Server) autoReward(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	reward, err := s.engine.AutoReward(ctx, caller(r), asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardResponse{Reward: dec(reward)})
}

type liquidateRequest struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
	Repay string `json:"repay"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	target, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	repay, err := parseAmount("repay", req.Repay)
	if err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	res, err := s.engine.Liquidate(ctx, caller(r), target, asset, repay)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationView(res))
}

// Administration. Role checks happen inside the engine.

type collateralRequest struct {
	Asset               string `json:"asset"`
	Symbol              string `json:"symbol"`
	Price               string `json:"price"`
	MaxLTVBps           uint64 `json:"maxLtvBps"`
	LiquidationBonusBps uint64 `json:"liquidationBonusBps"`
	Decimals            uint8  `json:"decimals"`
	StaleAfterSeconds   int64  `json:"staleAfterSeconds"`
}

func (s *Server) addCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.fail(w, err)
		return
	}
	params := vault.CollateralParams{
		Asset:               asset,
		Symbol:              strings.TrimSpace(req.Symbol),
		Price:               price,
		MaxLTVBps:           req.MaxLTVBps,
		LiquidationBonusBps: req.LiquidationBonusBps,
		Decimals:            req.Decimals,
		StaleAfter:          time.Duration(req.StaleAfterSeconds) * time.Second,
	}
	if err := s.engine.AddCollateral(caller(r), params); err != nil {
		s.fail(w, err)
		return
	}
	cfg, err := s.engine.CollateralConfig(asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collateralView(cfg))
}

type enabledRequest struct {
	Asset   string `json:"asset,omitempty"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) setCollateralEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.SetCollateralEnabled(caller(r), asset, req.Enabled); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) updatePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.UpdatePrice(caller(r), asset, price); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unpause(caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

type userRequest struct {
	User string `json:"user"`
}

func (s *Server) resetUserLimits(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.ResetUserLimits(caller(r), user); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) resetGlobalLimits(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetGlobalLimits(caller(r)); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

type rewardConfigRequest struct {
	BaseReward          string `json:"baseReward"`
	BonusMultiplierBps  uint64 `json:"bonusMultiplierBps"`
	MinHoldSeconds      int64  `json:"minHoldSeconds"`
	MinEligibleRatioBps uint64 `json:"minEligibleRatioBps"`
}

func (s *Server) updateRewardConfig(w http.ResponseWriter, r *http.Request) {
	var req rewardConfigRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	base, err := parseAmount("baseReward", req.BaseReward)
	if err != nil {
		s.fail(w, err)
		return
	}
	cfg := vault.AutoRewardConfig{
		BaseReward:          base,
		BonusMultiplierBps:  req.BonusMultiplierBps,
		MinHoldTime:         time.Duration(req.MinHoldSeconds) * time.Second,
		MinEligibleRatioBps: req.MinEligibleRatioBps,
	}
	if err := s.engine.UpdateAutoRewardConfig(caller(r), cfg); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) setAutoMint(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.SetAutoMintEnabled(caller(r), req.Enabled); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

type limitsRequest struct {
	CooldownSeconds       int64  `json:"cooldownSeconds"`
	MaxMintPerTx          string `json:"maxMintPerTx"`
	MaxMintsPerUserPerDay uint64 `json:"maxMintsPerUserPerDay"`
	MaxMintPerUserPerDay  string `json:"maxMintPerUserPerDay"`
	MaxGlobalMintPerDay   string `json:"maxGlobalMintPerDay"`
}

// optionalAmount treats an empty string as zero, which disables the cap.
func optionalAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, raw)
}

func (s *Server) updateLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	limits := vault.Limits{
		CooldownPeriod:        time.Duration(req.CooldownSeconds) * time.Second,
		MaxMintsPerUserPerDay: req.MaxMintsPerUserPerDay,
	}
	var err error
	if limits.MaxMintPerTx, err = optionalAmount("maxMintPerTx", req.MaxMintPerTx); err != nil {
		s.fail(w, err)
		return
	}
	if limits.MaxMintPerUserPerDay, err = optionalAmount("maxMintPerUserPerDay", req.MaxMintPerUserPerDay); err != nil {
		s.fail(w, err)
		return
	}
	if limits.MaxGlobalMintPerDay, err = optionalAmount("maxGlobalMintPerDay", req.MaxGlobalMintPerDay); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.UpdateLimits(caller(r), limits); err != nil {
		s.fail(w, err)
		return
	}
	writeOK(w)
}

type creditRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// credit funds an account on the daemon's in-process ledger. Admin only.
func (s *Server) credit(w http.ResponseWriter, r *http.Request) {
	if !s.access.HasRole(caller(r), vault.RoleAdmin) {
		writeEngineError(w, fmt.Errorf("%w: admin role required", vault.ErrUnauthorized))
		return
	}
	var req creditRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.fail(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.faucet.Credit(asset, account, amount); err != nil {
		s.fail(w, badInput("credit: %v", err))
		return
	}
	s.logger.Info("ledger credited", "asset", asset.Hex(), "account", account.Hex(), "amount", amount.Dec())
	writeOK(w)
}

type haltResponse struct {
	Halted []string `json:"halted"`
}

// haltVault engages the process-local switch. Emergency or admin callers only.
func (s *Server) haltVault(w http.ResponseWriter, r *http.Request) {
	who := caller(r)
	if !s.access.HasRole(who, vault.RoleEmergency) && !s.access.HasRole(who, vault.RoleAdmin) {
		writeEngineError(w, fmt.Errorf("%w: emergency role required", vault.ErrUnauthorized))
		return
	}
	s.halt.Halt(vault.ModuleName)
	s.logger.Warn("vault halted", "caller", who.Hex())
	writeJSON(w, http.StatusOK, haltResponse{Halted: s.halt.Halted()})
}

func (s *Server) resumeVault(w http.ResponseWriter, r *http.Request) {
	who := caller(r)
	if !s.access.HasRole(who, vault.RoleAdmin) {
		writeEngineError(w, fmt.Errorf("%w: admin role required", vault.ErrUnauthorized))
		return
	}
	s.halt.Resume(vault.ModuleName)
	s.logger.Info("vault resumed", "caller", who.Hex())
	writeJSON(w, http.StatusOK, haltResponse{Halted: s.halt.Halted()})
}
