package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"recycler/config"
	"recycler/core/state"
	"recycler/crypto"
	nativecommon "recycler/native/common"
	"recycler/native/quotaledger"
	"recycler/native/recycler"
)

const (
	defaultEventPage = 50
	maxEventPage     = 500
	maxBodyBytes     = 1 << 16
)

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, reason string) {
	writeJSON(w, status, errorResponse{Error: msg, Reason: reason, RequestID: RequestIDFromContext(r.Context())})
}

// statusFor maps engine failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recycler.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, recycler.ErrNotInitialized), errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, recycler.ErrReentrantCall), errors.Is(err, recycler.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaPaymentCapExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests
	case errors.Is(err, recycler.ErrRouterAmountMismatch),
		errors.Is(err, recycler.ErrRouterZeroProceeds),
		errors.Is(err, recycler.ErrClaimTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, recycler.ErrAssetNotEligible),
		errors.Is(err, recycler.ErrNoPaymentProvided),
		errors.Is(err, recycler.ErrInsufficientQuota),
		errors.Is(err, state.ErrInsufficientBalance),
		errors.Is(err, quotaledger.ErrInsufficientQuota),
		errors.Is(err, quotaledger.ErrInvalidAmount),
		errors.Is(err, recycler.ErrPriceZero),
		errors.Is(err, recycler.ErrParameterOutOfBounds),
		errors.Is(err, recycler.ErrZeroComputedUnits),
		errors.Is(err, recycler.ErrDivisionByZeroRate),
		errors.Is(err, recycler.ErrArithmeticOverflow),
		errors.Is(err, recycler.ErrInvalidParticipant),
		errors.Is(err, recycler.ErrZeroAddressConfig):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("recyclerd: request failed",
			"route", chi.RouteContext(r.Context()).RoutePattern(),
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		msg = http.StatusText(status)
	}
	writeError(w, r, status, msg, recycler.Reason(err))
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, err.Error(), "bad_request")
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAddressParam(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseAmountParam(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, err := config.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return value, nil
}

type priceResponse struct {
	WeightPrice string `json:"weight_price"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.svc.CurrentWeightPrice()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{WeightPrice: price.String()})
}

type quoteResponse struct {
	Asset   string `json:"asset"`
	Payment string `json:"payment"`
	Units   string `json:"units"`
}

func (s *Server) handleQuoteUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, err := parseAddressParam("asset", q.Get("asset"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	payment, err := parseAmountParam("payment", q.Get("payment"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	units, err := s.svc.QuoteUnitsToConsume(asset, payment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Asset: asset.Hex(), Payment: payment.String(), Units: units.String()})
}

func (s *Server) handleQuoteNative(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, err := parseAddressParam("asset", q.Get("asset"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	units, err := parseAmountParam("units", q.Get("units"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	payment, err := s.svc.QuoteNativeForUnitsCeil(asset, units)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Asset: asset.Hex(), Payment: payment.String(), Units: units.String()})
}

type recycleRequest struct {
	Asset   string `json:"asset"`
	Payment string `json:"payment"`
}

type recycleResponse struct {
	Participant   string `json:"participant"`
	Asset         string `json:"asset"`
	PaymentPaid   string `json:"payment_paid"`
	UnitsConsumed string `json:"units_consumed"`
	Proceeds      string `json:"proceeds"`
	WeightMinted  string `json:"weight_minted"`
	Price         string `json:"price"`
}

func (s *Server) handleRecycle(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req recycleRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	asset, err := parseAddressParam("asset", req.Asset)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	payment, err := parseAmountParam("payment", req.Payment)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	result, err := s.svc.Recycle(caller, asset, payment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recycleResponse{
		Participant:   result.Participant.Hex(),
		Asset:         result.Asset.Hex(),
		PaymentPaid:   amountString(result.PaymentPaid),
		UnitsConsumed: amountString(result.UnitsConsumed),
		Proceeds:      amountString(result.Proceeds),
		WeightMinted:  amountString(result.WeightMinted),
		Price:         amountString(result.Price),
	})
}

type claimResponse struct {
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	amount, err := s.svc.Claim(caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Participant: caller.Hex(), Amount: amountString(amount)})
}

type positionResponse struct {
	Participant string `json:"participant"`
	Weight      string `json:"weight"`
	RewardDebt  string `json:"reward_debt"`
	Claimable   string `json:"claimable"`
	Pending     string `json:"pending"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	participant, err := parseAddressParam("address", chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	pos, err := s.svc.Position(participant)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Participant: participant.Hex(),
		Weight:      amountString(pos.Weight),
		RewardDebt:  amountString(pos.RewardDebt),
		Claimable:   amountString(pos.Claimable),
		Pending:     amountString(pos.Pending),
	})
}

type totalsResponse struct {
	TotalWeight        string `json:"total_weight"`
	AccRewardPerWeight string `json:"acc_reward_per_weight"`
	TotalProceeds      string `json:"total_proceeds"`
	TotalClaimed       string `json:"total_claimed"`
	StrandedProceeds   string `json:"stranded_proceeds"`
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.svc.Totals()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsResponse{
		TotalWeight:        amountString(totals.TotalWeight),
		AccRewardPerWeight: amountString(totals.AccRewardPerWeight),
		TotalProceeds:      amountString(totals.TotalProceeds),
		TotalClaimed:       amountString(totals.TotalClaimed),
		StrandedProceeds:   amountString(totals.StrandedProceeds),
	})
}

type paramsPayload struct {
	BasePrice         string `json:"base_price"`
	DecayRatePPM      uint64 `json:"decay_rate_ppm"`
	GrowthSlopePerDay string `json:"growth_slope_per_day"`
}

type paramsResponse struct {
	paramsPayload
	Owner        string `json:"owner"`
	PendingOwner string `json:"pending_owner,omitempty"`
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.svc.Params()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owner, pending, err := s.svc.Owner()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := paramsResponse{
		paramsPayload: paramsPayload{
			BasePrice:         amountString(params.BasePrice),
			DecayRatePPM:      params.DecayRatePPM,
			GrowthSlopePerDay: amountString(params.GrowthSlopePerDay),
		},
		Owner: owner.Hex(),
	}
	if pending != (common.Address{}) {
		resp.PendingOwner = pending.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req paramsPayload
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	base, err := parseAmountParam("base_price", req.BasePrice)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	slope := big.NewInt(0)
	if strings.TrimSpace(req.GrowthSlopePerDay) != "" {
		if slope, err = parseAmountParam("growth_slope_per_day", req.GrowthSlopePerDay); err != nil {
			badRequest(w, r, err)
			return
		}
	}
	params := recycler.Params{BasePrice: base, DecayRatePPM: req.DecayRatePPM, GrowthSlopePerDay: slope}
	if err := s.svc.SetParams(caller, params); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetParams(w, r)
}

type transferRequest struct {
	Successor string `json:"successor"`
}

type ownershipResponse struct {
	Owner        string `json:"owner"`
	PendingOwner string `json:"pending_owner,omitempty"`
}

func (s *Server) writeOwnership(w http.ResponseWriter, r *http.Request) {
	owner, pending, err := s.svc.Owner()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := ownershipResponse{Owner: owner.Hex()}
	if pending != (common.Address{}) {
		resp.PendingOwner = pending.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	var successor common.Address
	if strings.TrimSpace(req.Successor) != "" {
		addr, err := parseAddressParam("successor", req.Successor)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		successor = addr
	}
	if err := s.svc.TransferOwnership(caller, successor); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeOwnership(w, r)
}

func (s *Server) handleAcceptOwnership(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	if err := s.svc.AcceptOwnership(caller); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeOwnership(w, r)
}

type eventJSON struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
}

type eventsResponse struct {
	Total  uint64      `json:"total"`
	Offset uint64      `json:"offset"`
	Events []eventJSON `json:"events"`
}

func toEventJSON(rec state.EventRecord) eventJSON {
	return eventJSON{
		Sequence:   rec.Sequence,
		Type:       rec.Type,
		Attributes: rec.Event().Attributes,
		PrevHash:   "0x" + hex.EncodeToString(rec.PrevHash[:]),
		Hash:       "0x" + hex.EncodeToString(rec.Hash[:]),
	}
}

func parseUintQuery(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	offset, err := parseUintQuery(r, "offset", 0)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	limit, err := parseUintQuery(r, "limit", defaultEventPage)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if limit == 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	records, total, err := s.svc.Events(offset, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := eventsResponse{Total: total, Offset: offset, Events: make([]eventJSON, 0, len(records))}
	for _, rec := range records {
		resp.Events = append(resp.Events, toEventJSON(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	owner, _, err := s.svc.Owner()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if caller != owner {
		s.fail(w, r, recycler.ErrUnauthorized)
		return
	}
	if err := s.svc.Audit(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.Initialized()
	if err != nil || !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "uninitialized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
