package recycler

import (
	"errors"

	"recycler/core/state"
	nativecommon "recycler/native/common"
	"recycler/native/quotaledger"
)

var (
	ErrZeroAddressConfig    = errors.New("recycler: zero address in configuration")
	ErrAssetNotEligible     = errors.New("recycler: asset not eligible")
	ErrNoPaymentProvided    = errors.New("recycler: no payment provided")
	ErrInsufficientQuota    = errors.New("recycler: insufficient quota")
	ErrPriceZero            = errors.New("recycler: price is zero")
	ErrParameterOutOfBounds = errors.New("recycler: parameter out of bounds")
	ErrZeroComputedUnits    = errors.New("recycler: computed units are zero")
	ErrRouterAmountMismatch = errors.New("recycler: router amount mismatch")
	ErrRouterZeroProceeds   = errors.New("recycler: router returned zero proceeds")
	ErrDivisionByZeroRate   = errors.New("recycler: asset rate is zero")
	ErrClaimTransferFailed  = errors.New("recycler: claim transfer failed")

	ErrUnauthorized        = errors.New("recycler: unauthorized")
	ErrArithmeticOverflow  = errors.New("recycler: arithmetic overflow")
	ErrAlreadyInitialized  = errors.New("recycler: already initialized")
	ErrNotInitialized      = errors.New("recycler: not initialized")
	ErrReentrantCall       = nativecommon.ErrReentrantCall
	ErrInvalidParticipant  = errors.New("recycler: participant address required")
	ErrAuditFailed         = errors.New("recycler: ledger invariant violated")
	errNilState            = errors.New("recycler: state not configured")
	errNegativeAmount      = errors.New("recycler: amount must not be negative")
	errEngineBalanceShrank = errors.New("recycler: engine balance below attached payment")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrZeroAddressConfig, "zero_address_config"},
	{ErrAssetNotEligible, "asset_not_eligible"},
	{ErrNoPaymentProvided, "no_payment"},
	{ErrInsufficientQuota, "insufficient_quota"},
	{ErrPriceZero, "price_zero"},
	{ErrParameterOutOfBounds, "parameter_out_of_bounds"},
	{ErrZeroComputedUnits, "zero_units"},
	{ErrRouterAmountMismatch, "router_mismatch"},
	{ErrRouterZeroProceeds, "router_zero_proceeds"},
	{ErrDivisionByZeroRate, "zero_rate"},
	{ErrClaimTransferFailed, "claim_transfer_failed"},
	{ErrUnauthorized, "unauthorized"},
	{ErrArithmeticOverflow, "overflow"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrNotInitialized, "not_initialized"},
	{ErrReentrantCall, "reentrant"},
	{ErrInvalidParticipant, "invalid_participant"},
	{ErrAuditFailed, "audit_failed"},
	{nativecommon.ErrModulePaused, "paused"},
	{nativecommon.ErrQuotaRequestsExceeded, "rate_quota"},
	{nativecommon.ErrQuotaPaymentCapExceeded, "rate_quota"},
	{nativecommon.ErrQuotaCounterOverflow, "rate_quota"},
	{state.ErrInsufficientBalance, "insufficient_balance"},
	{quotaledger.ErrInsufficientQuota, "insufficient_quota"},
	{quotaledger.ErrInvalidAmount, "invalid_amount"},
	{quotaledger.ErrUnauthorizedConsumer, "ledger_unbound"},
}

// Reason maps an engine error onto a short, stable label suitable for metrics.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
