package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded   = errors.New("quota requests exceeded")
	ErrQuotaPaymentCapExceeded = errors.New("quota payment cap exceeded")
	ErrQuotaCounterOverflow    = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount    uint32
	PaymentUsed uint64
	EpochID     uint64
}

// Quota defines the limits enforced for a module interaction per address.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxPaymentPerEpoch  uint64 // in gwei
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxPaymentPerEpoch > 0
}

// EpochAt maps a unix timestamp onto the quota epoch. A zero epoch length
// collapses every timestamp into epoch zero.
func (q Quota) EpochAt(unix int64) uint64 {
	if unix <= 0 || q.EpochSeconds == 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and payment usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addPayment uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addPayment > 0 {
		if next.PaymentUsed > math.MaxUint64-addPayment {
			return prev, ErrQuotaCounterOverflow
		}
		next.PaymentUsed += addPayment
	}
	if q.MaxPaymentPerEpoch > 0 && next.PaymentUsed > q.MaxPaymentPerEpoch {
		return prev, ErrQuotaPaymentCapExceeded
	}

	return next, nil
}

// QuotaStore persists per-address quota counters.
type QuotaStore interface {
	Load(module string, epoch uint64, addr []byte) (QuotaNow, bool, error)
	Save(module string, epoch uint64, addr []byte, counters QuotaNow) error
}

// Apply loads the counters for addr, checks the additional usage against the
// quota and persists the updated counters when admitted.
func Apply(store QuotaStore, module string, epoch uint64, addr []byte, q Quota, addReq uint32, addPayment uint64) (QuotaNow, error) {
	if store == nil {
		return QuotaNow{}, errors.New("quota store not configured")
	}
	prev, _, err := store.Load(module, epoch, addr)
	if err != nil {
		return QuotaNow{}, err
	}
	next, err := CheckQuota(q, epoch, prev, addReq, addPayment)
	if err != nil {
		return prev, err
	}
	if err := store.Save(module, epoch, addr, next); err != nil {
		return prev, err
	}
	return next, nil
}
