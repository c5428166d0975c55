package quotas

import (
	"errors"
	"testing"

	"recycler/core/state"
	nativecommon "recycler/native/common"
	"recycler/storage"
)

func TestQuotaStoreCountersAndPrune(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))

	addr := make([]byte, 20)
	addr[0] = 0xAA
	quota := nativecommon.Quota{MaxRequestsPerEpoch: 2, MaxPaymentPerEpoch: 100, EpochSeconds: 60}

	if _, err := nativecommon.Apply(store, "recycler", 0, addr, quota, 1, 40); err != nil {
		t.Fatalf("apply quota: %v", err)
	}
	next, err := nativecommon.Apply(store, "recycler", 0, addr, quota, 1, 40)
	if err != nil {
		t.Fatalf("apply quota second: %v", err)
	}
	if next.ReqCount != 2 || next.PaymentUsed != 80 {
		t.Fatalf("unexpected counters: %+v", next)
	}

	if _, err := nativecommon.Apply(store, "recycler", 0, addr, quota, 1, 0); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}

	rollover, err := nativecommon.Apply(store, "Recycler ", 1, addr, quota, 1, 0)
	if err != nil {
		t.Fatalf("apply quota after epoch: %v", err)
	}
	if rollover.EpochID != 1 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected counters after rollover: %+v", rollover)
	}

	if err := store.PruneEpoch("recycler", 0); err != nil {
		t.Fatalf("prune epoch: %v", err)
	}
	if _, ok, err := store.Load("recycler", 0, addr); err != nil {
		t.Fatalf("load after prune: %v", err)
	} else if ok {
		t.Fatalf("expected epoch 0 counters pruned")
	}
}

func TestQuotaStorePaymentCap(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	addr := []byte{0x01}
	quota := nativecommon.Quota{MaxPaymentPerEpoch: 10, EpochSeconds: 60}

	if _, err := nativecommon.Apply(store, "recycler", 3, addr, quota, 1, 10); err != nil {
		t.Fatalf("apply quota: %v", err)
	}
	if _, err := nativecommon.Apply(store, "recycler", 3, addr, quota, 1, 1); !errors.Is(err, nativecommon.ErrQuotaPaymentCapExceeded) {
		t.Fatalf("expected payment cap, got %v", err)
	}
	now, ok, err := store.Load("recycler", 3, addr)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if now.PaymentUsed != 10 {
		t.Fatalf("denied usage must not persist, got %d", now.PaymentUsed)
	}
}

func TestQuotaStoreRequiresAddress(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	if _, _, err := store.Load("recycler", 0, nil); !errors.Is(err, ErrAddressMissing) {
		t.Fatalf("expected address error")
	}
	if err := (&Store{}).Save("recycler", 0, []byte{1}, nativecommon.QuotaNow{}); err == nil {
		t.Fatalf("expected uninitialised store error")
	}
}

func TestQuotaStoreIndexesAddressOnce(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	store := NewStore(mgr)
	addr := []byte{0x02}
	for i := uint32(1); i <= 3; i++ {
		if err := store.Save("recycler", 7, addr, nativecommon.QuotaNow{EpochID: 7, ReqCount: i}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	var addrs [][]byte
	if err := mgr.KVGetList(space("recycler", 7).index(), &addrs); err != nil {
		t.Fatalf("load index: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("expected one index entry, got %d", len(addrs))
	}
	if err := (&Store{}).PruneEpoch("recycler", 7); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}
