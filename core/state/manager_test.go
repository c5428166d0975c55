package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"recycler/core/types"
	"recycler/storage"
)

type record struct {
	Amount *big.Int
	Label  string
}

func TestKVRoundTripAndCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("a"), record{Amount: big.NewInt(7), Label: "seven"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err := mgr.KVGet([]byte("a"), &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Amount.Cmp(big.NewInt(7)) != 0 || got.Label != "seven" {
		t.Fatalf("unexpected record %+v", got)
	}
	if len(db.Keys()) != 0 {
		t.Fatalf("writes leaked before commit: %v", db.Keys())
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(db.Keys()) != 1 {
		t.Fatalf("expected one committed key, got %v", db.Keys())
	}

	fresh := NewManager(db)
	ok, err = fresh.KVGet([]byte("a"), &got)
	if err != nil || !ok {
		t.Fatalf("reload: ok=%v err=%v", ok, err)
	}
}

func TestSnapshotRevert(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	outer := mgr.Snapshot()
	if err := mgr.KVPut([]byte("k"), uint64(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	inner := mgr.Snapshot()
	if err := mgr.KVPut([]byte("k"), uint64(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVPut([]byte("other"), uint64(9)); err != nil {
		t.Fatalf("put: %v", err)
	}

	mgr.RevertToSnapshot(inner)
	var v uint64
	if _, err := mgr.KVGet([]byte("k"), &v); err != nil || v != 2 {
		t.Fatalf("expected 2 after inner revert, got %d (%v)", v, err)
	}
	if ok, _ := mgr.KVGet([]byte("other"), nil); ok {
		t.Fatalf("expected other to be reverted")
	}

	mgr.RevertToSnapshot(outer)
	if _, err := mgr.KVGet([]byte("k"), &v); err != nil || v != 1 {
		t.Fatalf("expected 1 after outer revert, got %d (%v)", v, err)
	}
}

func TestKVDeleteAndList(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("list")
	for _, item := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend(key, item); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected deduplicated list of 2, got %d", len(list))
	}
	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list after delete")
	}
}

func TestTransfer(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	if err := mgr.Credit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := mgr.Transfer(alice, bob, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	a, _ := mgr.Balance(alice)
	b, _ := mgr.Balance(bob)
	if a.Cmp(big.NewInt(60)) != 0 || b.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected balances alice=%s bob=%s", a, b)
	}
	if err := mgr.Credit(alice, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestBalanceOverflow(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := common.HexToAddress("0x03")
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := mgr.SetBalance(addr, max); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if err := mgr.Credit(addr, big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestEventLogChain(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	for i, typ := range []string{"a", "b", "c"} {
		rec, err := mgr.AppendEvent(&types.Event{Type: typ, Attributes: map[string]string{"z": "1", "a": "2"}})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if rec.Sequence != uint64(i) {
			t.Fatalf("unexpected sequence %d", rec.Sequence)
		}
		if rec.Attributes[0].Key != "a" {
			t.Fatalf("attributes not sorted: %+v", rec.Attributes)
		}
	}
	if err := mgr.VerifyEvents(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	records, err := mgr.Events(1, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(records) != 2 || records[0].Type != "b" || records[1].PrevHash != records[0].Hash {
		t.Fatalf("unexpected records %+v", records)
	}
	if records[1].Event().Attributes["z"] != "1" {
		t.Fatalf("event conversion lost attributes")
	}

	snap := mgr.Snapshot()
	if _, err := mgr.AppendEvent(&types.Event{Type: "d"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	mgr.RevertToSnapshot(snap)
	count, _ := mgr.EventCount()
	if count != 3 {
		t.Fatalf("expected reverted event log of 3, got %d", count)
	}
}

func TestVerifyEventsDetectsTampering(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	for _, typ := range []string{"a", "b"} {
		if _, err := mgr.AppendEvent(&types.Event{Type: typ}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	records, _ := mgr.Events(0, 2)
	tampered := records[0]
	tampered.Type = "forged"
	if err := mgr.KVPut(eventKey(0), tampered); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.VerifyEvents(); !errors.Is(err, ErrEventChainBroken) {
		t.Fatalf("expected broken chain, got %v", err)
	}
}
