package fees

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"recycler/core/state"
	"recycler/storage"
)

func newRouterFixture(t *testing.T, cfg DomainPolicy) (*Router, *state.Manager, common.Address) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	source := common.HexToAddress("0x5ce")
	policy := Policy{Version: 1, Domains: map[string]DomainPolicy{DomainRecycle: cfg}}
	router, err := NewRouter(source, DomainRecycle, policy, mgr, mgr)
	require.NoError(t, err)
	return router, mgr, source
}

func TestRouterReturnsNetToSource(t *testing.T) {
	wallet := common.HexToAddress("0xfee")
	router, mgr, source := newRouterFixture(t, DomainPolicy{MDRBps: 100, RouteWallet: wallet})
	payer := common.HexToAddress("0xa1")
	require.NoError(t, mgr.Credit(source, big.NewInt(1_000)))

	net, err := router.Route(payer, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, 0, net.Cmp(big.NewInt(990)))

	srcBal, err := mgr.Balance(source)
	require.NoError(t, err)
	require.Equal(t, 0, srcBal.Cmp(big.NewInt(990)))
	walletBal, err := mgr.Balance(wallet)
	require.NoError(t, err)
	require.Equal(t, 0, walletBal.Cmp(big.NewInt(10)))

	totals, err := router.Totals()
	require.NoError(t, err)
	require.Equal(t, 0, totals.Fee.Cmp(big.NewInt(10)))
	require.Equal(t, 0, totals.Gross.Cmp(big.NewInt(1_000)))
}

func TestRouterFreeTierCountsPerPayer(t *testing.T) {
	wallet := common.HexToAddress("0xfee")
	router, mgr, source := newRouterFixture(t, DomainPolicy{FreeTierAllowance: 1, MDRBps: 5_000, RouteWallet: wallet})
	payer := common.HexToAddress("0xa1")
	require.NoError(t, mgr.Credit(source, big.NewInt(200)))

	net, err := router.Route(payer, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, 0, net.Cmp(big.NewInt(100)))

	net, err = router.Route(payer, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, 0, net.Cmp(big.NewInt(50)))
}

func TestRouterRejectsBadInput(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	_, err := NewRouter(common.Address{1}, "missing", Policy{}, mgr, mgr)
	if !errors.Is(err, ErrDomainNotConfigured) {
		t.Fatalf("expected domain error, got %v", err)
	}
	_, err = NewRouter(common.Address{1}, DomainRecycle, Policy{Domains: map[string]DomainPolicy{DomainRecycle: {}}}, mgr, mgr)
	if !errors.Is(err, ErrRouteWalletMissing) {
		t.Fatalf("expected wallet error, got %v", err)
	}
	router, _, _ := newRouterFixture(t, DomainPolicy{RouteWallet: common.HexToAddress("0xfee")})
	if _, err := router.Route(common.Address{2}, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := router.Route(common.Address{2}, big.NewInt(1)); !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}
