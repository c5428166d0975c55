package quotaledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"recycler/core/state"
	"recycler/storage"
)

func TestGrantConsumeAndAuthorization(t *testing.T) {
	ledger := New(state.NewManager(storage.NewMemDB()))
	engine := common.HexToAddress("0xe1")
	participant := common.HexToAddress("0xa1")
	asset := common.HexToAddress("0xb1")

	require.NoError(t, ledger.Grant(participant, asset, big.NewInt(100)))
	require.NoError(t, ledger.Grant(participant, asset, big.NewInt(50)))
	quota, err := ledger.QueryQuota(participant, asset)
	require.NoError(t, err)
	require.Equal(t, 0, quota.Cmp(big.NewInt(150)))

	view := ledger.For(engine)
	require.ErrorIs(t, view.Consume(participant, asset, big.NewInt(10)), ErrUnauthorizedConsumer)

	require.NoError(t, ledger.Bind(engine))
	require.NoError(t, view.Consume(participant, asset, big.NewInt(120)))
	require.ErrorIs(t, view.Consume(participant, asset, big.NewInt(31)), ErrInsufficientQuota)

	quota, err = view.QueryQuota(participant, asset)
	require.NoError(t, err)
	require.Equal(t, 0, quota.Cmp(big.NewInt(30)))

	require.ErrorIs(t, ledger.Grant(participant, asset, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, view.Consume(participant, asset, nil), ErrInvalidAmount)
}
