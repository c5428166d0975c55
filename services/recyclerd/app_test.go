package recyclerd

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"recycler/config"
	"recycler/core/events"
	"recycler/native/recycler"
	"recycler/storage"
)

var (
	testOwner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testEngine = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	testAlice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testAsset  = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	testWallet = common.HexToAddress("0x0000000000000000000000000000000000000fee")
)

func testConfig() *config.Config {
	return &config.Config{
		DataDir:       "unused",
		EngineAccount: testEngine.Hex(),
		Owner:         testOwner.Hex(),
		Params: config.Params{
			BasePrice:         "1_000_000_000_000_000_000",
			GrowthSlopePerDay: "0",
		},
		Assets: []config.Asset{{
			Address:       testAsset.Hex(),
			Symbol:        "CO2",
			Eligible:      true,
			Enabled:       true,
			Decimals:      18,
			Rate:          "2_000_000_000_000_000_000",
			CapacityUnits: "0",
		}},
		Fees: config.Fees{
			Domain:        "recycle",
			PolicyVersion: 1,
			MDRBps:        100,
			RouteWallet:   testWallet.Hex(),
		},
		Quota: config.Quota{EpochSeconds: 3_600},
		Allocations: []config.Allocation{{
			Address: testAlice.Hex(),
			Balance: "1_000_000",
			Quotas:  []config.QuotaGrant{{Asset: testAsset.Hex(), Units: "1_000_000"}},
		}},
	}
}

func TestNewBootstrapsEngineOnce(t *testing.T) {
	db := storage.NewMemDB()
	cfg := testConfig()

	app, err := New(cfg, db, nil)
	require.NoError(t, err)
	ok, err := app.Processor.Initialized()
	require.NoError(t, err)
	require.True(t, ok)
	owner, _, err := app.Processor.Owner()
	require.NoError(t, err)
	require.Equal(t, testOwner, owner)

	res, err := app.Processor.Recycle(testAlice, testAsset, big.NewInt(1_000))
	require.NoError(t, err)
	require.Zero(t, res.UnitsConsumed.Cmp(big.NewInt(2_000)))
	require.Zero(t, res.WeightMinted.Cmp(big.NewInt(990)))
	require.NoError(t, app.Processor.Audit())

	again, err := New(cfg, db, nil)
	require.NoError(t, err)
	balance, err := again.state.Balance(testAlice)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(999_000)), "allocations must not be reseeded")
	pos, err := again.Processor.Position(testAlice)
	require.NoError(t, err)
	require.Zero(t, pos.Weight.Cmp(big.NewInt(990)))
	totals, err := again.Router.Totals()
	require.NoError(t, err)
	require.Zero(t, totals.Gross.Cmp(big.NewInt(1_000)))
	require.Zero(t, totals.Fee.Cmp(big.NewInt(10)))
}

func TestNewSyncsAssetRegistry(t *testing.T) {
	db := storage.NewMemDB()
	cfg := testConfig()
	_, err := New(cfg, db, nil)
	require.NoError(t, err)

	cfg.Assets[0].Enabled = false
	app, err := New(cfg, db, nil)
	require.NoError(t, err)
	entry, err := app.Registry.Entry(testAsset)
	require.NoError(t, err)
	require.False(t, entry.Enabled)

	_, err = app.Processor.Recycle(testAlice, testAsset, big.NewInt(1_000))
	require.ErrorIs(t, err, recycler.ErrAssetNotEligible)
}

func TestNewGeneratesEngineKeystore(t *testing.T) {
	cfg := testConfig()
	cfg.EngineAccount = ""
	cfg.KeystorePath = filepath.Join(t.TempDir(), "engine.keystore")

	pass := WithPassphrase(func() (string, error) { return "correct horse", nil })

	first, err := New(cfg, storage.NewMemDB(), nil, pass)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, first.Account)

	second, err := New(cfg, storage.NewMemDB(), nil, pass)
	require.NoError(t, err)
	require.Equal(t, first.Account, second.Account)

	_, err = New(cfg, storage.NewMemDB(), nil, WithPassphrase(func() (string, error) { return "wrong", nil }))
	require.Error(t, err)
}

func TestPruneQuotaCountersThroughProcessor(t *testing.T) {
	cfg := testConfig()
	cfg.Quota.MaxRequestsPerEpoch = 10
	app, err := New(cfg, storage.NewMemDB(), nil)
	require.NoError(t, err)
	_, err = app.Processor.Recycle(testAlice, testAsset, big.NewInt(1_000))
	require.NoError(t, err)
	_, err = app.Processor.PruneQuotaCounters()
	require.NoError(t, err)
}

func TestWithEmitterReceivesEngineEvents(t *testing.T) {
	buf := &events.Buffer{}
	app, err := New(testConfig(), storage.NewMemDB(), nil, WithEmitter(buf))
	require.NoError(t, err)
	_, err = app.Processor.Recycle(testAlice, testAsset, big.NewInt(1_000))
	require.NoError(t, err)

	var types []string
	for _, evt := range buf.Events() {
		types = append(types, evt.EventType())
	}
	require.Contains(t, types, events.TypeRecyclerInitialized)
	require.Contains(t, types, events.TypeRecyclerRecycled)
}

func TestOpenUsesConfiguredBackend(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	cfg.Storage.Backend = "bolt"
	app, err := Open(cfg, nil)
	require.NoError(t, err)
	app.Close()

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	ok, err := reopened.Processor.Initialized()
	require.NoError(t, err)
	require.True(t, ok)
}
