package recycler

import (
	"bytes"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"recycler/core/events"
	"recycler/core/state"
	"recycler/observability/metrics"
)

func TestProcessorCommitsOnlySuccessfulOperations(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	proc, err := NewProcessor(f.engine, f.mgr, logger, metrics.NewRecyclerMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	_, err = proc.Recycle(alice, assetAddr, big.NewInt(1_000))
	require.NoError(t, err)
	require.False(t, f.mgr.Dirty(), "successful operation must be committed")

	_, err = proc.Recycle(alice, assetAddr, big.NewInt(0))
	require.ErrorIs(t, err, ErrNoPaymentProvided)
	require.False(t, f.mgr.Dirty())
	require.Contains(t, logs.String(), "no_payment")

	_, err = proc.Recycle(bob, assetAddr, big.NewInt(1_000))
	require.NoError(t, err)
	paid, err := proc.Claim(alice)
	require.NoError(t, err)
	require.Equal(t, 0, paid.Cmp(big.NewInt(990)))

	records, total, err := proc.Events(0, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(5), total)
	require.Len(t, records, 5)
	require.NoError(t, proc.Audit())

	owner, pending, err := proc.Owner()
	require.NoError(t, err)
	require.Equal(t, ownerAddr, owner)
	require.Zero(t, pending)

	ok, err := proc.Initialized()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProcessorStateSurvivesReload(t *testing.T) {
	f := newFixture(t)
	proc, err := NewProcessor(f.engine, f.mgr, nil, nil)
	require.NoError(t, err)
	_, err = proc.Recycle(alice, assetAddr, big.NewInt(1_000))
	require.NoError(t, err)

	reloaded := state.NewManager(f.db)
	count, err := reloaded.EventCount()
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
	require.NoError(t, reloaded.VerifyEvents())

	bal, err := reloaded.Balance(engineAccount)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Cmp(big.NewInt(990)))
}

// flakyStore fails the next commit when failNext is set.
type flakyStore struct {
	*state.Manager
	failNext bool
}

func (s *flakyStore) Commit() error {
	if s.failNext {
		s.failNext = false
		return errors.New("disk full")
	}
	return s.Manager.Commit()
}

func TestProcessorEmitsOnlyCommittedEvents(t *testing.T) {
	f := newFixture(t)
	store := &flakyStore{Manager: f.mgr}
	proc, err := NewProcessor(f.engine, store, nil, nil)
	require.NoError(t, err)
	before := len(f.emitted.Events())

	store.failNext = true
	_, err = proc.Recycle(alice, assetAddr, big.NewInt(1_000))
	require.Error(t, err)
	require.Len(t, f.emitted.Events(), before, "events of an uncommitted operation must not be emitted")

	_, err = proc.Recycle(alice, assetAddr, big.NewInt(0))
	require.ErrorIs(t, err, ErrNoPaymentProvided)
	require.Len(t, f.emitted.Events(), before)

	_, err = proc.Recycle(alice, assetAddr, big.NewInt(1_000))
	require.NoError(t, err)
	emitted := f.emitted.Events()
	require.Len(t, emitted, before+1)
	require.Equal(t, events.TypeRecyclerRecycled, emitted[len(emitted)-1].EventType())
}
