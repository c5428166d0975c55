package recycler

import "fmt"

var quotaPrunedKey = []byte("recycler/quota/pruned")

// maxPrunePerCall bounds how many stale epochs one prune pass clears.
const maxPrunePerCall = 64

type quotaPruner interface {
	PruneEpoch(module string, epoch uint64) error
}

// PruneQuotaCounters drops rate-quota counters of epochs that have ended.
// It returns the number of epochs cleared. Stores that cannot prune are
// left alone.
func (e *Engine) PruneQuotaCounters() (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	pruner, ok := e.quotaStore.(quotaPruner)
	if !ok || !e.quota.Enabled() || e.quota.EpochSeconds == 0 {
		return 0, nil
	}
	current := e.quota.EpochAt(int64(e.now()))
	cleared := 0
	err := e.mutate(func(*txn) error {
		var next uint64
		if _, err := e.state.KVGet(quotaPrunedKey, &next); err != nil {
			return fmt.Errorf("recycler: load prune watermark: %w", err)
		}
		if next == 0 && current > maxPrunePerCall {
			next = current - maxPrunePerCall
		}
		for ; next < current && cleared < maxPrunePerCall; next++ {
			if err := pruner.PruneEpoch(moduleName, next); err != nil {
				return fmt.Errorf("recycler: prune quota epoch %d: %w", next, err)
			}
			cleared++
		}
		return e.state.KVPut(quotaPrunedKey, next)
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}
