package core

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/lock"
	"github.com/infinivision/shardledger/pkg/meta"
)

// EpochBoundaryHandler keeps transactions from straddling an epoch
type EpochBoundaryHandler struct {
	manager *CoordinatorManager
	locks   *lock.CrossShardLockCoordinator
}

// NewEpochBoundaryHandler returns a handler
func NewEpochBoundaryHandler(manager *CoordinatorManager) *EpochBoundaryHandler {
	return &EpochBoundaryHandler{
		manager: manager,
		locks:   manager.locks,
	}
}

// ForceAbortAtEpochBoundary aborts every transaction whose timeout epoch is
// before epoch, then advances every shard lock manager to epoch which
// expires abandoned locks. A live transaction that lost a lock to expiry is
// aborted too. Returns the aborted transactions and the expired locks by
// shard.
func (h *EpochBoundaryHandler) ForceAbortAtEpochBoundary(epoch meta.EpochID) ([]meta.TransactionID, map[meta.ShardID][]meta.StateLock) {
	h.manager.mu.Lock()
	if epoch > h.manager.epoch {
		h.manager.epoch = epoch
	}
	aborted := h.manager.abortEpoch(epoch, func(tx *meta.CrossShardTransaction) bool {
		return tx.TimeoutEpoch < epoch
	}, fmt.Sprintf("timeout epoch passed at epoch %d", epoch))
	h.manager.mu.Unlock()

	expired := h.locks.AdvanceEpoch(epoch)
	owners := make(map[meta.TransactionID]struct{})
	for _, locks := range expired {
		for _, l := range locks {
			owners[l.TransactionID] = struct{}{}
		}
	}

	if len(owners) > 0 {
		h.manager.mu.Lock()
		aborted = append(aborted, h.manager.abortEpoch(epoch, func(tx *meta.CrossShardTransaction) bool {
			_, ok := owners[tx.ID]
			return ok
		}, fmt.Sprintf("locks expired at epoch %d", epoch))...)
		h.manager.mu.Unlock()
	}

	log.Infof("%s: %d transactions aborted, locks expired on %d shards",
		meta.TagEpoch(epoch, "boundary"),
		len(aborted),
		len(expired))
	return aborted, expired
}

// ApplyTopology aborts every transaction involving a shard that left the
// registry or whose keyspace changed since previous, then brings the shard
// lock managers in line with the registry. A nil previous only checks for
// removed shards.
func (h *EpochBoundaryHandler) ApplyTopology(previous, registry *meta.ShardRegistry) []meta.TransactionID {
	changed := ChangedShards(previous, registry)

	h.manager.mu.Lock()
	aborted := h.manager.abortEpoch(registry.EpochID, func(tx *meta.CrossShardTransaction) bool {
		for _, id := range tx.InvolvedShards {
			if _, ok := changed[id]; ok || !registry.Has(id) {
				return true
			}
		}
		return false
	}, fmt.Sprintf("involved shard changed at epoch %d", registry.EpochID))
	h.manager.mu.Unlock()

	h.locks.SyncTopology(registry)
	if len(aborted) > 0 {
		log.Warnf("%s: %d transactions aborted by topology change",
			meta.TagEpoch(registry.EpochID, "topology"),
			len(aborted))
	}
	return aborted
}

// ChangedShards returns the shards of previous that are missing from next or
// own a different keyspace in next
func ChangedShards(previous, next *meta.ShardRegistry) map[meta.ShardID]struct{} {
	changed := make(map[meta.ShardID]struct{})
	if previous == nil {
		return changed
	}

	for _, before := range previous.Shards() {
		after, ok := next.Get(before.ID)
		if !ok ||
			!bytes.Equal(before.Keyspace.Start, after.Keyspace.Start) ||
			!bytes.Equal(before.Keyspace.End, after.Keyspace.End) {
			changed[before.ID] = struct{}{}
		}
	}
	return changed
}

func sortTransactionIDs(ids []meta.TransactionID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
