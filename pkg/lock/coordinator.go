package lock

import (
	"sort"
	"sync"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/meta"
)

// LockRequest the lock a transaction asks for on one shard
type LockRequest struct {
	LockID meta.StateLockID
	Keys   [][]byte
}

// CrossShardLockCoordinator acquires the locks of a transaction on every
// involved shard, all or nothing. Pass one checks every shard without side
// effect, pass two acquires and unwinds what it took if a shard fails.
type CrossShardLockCoordinator struct {
	sync.RWMutex

	opts     []Option
	managers map[meta.ShardID]ShardLockManager
	held     map[meta.TransactionID]map[meta.ShardID]meta.StateLockID
}

// NewCrossShardLockCoordinator returns a coordinator, opts are used for the
// managers created by SyncTopology
func NewCrossShardLockCoordinator(opts ...Option) *CrossShardLockCoordinator {
	return &CrossShardLockCoordinator{
		opts:     opts,
		managers: make(map[meta.ShardID]ShardLockManager),
		held:     make(map[meta.TransactionID]map[meta.ShardID]meta.StateLockID),
	}
}

// Register adds a shard lock manager, replacing the manager of the same shard
func (c *CrossShardLockCoordinator) Register(m ShardLockManager) {
	c.Lock()
	c.managers[m.ShardID()] = m
	c.Unlock()
}

// Manager returns the lock manager of the shard
func (c *CrossShardLockCoordinator) Manager(id meta.ShardID) (ShardLockManager, bool) {
	c.RLock()
	defer c.RUnlock()

	m, ok := c.managers[id]
	return m, ok
}

// Managers returns every manager in shard id order
func (c *CrossShardLockCoordinator) Managers() []ShardLockManager {
	c.RLock()
	defer c.RUnlock()

	return c.sortedManagers()
}

func (c *CrossShardLockCoordinator) sortedManagers() []ShardLockManager {
	value := make([]ShardLockManager, 0, len(c.managers))
	for _, m := range c.managers {
		value = append(value, m)
	}
	sort.Slice(value, func(i, j int) bool { return value[i].ShardID() < value[j].ShardID() })
	return value
}

// SyncTopology creates managers for new shards and retires managers of
// shards missing from the registry once they hold no lock.
func (c *CrossShardLockCoordinator) SyncTopology(registry *meta.ShardRegistry) {
	c.Lock()
	defer c.Unlock()

	for _, id := range registry.ShardIDs() {
		if _, ok := c.managers[id]; !ok {
			c.managers[id] = NewShardLockManager(id, registry.EpochID, c.opts...)
			log.Infof("%s: lock manager created at epoch %d",
				meta.TagShard(id, "lock"),
				registry.EpochID)
		}
	}

	for id, m := range c.managers {
		if registry.Has(id) {
			continue
		}

		if n := m.HeldCount(); n > 0 {
			log.Warnf("%s: shard left the topology with %d held locks, keep manager until they expire",
				meta.TagShard(id, "lock"),
				n)
			continue
		}

		delete(c.managers, id)
		log.Infof("%s: lock manager retired at epoch %d",
			meta.TagShard(id, "lock"),
			registry.EpochID)
	}
}

// AcquireLocks acquires the lock of every shard in plan for the transaction
func (c *CrossShardLockCoordinator) AcquireLocks(tx meta.TransactionID, plan map[meta.ShardID]LockRequest) error {
	ids := make([]meta.ShardID, 0, len(plan))
	for id := range plan {
		ids = append(ids, id)
	}
	sort.Sort(meta.ShardIDs(ids))

	c.RLock()
	if _, ok := c.held[tx]; ok {
		c.RUnlock()
		return meta.Errorf(meta.ErrTransactionLocksHeld, "%s", tx.Short())
	}
	managers := make([]ShardLockManager, 0, len(ids))
	for _, id := range ids {
		m, ok := c.managers[id]
		if !ok {
			c.RUnlock()
			return meta.Errorf(meta.ErrUnknownLockShard, "shard %d", id)
		}
		managers = append(managers, m)
	}
	c.RUnlock()

	for i, m := range managers {
		if err := m.CheckKeys(meta.NormalizeKeys(plan[ids[i]].Keys)); err != nil {
			log.Debugf("%s: check keys failed with %+v",
				meta.TagTransaction(tx, "lock"),
				err)
			return err
		}
	}

	taken := make(map[meta.ShardID]meta.StateLockID, len(ids))
	for i, m := range managers {
		req := plan[ids[i]]
		if err := m.AcquireLock(req.LockID, tx, req.Keys); err != nil {
			log.Warnf("%s: acquire on shard %d failed after check, unwind %d locks, %+v",
				meta.TagTransaction(tx, "lock"),
				ids[i],
				len(taken),
				err)
			c.unwind(tx, managers[:i], ids[:i], taken)
			return err
		}
		taken[ids[i]] = req.LockID
	}

	c.Lock()
	if _, ok := c.held[tx]; ok {
		c.Unlock()
		c.unwind(tx, managers, ids, taken)
		return meta.Errorf(meta.ErrTransactionLocksHeld, "%s", tx.Short())
	}
	c.held[tx] = taken
	c.Unlock()

	log.Debugf("%s: locks acquired on %d shards",
		meta.TagTransaction(tx, "lock"),
		len(taken))
	return nil
}

func (c *CrossShardLockCoordinator) unwind(tx meta.TransactionID, managers []ShardLockManager, ids []meta.ShardID, taken map[meta.ShardID]meta.StateLockID) {
	for i, m := range managers {
		id, ok := taken[ids[i]]
		if !ok {
			continue
		}

		if err := m.ReleaseLock(id); err != nil {
			log.Errorf("%s: unwind lock %d on shard %d failed with %+v",
				meta.TagTransaction(tx, "lock"),
				id,
				ids[i],
				err)
		}
	}
}

// ReleaseTransactionLocks releases every lock of the transaction. Locks
// already released by expiry are skipped.
func (c *CrossShardLockCoordinator) ReleaseTransactionLocks(tx meta.TransactionID) error {
	c.Lock()
	taken, ok := c.held[tx]
	delete(c.held, tx)
	managers := make(map[meta.ShardID]ShardLockManager, len(taken))
	for id := range taken {
		if m, ok := c.managers[id]; ok {
			managers[id] = m
		}
	}
	c.Unlock()

	if !ok {
		return nil
	}

	ids := make([]meta.ShardID, 0, len(taken))
	for id := range taken {
		ids = append(ids, id)
	}
	sort.Sort(meta.ShardIDs(ids))

	var first error
	for _, id := range ids {
		m, ok := managers[id]
		if !ok {
			log.Warnf("%s: lock manager of shard %d retired, lock %d already expired",
				meta.TagTransaction(tx, "unlock"),
				id,
				taken[id])
			continue
		}

		err := m.ReleaseLock(taken[id])
		if err == nil {
			continue
		}
		if meta.IsError(err, meta.ErrLockAlreadyReleased) || meta.IsError(err, meta.ErrLockNotFound) {
			log.Warnf("%s: lock %d on shard %d already expired",
				meta.TagTransaction(tx, "unlock"),
				taken[id],
				id)
			continue
		}
		if first == nil {
			first = err
		}
	}

	return first
}

// MarkPreparing marks every lock of the transaction as preparing
func (c *CrossShardLockCoordinator) MarkPreparing(tx meta.TransactionID) error {
	for id, lockID := range c.HeldBy(tx) {
		m, ok := c.Manager(id)
		if !ok {
			return meta.Errorf(meta.ErrUnknownLockShard, "shard %d", id)
		}
		if err := m.MarkPreparing(lockID); err != nil {
			return err
		}
	}

	return nil
}

// HeldBy returns the locks the transaction holds by shard
func (c *CrossShardLockCoordinator) HeldBy(tx meta.TransactionID) map[meta.ShardID]meta.StateLockID {
	c.RLock()
	defer c.RUnlock()

	value := make(map[meta.ShardID]meta.StateLockID, len(c.held[tx]))
	for id, lockID := range c.held[tx] {
		value[id] = lockID
	}
	return value
}

// VerifyHeld returns ErrLockLost unless the transaction still holds its
// lock on every one of shards
func (c *CrossShardLockCoordinator) VerifyHeld(tx meta.TransactionID, shards []meta.ShardID) error {
	for _, id := range shards {
		c.RLock()
		lockID, ok := c.held[tx][id]
		m, found := c.managers[id]
		c.RUnlock()

		if !ok || !found {
			return meta.Errorf(meta.ErrLockLost, "%s on shard %d", tx.Short(), id)
		}

		l, ok := m.Lock(lockID)
		if !ok || !l.Status.Held() || l.TransactionID != tx {
			return meta.Errorf(meta.ErrLockLost, "%s lock %d on shard %d", tx.Short(), lockID, id)
		}
	}

	return nil
}

// AdvanceEpoch advances every manager and returns the expired locks by shard
func (c *CrossShardLockCoordinator) AdvanceEpoch(epoch meta.EpochID) map[meta.ShardID][]meta.StateLock {
	expired := make(map[meta.ShardID][]meta.StateLock)
	for _, m := range c.Managers() {
		if value := m.AdvanceEpoch(epoch); len(value) > 0 {
			expired[m.ShardID()] = value
		}
	}
	return expired
}

// VerifyConsistency checks every manager
func (c *CrossShardLockCoordinator) VerifyConsistency() error {
	for _, m := range c.Managers() {
		if err := m.VerifyConsistency(); err != nil {
			return err
		}
	}
	return nil
}
