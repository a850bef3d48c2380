package lock

import (
	"sort"
	"sync"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/metrics"
)

// NewShardLockManager returns an in memory lock manager of the shard
func NewShardLockManager(shard meta.ShardID, epoch meta.EpochID, opts ...Option) ShardLockManager {
	value := &options{}
	for _, opt := range opts {
		opt(value)
	}
	value.adjust()

	return &shardLockManager{
		opts:  value,
		shard: shard,
		label: metrics.ShardLabel(uint64(shard)),
		epoch: epoch,
		locks: make(map[meta.StateLockID]*meta.StateLock),
		keys:  make(map[string]meta.StateLockID),
	}
}

type shardLockManager struct {
	mu sync.Mutex

	opts  *options
	shard meta.ShardID
	label string
	epoch meta.EpochID
	locks map[meta.StateLockID]*meta.StateLock
	// key -> held lock, released locks are never indexed
	keys map[string]meta.StateLockID
}

func (m *shardLockManager) ShardID() meta.ShardID {
	return m.shard
}

func (m *shardLockManager) Epoch() meta.EpochID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.epoch
}

func (m *shardLockManager) CheckKeys(keys [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.doCheckKeys(keys)
}

func (m *shardLockManager) doCheckKeys(keys [][]byte) error {
	for _, key := range keys {
		if holder, ok := m.keys[string(key)]; ok {
			return meta.Errorf(meta.ErrLockConflict, "shard %d key %x held by lock %d",
				m.shard, key, holder)
		}
	}

	return nil
}

func (m *shardLockManager) AcquireLock(id meta.StateLockID, tx meta.TransactionID, keys [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.locks[id]; ok {
		metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionAcquire, metrics.StatusFailed).Inc()
		return meta.Errorf(meta.ErrLockExists, "shard %d lock %d", m.shard, id)
	}

	normalized := meta.NormalizeKeys(keys)
	if err := m.doCheckKeys(normalized); err != nil {
		metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionAcquire, metrics.StatusFailed).Inc()
		return err
	}

	m.locks[id] = &meta.StateLock{
		LockID:        id,
		TransactionID: tx,
		LockedKeys:    normalized,
		AcquiredEpoch: m.epoch,
		MaxHoldEpochs: m.opts.maxHoldEpochs,
		Status:        meta.LockActive,
	}
	for _, key := range normalized {
		m.keys[string(key)] = id
	}

	log.Debugf("%s: lock %d acquired on %d keys",
		meta.TagTransaction(tx, "lock"),
		id,
		len(normalized))
	metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionAcquire, metrics.StatusSucceed).Inc()
	m.updateHeld()
	return m.afterMutation()
}

func (m *shardLockManager) MarkPreparing(id meta.StateLockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		return meta.Errorf(meta.ErrLockNotFound, "shard %d lock %d", m.shard, id)
	}
	if !l.Status.Held() {
		return meta.Errorf(meta.ErrLockAlreadyReleased, "shard %d lock %d", m.shard, id)
	}

	l.Status = meta.LockPreparing
	return nil
}

func (m *shardLockManager) ReleaseLock(id meta.StateLockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionRelease, metrics.StatusFailed).Inc()
		return meta.Errorf(meta.ErrLockNotFound, "shard %d lock %d", m.shard, id)
	}
	if !l.Status.Held() {
		metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionRelease, metrics.StatusFailed).Inc()
		return meta.Errorf(meta.ErrLockAlreadyReleased, "shard %d lock %d", m.shard, id)
	}

	m.doRelease(l)
	metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionRelease, metrics.StatusSucceed).Inc()
	m.updateHeld()
	return m.afterMutation()
}

func (m *shardLockManager) doRelease(l *meta.StateLock) {
	l.Status = meta.LockReleasing
	for _, key := range l.LockedKeys {
		if holder, ok := m.keys[string(key)]; ok && holder == l.LockID {
			delete(m.keys, string(key))
		}
	}
	l.Status = meta.LockReleased
}

func (m *shardLockManager) Lock(id meta.StateLockID) (meta.StateLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		return meta.StateLock{}, false
	}
	return copyLock(l), true
}

func (m *shardLockManager) LocksOf(tx meta.TransactionID) []meta.StateLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var value []meta.StateLock
	for _, l := range m.locks {
		if l.TransactionID == tx && l.Status.Held() {
			value = append(value, copyLock(l))
		}
	}
	sortLocks(value)
	return value
}

func (m *shardLockManager) Locks() []meta.StateLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	value := make([]meta.StateLock, 0, len(m.locks))
	for _, l := range m.locks {
		value = append(value, copyLock(l))
	}
	sortLocks(value)
	return value
}

func (m *shardLockManager) HeldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heldCount()
}

func (m *shardLockManager) heldCount() int {
	n := 0
	for _, l := range m.locks {
		if l.Status.Held() {
			n++
		}
	}
	return n
}

func (m *shardLockManager) AdvanceEpoch(epoch meta.EpochID) []meta.StateLock {
	m.mu.Lock()
	if epoch < m.epoch {
		log.Warnf("%s: ignore epoch regression from %d",
			meta.TagShard(m.shard, "epoch"),
			m.epoch)
		m.mu.Unlock()
		return nil
	}
	m.epoch = epoch
	m.mu.Unlock()

	return m.CleanupExpiredLocks()
}

func (m *shardLockManager) CleanupExpiredLocks() []meta.StateLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []meta.StateLock
	for _, l := range m.locks {
		if l.Status.Held() && l.IsExpired(m.epoch) {
			m.doRelease(l)
			expired = append(expired, copyLock(l))

			// an expired lock means the transaction was abandoned
			log.Warnf("%s: lock %d on shard %d expired at epoch %d, acquired at epoch %d",
				meta.TagTransaction(l.TransactionID, "lock-expired"),
				l.LockID,
				m.shard,
				m.epoch,
				l.AcquiredEpoch)
			metrics.ActionLockCounter.WithLabelValues(m.label, metrics.ActionExpire, metrics.StatusSucceed).Inc()
		}
	}

	for id, l := range m.locks {
		if l.Status == meta.LockReleased {
			delete(m.locks, id)
		}
	}

	sortLocks(expired)
	m.updateHeld()
	if err := m.afterMutation(); err != nil {
		log.Errorf("%s: cleanup failed with %+v", meta.TagShard(m.shard, "cleanup"), err)
	}
	return expired
}

func (m *shardLockManager) VerifyConsistency() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.verifyConsistency()
}

func (m *shardLockManager) verifyConsistency() error {
	for key, id := range m.keys {
		l, ok := m.locks[id]
		if !ok {
			return meta.Errorf(meta.ErrLockInconsistent, "shard %d key %x points to missing lock %d",
				m.shard, []byte(key), id)
		}
		if !l.Status.Held() {
			return meta.Errorf(meta.ErrLockInconsistent, "shard %d key %x points to %s lock %d",
				m.shard, []byte(key), l.Status.Name(), id)
		}
		if !l.HasKey([]byte(key)) {
			return meta.Errorf(meta.ErrLockInconsistent, "shard %d key %x not in lock %d",
				m.shard, []byte(key), id)
		}
	}

	for id, l := range m.locks {
		if !l.Status.Held() {
			continue
		}
		for _, key := range l.LockedKeys {
			if holder, ok := m.keys[string(key)]; !ok || holder != id {
				return meta.Errorf(meta.ErrLockInconsistent, "shard %d lock %d key %x not indexed",
					m.shard, id, key)
			}
		}
	}

	return nil
}

func (m *shardLockManager) afterMutation() error {
	if !m.opts.checkEachStep {
		return nil
	}

	return m.verifyConsistency()
}

func (m *shardLockManager) updateHeld() {
	metrics.HeldLockGauge.WithLabelValues(m.label).Set(float64(m.heldCount()))
}

func copyLock(l *meta.StateLock) meta.StateLock {
	value := *l
	value.LockedKeys = make([][]byte, len(l.LockedKeys))
	for i, key := range l.LockedKeys {
		value.LockedKeys[i] = append([]byte(nil), key...)
	}
	return value
}

func sortLocks(locks []meta.StateLock) {
	sort.Slice(locks, func(i, j int) bool { return locks[i].LockID < locks[j].LockID })
}
