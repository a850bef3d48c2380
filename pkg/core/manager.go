package core

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/fagongzi/log"
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru"
	"github.com/infinivision/shardledger/pkg/id"
	"github.com/infinivision/shardledger/pkg/lock"
	"github.com/infinivision/shardledger/pkg/meta"
)

type activeItem struct {
	id meta.TransactionID
	c  *TwoPhaseCommitCoordinator
}

// Less returns true if the item id is smaller
func (item *activeItem) Less(other btree.Item) bool {
	return bytes.Compare(item.id[:], other.(*activeItem).id[:]) < 0
}

// CoordinatorManager owns every live coordinator, ordered by transaction
// id, plus recoveries in progress and a bounded archive of terminal
// snapshots. Every method is serialized by the manager's mutex.
type CoordinatorManager struct {
	mu   sync.Mutex
	opts options

	assignments AssignmentSource
	locks       *lock.CrossShardLockCoordinator
	detector    *ByzantineFailureDetector

	active     *btree.BTree
	recoveries map[meta.TransactionID]*RecoveryOrchestrator
	archive    *lru.Cache

	height uint64
	epoch  meta.EpochID

	eventListeners []eventListener
}

// NewCoordinatorManager returns a manager, votes are verified against the
// assignments, locks are taken through the lock coordinator
func NewCoordinatorManager(assignments AssignmentSource, locks *lock.CrossShardLockCoordinator, opts ...Option) (*CoordinatorManager, error) {
	m := &CoordinatorManager{
		assignments: assignments,
		locks:       locks,
		active:      btree.New(32),
		recoveries:  make(map[meta.TransactionID]*RecoveryOrchestrator),
	}

	for _, opt := range opts {
		opt(&m.opts)
	}
	m.opts.adjust()

	archive, err := lru.New(m.opts.archiveSize)
	if err != nil {
		return nil, err
	}
	m.archive = archive
	m.detector = NewByzantineFailureDetector(m.opts.sink)
	m.initEvent()
	return m, nil
}

// Detector returns the byzantine failure detector
func (m *CoordinatorManager) Detector() *ByzantineFailureDetector {
	return m.detector
}

// Height returns the last block height seen
func (m *CoordinatorManager) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.height
}

// Epoch returns the current epoch
func (m *CoordinatorManager) Epoch() meta.EpochID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.epoch
}

// SetEpoch sets the current epoch, used on start
func (m *CoordinatorManager) SetEpoch(epoch meta.EpochID) {
	m.mu.Lock()
	m.epoch = epoch
	m.mu.Unlock()
}

// ActiveCount returns the number of non archived transactions, recoveries included
func (m *CoordinatorManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.doActiveCount()
}

func (m *CoordinatorManager) doActiveCount() int {
	return m.active.Len() + len(m.recoveries)
}

// Transactions returns snapshots of every non archived transaction ordered by id
func (m *CoordinatorManager) Transactions() []meta.CoordinatorStateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var value []meta.CoordinatorStateSnapshot
	m.active.Ascend(func(i btree.Item) bool {
		value = append(value, i.(*activeItem).c.Snapshot())
		return true
	})
	for _, txID := range m.recoveryIDs() {
		value = append(value, m.recoveries[txID].Snapshot())
	}
	return value
}

// Transaction returns the snapshot of an active, recovering or archived transaction
func (m *CoordinatorManager) Transaction(txID meta.TransactionID) (meta.CoordinatorStateSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.get(txID); ok {
		return c.Snapshot(), true
	}

	if r, ok := m.recoveries[txID]; ok {
		return r.Snapshot(), true
	}

	if value, ok := m.archive.Get(txID); ok {
		return value.(meta.CoordinatorStateSnapshot), true
	}

	if m.opts.storage != nil {
		value, err := m.opts.storage.GetArchived(txID)
		if err != nil {
			log.Errorf("%s: load archived failed with %+v",
				meta.TagTransaction(txID, "query"),
				err)
			return meta.CoordinatorStateSnapshot{}, false
		}
		if value != nil {
			m.archive.Add(txID, *value)
			return *value, true
		}
	}

	return meta.CoordinatorStateSnapshot{}, false
}

func (m *CoordinatorManager) get(txID meta.TransactionID) (*TwoPhaseCommitCoordinator, bool) {
	i := m.active.Get(&activeItem{id: txID})
	if i == nil {
		return nil, false
	}

	return i.(*activeItem).c, true
}

func (m *CoordinatorManager) known(txID meta.TransactionID) bool {
	if _, ok := m.get(txID); ok {
		return true
	}
	if _, ok := m.recoveries[txID]; ok {
		return true
	}
	return m.archive.Contains(txID)
}

// RegisterTransaction registers a transaction at height and takes its locks
// all or nothing. plan holds the keys to lock by shard, every shard of the
// plan must be involved. A zero timeoutHeight asks the advisor, bounded by
// the configured min and max.
func (m *CoordinatorManager) RegisterTransaction(tx meta.CrossShardTransaction, plan map[meta.ShardID][][]byte,
	height, timeoutHeight uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.doRegister(tx, plan, height, timeoutHeight)
	if err != nil {
		log.Errorf("%s: register failed with %+v",
			meta.TagTransaction(tx.ID, "register"),
			err)
		m.publishEvent(event{registerTxFailed, failedEvent{tx.CoordinatorShard(), err}})
		return err
	}

	log.Infof("%s: registered at height %d, timeout height %d, shards %+v",
		meta.TagTransaction(tx.ID, "register"),
		height,
		c.timeoutHeight,
		tx.InvolvedShards)
	m.publishEvent(event{registerTx, c})
	return nil
}

func (m *CoordinatorManager) doRegister(tx meta.CrossShardTransaction, plan map[meta.ShardID][][]byte,
	height, timeoutHeight uint64) (*TwoPhaseCommitCoordinator, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if m.known(tx.ID) {
		return nil, meta.Errorf(meta.ErrTransactionExists, "%s", tx.ID.Short())
	}

	if height < m.height {
		return nil, meta.Errorf(meta.ErrHeightRegression, "register at %d, current %d", height, m.height)
	}

	if tx.TimeoutEpoch < m.epoch {
		return nil, meta.Errorf(meta.ErrTransactionExpired, "timeout epoch %d, current epoch %d",
			tx.TimeoutEpoch, m.epoch)
	}

	for _, shard := range tx.InvolvedShards {
		if _, ok := m.assignments.Assignment(shard); !ok {
			return nil, meta.Errorf(meta.ErrShardNotFound, "shard %d", shard)
		}
	}

	for shard := range plan {
		if !tx.Involves(shard) {
			return nil, meta.Errorf(meta.ErrShardNotInvolved, "lock on shard %d", shard)
		}
	}

	if timeoutHeight == 0 {
		timeoutHeight = height + m.opts.advisor.SuggestTimeout(&tx, m.opts.defaultTimeoutBlocks)
	}
	if timeoutHeight <= height {
		return nil, meta.Errorf(meta.ErrTransactionExpired, "timeout height %d, register height %d",
			timeoutHeight, height)
	}

	if risk := m.opts.advisor.PredictConflicts(&tx, m.activeIDs()); risk > 0.5 {
		log.Debugf("%s: advisor conflict risk %.2f",
			meta.TagTransaction(tx.ID, "register"),
			risk)
	}

	locks := meta.NewLockedKeys(plan)
	if err := m.acquireLocks(tx.ID, locks); err != nil {
		return nil, err
	}

	c := NewTwoPhaseCommitCoordinator(tx, height, timeoutHeight, m.epoch, m.opts.verifier, m.assignments)
	c.locks = locks
	if err := m.persist(c); err != nil {
		m.releaseLocks(tx.ID)
		return nil, err
	}

	m.active.ReplaceOrInsert(&activeItem{id: tx.ID, c: c})
	return c, nil
}

func (m *CoordinatorManager) acquireLocks(txID meta.TransactionID, locks []meta.LockedKeys) error {
	if len(locks) == 0 {
		return nil
	}

	ids, err := id.GenLockIDs(m.opts.gen, len(locks))
	if err != nil {
		return err
	}

	requests := make(map[meta.ShardID]lock.LockRequest, len(locks))
	for i, l := range locks {
		requests[l.ShardID] = lock.LockRequest{
			LockID: ids[i],
			Keys:   l.Keys,
		}
	}

	return m.locks.AcquireLocks(txID, requests)
}

// checkLocks returns ErrLockLost if any lock of the plan is gone
func (m *CoordinatorManager) checkLocks(c *TwoPhaseCommitCoordinator) error {
	shards := make([]meta.ShardID, 0, len(c.locks))
	for _, l := range c.locks {
		shards = append(shards, l.ShardID)
	}
	return m.locks.VerifyHeld(c.ID(), shards)
}

func (m *CoordinatorManager) releaseLocks(txID meta.TransactionID) {
	if err := m.locks.ReleaseTransactionLocks(txID); err != nil {
		log.Errorf("%s: release locks failed with %+v",
			meta.TagTransaction(txID, "unlock"),
			err)
	}
}

// ReceivePrepareVote routes the vote to its coordinator. A commit decision
// is executed at once and the locks move to preparing, an abort decision
// aborts the transaction and releases its locks.
func (m *CoordinatorManager) ReceivePrepareVote(vote meta.PrepareVote) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.get(vote.TransactionID)
	if !ok {
		err := meta.Errorf(meta.ErrTransactionNotFound, "%s", vote.TransactionID.Short())
		m.publishEvent(event{voteTxFailed, failedEvent{vote.ShardID, err}})
		return Decision{}, err
	}

	m.checkEquivocation(c, vote)

	decision, err := c.ReceivePrepareVote(vote)
	if err != nil {
		log.Warnf("%s: vote of shard %d rejected with %+v",
			meta.TagTransaction(c.ID(), "vote"),
			vote.ShardID,
			err)
		m.publishEvent(event{voteTxFailed, failedEvent{vote.ShardID, err}})
		return Decision{}, err
	}
	m.publishEvent(event{voteTx, vote})

	log.Debugf("%s: shard %d voted %t, decision %s",
		meta.TagTransaction(c.ID(), "vote"),
		vote.ShardID,
		vote.CanCommit,
		decision.Kind.Name())

	if decision.Kind == CommitTransaction {
		if err := m.checkLocks(c); err != nil {
			log.Errorf("%s: commit refused, %+v",
				meta.TagTransaction(c.ID(), "commit"),
				err)
			decision = Decision{Kind: AbortTransaction, Reason: err.Error()}
		}
	}

	switch decision.Kind {
	case CommitTransaction:
		if err := c.ExecuteCommit(); err != nil {
			return Decision{}, err
		}
		if err := m.locks.MarkPreparing(c.ID()); err != nil {
			log.Errorf("%s: mark locks preparing failed with %+v",
				meta.TagTransaction(c.ID(), "commit"),
				err)
		}
		m.publishEvent(event{commitTx, c})
	case AbortTransaction:
		if err := c.ExecuteAbort(decision.Reason); err != nil {
			return Decision{}, err
		}
		m.aborted(c)
	}

	m.persistOrLog(c)
	return decision, nil
}

func (m *CoordinatorManager) checkEquivocation(c *TwoPhaseCommitCoordinator, vote meta.PrepareVote) {
	existing, ok := c.Vote(vote.ShardID)
	if !ok || existing.CanCommit == vote.CanCommit {
		return
	}

	if c.VerifyVote(&vote) != nil {
		return
	}

	if e, ok := m.detector.RecordEquivocation(existing, vote, m.height); ok {
		m.evidence(e)
	}
}

// FinalizeCommit finalizes a committing transaction with the receipts of
// every involved shard and releases its locks. The receipts are always
// checked against the votes for byzantine evidence. On error the
// transaction stays committing.
func (m *CoordinatorManager) FinalizeCommit(txID meta.TransactionID, receipts []meta.CrossShardReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.get(txID)
	if !ok {
		err := meta.Errorf(meta.ErrTransactionNotFound, "%s", txID.Short())
		m.publishEvent(event{finalizeTxFailed, failedEvent{0, err}})
		return err
	}

	err := m.checkLocks(c)
	if err == nil {
		err = c.FinalizeCommit(receipts)
	}

	snapshot := c.Snapshot()
	for _, e := range m.detector.DetectPrepareVoteViolation(&snapshot, receipts, m.height) {
		m.evidence(e)
	}

	if err != nil {
		log.Errorf("%s: finalize failed with %+v",
			meta.TagTransaction(txID, "finalize"),
			err)
		m.publishEvent(event{finalizeTxFailed, failedEvent{c.CoordinatorShard(), err}})
		return err
	}

	m.releaseLocks(txID)
	m.persistOrLog(c)
	log.Infof("%s: committed",
		meta.TagTransaction(txID, "finalize"))
	m.publishEvent(event{finalizeTx, c})
	return nil
}

// AdvanceBlock is the clock tick. It retries pending recoveries, force
// aborts every transaction whose timeout height is reached and archives
// every terminal transaction. Returns the ids aborted by timeout.
func (m *CoordinatorManager) AdvanceBlock(height uint64) ([]meta.TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if height < m.height {
		return nil, meta.Errorf(meta.ErrHeightRegression, "advance to %d, current %d", height, m.height)
	}
	m.height = height

	m.retryRecoveries()

	var aborted []meta.TransactionID
	m.active.Ascend(func(i btree.Item) bool {
		c := i.(*activeItem).c
		if !c.IsTerminal() && c.TimeoutHeight() <= height {
			if err := c.abortWith(meta.TxAbortedTimeout, fmt.Sprintf("timeout at height %d", height)); err == nil {
				log.Warnf("%s: aborted, timeout height %d reached in phase %s",
					meta.TagTransaction(c.ID(), "timeout"),
					c.TimeoutHeight(),
					c.Phase().Name())
				m.aborted(c)
				aborted = append(aborted, c.ID())
			}
		}
		return true
	})

	for _, txID := range m.recoveryIDs() {
		r := m.recoveries[txID]
		if r.Snapshot().TimeoutHeight <= height {
			m.abortRecovery(r, meta.TxAbortedTimeout, fmt.Sprintf("timeout at height %d", height))
			aborted = append(aborted, txID)
		}
	}

	m.archiveTerminal()
	return aborted, nil
}

// abortEpoch aborts every transaction whose timeout epoch is before epoch
func (m *CoordinatorManager) abortEpoch(epoch meta.EpochID, shouldAbort func(tx *meta.CrossShardTransaction) bool, reason string) []meta.TransactionID {
	var aborted []meta.TransactionID
	m.active.Ascend(func(i btree.Item) bool {
		c := i.(*activeItem).c
		if !c.IsTerminal() && shouldAbort(&c.tx) {
			if err := c.abortWith(meta.TxAbortedEpochBoundary, reason); err == nil {
				log.Warnf("%s: aborted at epoch %d boundary, timeout epoch %d",
					meta.TagTransaction(c.ID(), "epoch"),
					epoch,
					c.tx.TimeoutEpoch)
				m.aborted(c)
				aborted = append(aborted, c.ID())
			}
		}
		return true
	})

	for _, txID := range m.recoveryIDs() {
		r := m.recoveries[txID]
		s := r.Snapshot()
		if shouldAbort(&s.Transaction) {
			m.abortRecovery(r, meta.TxAbortedEpochBoundary, reason)
			aborted = append(aborted, txID)
		}
	}

	m.archiveTerminal()
	return aborted
}

func (m *CoordinatorManager) aborted(c *TwoPhaseCommitCoordinator) {
	m.releaseLocks(c.ID())
	m.persistOrLog(c)
	m.publishEvent(event{abortTx, abortEvent{c.Snapshot()}})
}

func (m *CoordinatorManager) abortRecovery(r *RecoveryOrchestrator, status meta.TransactionStatus, reason string) {
	s := r.abortedSnapshot(status, reason)
	delete(m.recoveries, s.Transaction.ID)
	m.releaseLocks(s.Transaction.ID)

	log.Warnf("%s: recovery aborted after %d attempts, %s",
		meta.TagTransaction(s.Transaction.ID, "recover"),
		r.Attempts(),
		reason)
	m.publishEvent(event{abortTx, abortEvent{s}})
	m.doArchive(s)
}

func (m *CoordinatorManager) archiveTerminal() {
	var terminal []*TwoPhaseCommitCoordinator
	m.active.Ascend(func(i btree.Item) bool {
		if c := i.(*activeItem).c; c.IsTerminal() {
			terminal = append(terminal, c)
		}
		return true
	})

	for _, c := range terminal {
		m.active.Delete(&activeItem{id: c.ID()})
		m.doArchive(c.Snapshot())
	}
}

func (m *CoordinatorManager) doArchive(s meta.CoordinatorStateSnapshot) {
	m.archive.Add(s.Transaction.ID, s)
	if m.opts.storage != nil {
		if err := m.opts.storage.Archive(&s); err != nil {
			log.Errorf("%s: archive failed with %+v",
				meta.TagTransaction(s.Transaction.ID, "archive"),
				err)
		}
	}

	log.Debugf("%s: archived with status %s",
		meta.TagTransaction(s.Transaction.ID, "archive"),
		s.Status.Name())
	m.publishEvent(event{completeTx, s})
}

// Recover replaces a live coordinator with one rebuilt from its snapshot
func (m *CoordinatorManager) Recover(txID meta.TransactionID, reason RecoveryReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.get(txID)
	if !ok {
		return meta.Errorf(meta.ErrTransactionNotFound, "%s", txID.Short())
	}

	m.active.Delete(&activeItem{id: txID})
	return m.doRecover(NewRecoveryOrchestrator(c.Snapshot(), reason, m.opts.maxRecoveryAttempts))
}

// RecoverSnapshot hands a persisted snapshot to recovery, used on restart.
// Terminal snapshots are archived at once.
func (m *CoordinatorManager) RecoverSnapshot(snapshot meta.CoordinatorStateSnapshot, reason RecoveryReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.known(snapshot.Transaction.ID) {
		return meta.Errorf(meta.ErrTransactionExists, "%s", snapshot.Transaction.ID.Short())
	}

	if snapshot.Phase == meta.Terminal {
		m.doArchive(snapshot)
		return nil
	}

	return m.doRecover(NewRecoveryOrchestrator(snapshot, reason, m.opts.maxRecoveryAttempts))
}

func (m *CoordinatorManager) doRecover(r *RecoveryOrchestrator) error {
	txID := r.Snapshot().Transaction.ID
	m.recoveries[txID] = r
	return m.attemptRecovery(r)
}

func (m *CoordinatorManager) attemptRecovery(r *RecoveryOrchestrator) error {
	s := r.Snapshot()
	c, err := r.Attempt(m.opts.verifier, m.assignments)
	if err == nil && len(m.locks.HeldBy(s.Transaction.ID)) == 0 && !c.IsTerminal() {
		err = m.acquireLocks(s.Transaction.ID, s.Locks)
		if err != nil {
			r.Fail(err)
		}
	}

	if err != nil {
		log.Warnf("%s: attempt %d with reason %s failed with %+v",
			meta.TagTransaction(s.Transaction.ID, "recover"),
			r.Attempts(),
			r.Reason().Name(),
			err)
		m.publishEvent(event{recoverTxFailed, failedEvent{s.CoordinatorShard, err}})
		return err
	}

	delete(m.recoveries, s.Transaction.ID)
	m.active.ReplaceOrInsert(&activeItem{id: s.Transaction.ID, c: c})
	log.Infof("%s: recovered in phase %s after %d attempts",
		meta.TagTransaction(s.Transaction.ID, "recover"),
		c.Phase().Name(),
		r.Attempts())
	m.publishEvent(event{recoverTx, c})
	return nil
}

func (m *CoordinatorManager) retryRecoveries() {
	for _, txID := range m.recoveryIDs() {
		r := m.recoveries[txID]
		if r.ShouldGiveUp() {
			continue
		}
		m.attemptRecovery(r)
	}
}

// Recovering returns the recovery of the transaction
func (m *CoordinatorManager) Recovering(txID meta.TransactionID) (*RecoveryOrchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recoveries[txID]
	return r, ok
}

func (m *CoordinatorManager) recoveryIDs() []meta.TransactionID {
	ids := make([]meta.TransactionID, 0, len(m.recoveries))
	for txID := range m.recoveries {
		ids = append(ids, txID)
	}
	sortTransactionIDs(ids)
	return ids
}

func (m *CoordinatorManager) activeIDs() []meta.TransactionID {
	ids := make([]meta.TransactionID, 0, m.active.Len())
	m.active.Ascend(func(i btree.Item) bool {
		ids = append(ids, i.(*activeItem).id)
		return true
	})
	return ids
}

func (m *CoordinatorManager) evidence(e meta.ByzantineEvidence) {
	if m.opts.storage != nil {
		if err := m.opts.storage.PutEvidence(&e); err != nil {
			log.Errorf("%s: save evidence failed with %+v",
				meta.TagTransaction(e.TransactionID, "byzantine"),
				err)
		}
	}
	m.publishEvent(event{evidenceFound, e})
}

func (m *CoordinatorManager) persist(c *TwoPhaseCommitCoordinator) error {
	if m.opts.storage == nil {
		return nil
	}

	s := c.Snapshot()
	return m.opts.storage.PutSnapshot(&s)
}

func (m *CoordinatorManager) persistOrLog(c *TwoPhaseCommitCoordinator) {
	if err := m.persist(c); err != nil {
		log.Errorf("%s: save snapshot failed with %+v",
			meta.TagTransaction(c.ID(), "persist"),
			err)
	}
}
