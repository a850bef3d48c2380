package dashboard

import (
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/server"
	"github.com/infinivision/shardledger/pkg/storage"
)

// QueryAPI the read side of a node
type QueryAPI interface {
	Topology() *meta.ShardRegistry
	PendingTopology() *meta.ShardRegistry
	Registry(epoch meta.EpochID) (*meta.ShardRegistry, error)
	Transactions() []meta.CoordinatorStateSnapshot
	Transaction(id meta.TransactionID) (meta.CoordinatorStateSnapshot, bool)
	Evidence() ([]meta.ByzantineEvidence, error)
	Locks() map[meta.ShardID][]meta.StateLock
	VerifyBlock(fields meta.BlockShardFields) error
	Stats() server.Stats
}

// NewStorageAPI returns a QueryAPI reading the storage a node writes, used
// by a dashboard running apart from the node. Held locks are derived from
// the lock plans of the active snapshots.
func NewStorageAPI(store storage.Storage) QueryAPI {
	return &storageAPI{store: store}
}

type storageAPI struct {
	store storage.Storage
}

func (a *storageAPI) Topology() *meta.ShardRegistry {
	value, err := a.store.LatestRegistry()
	if err != nil || value == nil {
		return meta.NewShardRegistry(0, 0)
	}
	return value
}

func (a *storageAPI) PendingTopology() *meta.ShardRegistry {
	return nil
}

func (a *storageAPI) Registry(epoch meta.EpochID) (*meta.ShardRegistry, error) {
	return a.store.GetRegistry(epoch)
}

func (a *storageAPI) Transactions() []meta.CoordinatorStateSnapshot {
	var value []meta.CoordinatorStateSnapshot
	a.store.LoadSnapshots(func(s *meta.CoordinatorStateSnapshot) error {
		value = append(value, *s)
		return nil
	})
	return value
}

func (a *storageAPI) Transaction(id meta.TransactionID) (meta.CoordinatorStateSnapshot, bool) {
	value, err := a.store.GetSnapshot(id)
	if err == nil && value == nil {
		value, err = a.store.GetArchived(id)
	}
	if err != nil || value == nil {
		return meta.CoordinatorStateSnapshot{}, false
	}
	return *value, true
}

func (a *storageAPI) Evidence() ([]meta.ByzantineEvidence, error) {
	var value []meta.ByzantineEvidence
	err := a.store.LoadEvidence(func(e *meta.ByzantineEvidence) error {
		value = append(value, *e)
		return nil
	})
	return value, err
}

func (a *storageAPI) Locks() map[meta.ShardID][]meta.StateLock {
	value := make(map[meta.ShardID][]meta.StateLock)
	for _, s := range a.Transactions() {
		if s.Phase == meta.Terminal || s.Phase == meta.Aborting {
			continue
		}

		status := meta.LockActive
		if s.Phase == meta.CommittingPhase || s.Phase == meta.ReadyToCommit {
			status = meta.LockPreparing
		}
		for _, keys := range s.Locks {
			value[keys.ShardID] = append(value[keys.ShardID], meta.StateLock{
				TransactionID: s.Transaction.ID,
				LockedKeys:    keys.Keys,
				Status:        status,
				AcquiredEpoch: s.RegisteredEpoch,
			})
		}
	}
	return value
}

func (a *storageAPI) VerifyBlock(fields meta.BlockShardFields) error {
	current := a.Topology()
	if fields.EpochID != current.EpochID {
		return meta.Errorf(meta.ErrEpochMismatch, "block epoch %d, current epoch %d",
			fields.EpochID, current.EpochID)
	}

	root, err := meta.ParseDigest(fields.ShardRegistryRoot)
	if err != nil || root != current.Root() {
		return meta.Errorf(meta.ErrRegistryRootMismatch, "block root %q, current root %s",
			fields.ShardRegistryRoot, current.Root().Short())
	}

	if !current.Has(fields.ShardID) {
		return meta.Errorf(meta.ErrShardNotFound, "shard %d in epoch %d", fields.ShardID, fields.EpochID)
	}
	return nil
}

func (a *storageAPI) Stats() server.Stats {
	current := a.Topology()
	active := a.Transactions()
	evidence, _ := a.Evidence()

	held := 0
	for _, locks := range a.Locks() {
		held += len(locks)
	}

	return server.Stats{
		Epoch:        current.EpochID,
		Shards:       current.Len(),
		Active:       len(active),
		HeldLocks:    held,
		Evidence:     len(evidence),
		RegistryRoot: current.RootHex(),
	}
}
