package topology

import (
	"sync"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/meta"
)

// EpochShardBinder binds one shard registry to the current epoch. The
// registry only changes through the stage and commit two step, or through
// per shard state commits within the epoch.
type EpochShardBinder struct {
	sync.RWMutex

	protocolVersion uint32
	current         *meta.ShardRegistry
	pending         *meta.ShardRegistry
	previous        *meta.ShardRegistry
}

// NewEpochShardBinder returns a binder whose current topology is genesis
func NewEpochShardBinder(genesis *meta.ShardRegistry, protocolVersion uint32) (*EpochShardBinder, error) {
	if genesis == nil {
		return nil, meta.ErrZeroShards
	}
	if genesis.ProtocolVersion != protocolVersion {
		return nil, meta.Errorf(meta.ErrProtocolVersionMismatch, "genesis version %d, binder version %d",
			genesis.ProtocolVersion, protocolVersion)
	}
	if err := genesis.Validate(); err != nil {
		return nil, err
	}

	return &EpochShardBinder{
		protocolVersion: protocolVersion,
		current:         genesis.Clone(),
	}, nil
}

// ProtocolVersion returns the protocol version
func (b *EpochShardBinder) ProtocolVersion() uint32 {
	return b.protocolVersion
}

// EpochID returns the current epoch
func (b *EpochShardBinder) EpochID() meta.EpochID {
	b.RLock()
	defer b.RUnlock()

	return b.current.EpochID
}

// Current returns a copy of the current topology
func (b *EpochShardBinder) Current() *meta.ShardRegistry {
	b.RLock()
	defer b.RUnlock()

	return b.current.Clone()
}

// Pending returns a copy of the staged topology, nil if nothing is staged
func (b *EpochShardBinder) Pending() *meta.ShardRegistry {
	b.RLock()
	defer b.RUnlock()

	if b.pending == nil {
		return nil
	}
	return b.pending.Clone()
}

// Previous returns a copy of the previous epoch's topology, nil at genesis
func (b *EpochShardBinder) Previous() *meta.ShardRegistry {
	b.RLock()
	defer b.RUnlock()

	if b.previous == nil {
		return nil
	}
	return b.previous.Clone()
}

// StageTopologyChange stages the next epoch's topology, replacing any
// topology staged before.
func (b *EpochShardBinder) StageTopologyChange(next *meta.ShardRegistry) error {
	if next == nil {
		return meta.ErrNoPendingTopology
	}

	b.Lock()
	defer b.Unlock()

	if next.EpochID != b.current.EpochID+1 {
		return meta.Errorf(meta.ErrEpochMismatch, "staged epoch %d, current epoch %d",
			next.EpochID, b.current.EpochID)
	}
	if next.ProtocolVersion != b.protocolVersion {
		return meta.Errorf(meta.ErrProtocolVersionMismatch, "staged version %d, binder version %d",
			next.ProtocolVersion, b.protocolVersion)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	b.pending = next.Clone()
	log.Infof("%s: topology staged, %d shards, root %s",
		meta.TagEpoch(next.EpochID, "stage"),
		next.Len(),
		next.RootHex())
	return nil
}

// CommitEpochTransition makes the staged topology current and returns a copy
// of it. Nothing changes if no topology is staged.
func (b *EpochShardBinder) CommitEpochTransition() (*meta.ShardRegistry, error) {
	b.Lock()
	defer b.Unlock()

	if b.pending == nil {
		return nil, meta.ErrNoPendingTopology
	}

	b.previous, b.current, b.pending = b.current, b.pending, nil
	log.Infof("%s: epoch transition committed, %d shards, root %s",
		meta.TagEpoch(b.current.EpochID, "commit"),
		b.current.Len(),
		b.current.RootHex())
	return b.current.Clone(), nil
}

// VerifyBlockShardFields checks block header fields against the current
// topology only, blocks of any other epoch are rejected.
func (b *EpochShardBinder) VerifyBlockShardFields(epoch meta.EpochID, registryRoot string, shard meta.ShardID) error {
	b.RLock()
	defer b.RUnlock()

	if epoch != b.current.EpochID {
		return meta.Errorf(meta.ErrEpochMismatch, "block epoch %d, current epoch %d",
			epoch, b.current.EpochID)
	}

	root, err := meta.ParseDigest(registryRoot)
	if err != nil {
		return meta.Errorf(meta.ErrRegistryRootMismatch, "bad root %q: %v", registryRoot, err)
	}
	if root != b.current.Root() {
		return meta.Errorf(meta.ErrRegistryRootMismatch, "block root %s, current root %s",
			root.Short(), b.current.Root().Short())
	}

	if !b.current.Has(shard) {
		return meta.Errorf(meta.ErrShardNotFound, "shard %d in epoch %d", shard, epoch)
	}

	return nil
}

// VerifyBlock checks the shard fields of a block header
func (b *EpochShardBinder) VerifyBlock(fields meta.BlockShardFields) error {
	if err := b.VerifyBlockShardFields(fields.EpochID, fields.ShardRegistryRoot, fields.ShardID); err != nil {
		return err
	}

	if fields.ShardStateRoot != "" {
		if _, err := meta.ParseDigest(fields.ShardStateRoot); err != nil {
			return meta.Errorf(meta.ErrInvalidRegistry, "bad shard state root %q: %v", fields.ShardStateRoot, err)
		}
	}

	return nil
}

// CommitShardState commits a shard's new state root within the current epoch
func (b *EpochShardBinder) CommitShardState(id meta.ShardID, root meta.StateRoot, committed uint64) error {
	b.Lock()
	defer b.Unlock()

	return b.current.CommitShardState(id, root, committed)
}

// AddPending queues a transaction on a shard of the current topology
func (b *EpochShardBinder) AddPending(id meta.ShardID, tx meta.TransactionID) error {
	b.Lock()
	defer b.Unlock()

	return b.current.AddPending(id, tx)
}

// Assignment returns the current validator assignment of the shard
func (b *EpochShardBinder) Assignment(id meta.ShardID) (meta.ValidatorAssignment, bool) {
	b.RLock()
	defer b.RUnlock()

	return b.current.Assignment(id)
}

// ShardForKey returns the current shard owning the key
func (b *EpochShardBinder) ShardForKey(key []byte) (meta.ShardID, bool) {
	b.RLock()
	defer b.RUnlock()

	return b.current.ShardForKey(key)
}
