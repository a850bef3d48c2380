package topology

import (
	"testing"

	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func newTestBinder(t *testing.T) *EpochShardBinder {
	genesis, err := BuildGenesisTopology(2, testValidators(2))
	assert.Nil(t, err, "check genesis failed")

	b, err := NewEpochShardBinder(genesis, DefaultProtocolVersion)
	assert.Nil(t, err, "check new binder failed")
	return b
}

func TestBinderStageAndCommit(t *testing.T) {
	b := newTestBinder(t)
	current := b.Current()

	_, err := b.CommitEpochTransition()
	assert.True(t, meta.IsError(err, meta.ErrNoPendingTopology), "check empty commit failed")

	next, _ := BuildNextEpochTopology(0, current, []Change{Split{ShardID: 0}})
	assert.Nil(t, b.StageTopologyChange(next), "check stage failed")
	assert.Equal(t, meta.EpochID(0), b.EpochID(), "check staged not applied failed")
	assert.NotNil(t, b.Pending(), "check pending failed")

	committed, err := b.CommitEpochTransition()
	assert.Nil(t, err, "check commit failed")
	assert.Equal(t, meta.EpochID(1), committed.EpochID, "check commit failed")
	assert.Equal(t, next.Root(), b.Current().Root(), "check commit failed")
	assert.Equal(t, current.Root(), b.Previous().Root(), "check previous failed")
	assert.Nil(t, b.Pending(), "check pending cleared failed")
}

func TestBinderStageRejects(t *testing.T) {
	b := newTestBinder(t)
	current := b.Current()

	skip, _ := BuildNextEpochTopology(0, current, nil)
	skip, _ = BuildNextEpochTopology(1, skip, nil)
	assert.True(t, meta.IsError(b.StageTopologyChange(skip), meta.ErrEpochMismatch), "check skipped epoch failed")

	other := meta.NewShardRegistry(1, DefaultProtocolVersion+1, current.Shards()...)
	assert.True(t, meta.IsError(b.StageTopologyChange(other), meta.ErrProtocolVersionMismatch), "check version failed")

	assert.Nil(t, b.Pending(), "check nothing staged failed")
	assert.Equal(t, current.Root(), b.Current().Root(), "check current untouched failed")
}

func TestVerifyBlockShardFields(t *testing.T) {
	b := newTestBinder(t)
	current := b.Current()

	assert.Nil(t, b.VerifyBlockShardFields(0, current.RootHex(), 1), "check verify block failed")

	err := b.VerifyBlockShardFields(1, current.RootHex(), 1)
	assert.True(t, meta.IsError(err, meta.ErrEpochMismatch), "check verify epoch failed")

	err = b.VerifyBlockShardFields(0, meta.Digest{}.String(), 1)
	assert.True(t, meta.IsError(err, meta.ErrRegistryRootMismatch), "check verify root failed")

	err = b.VerifyBlockShardFields(0, "zz", 1)
	assert.True(t, meta.IsError(err, meta.ErrRegistryRootMismatch), "check verify bad root failed")

	err = b.VerifyBlockShardFields(0, current.RootHex(), 7)
	assert.True(t, meta.IsError(err, meta.ErrShardNotFound), "check verify shard failed")

	next, _ := BuildNextEpochTopology(0, current, nil)
	assert.Nil(t, b.StageTopologyChange(next), "check stage failed")
	_, err = b.CommitEpochTransition()
	assert.Nil(t, err, "check commit failed")

	err = b.VerifyBlockShardFields(0, current.RootHex(), 1)
	assert.True(t, meta.IsError(err, meta.ErrEpochMismatch), "check old epoch block failed")

	fields := meta.BlockShardFields{EpochID: 1, ShardRegistryRoot: next.RootHex(), ShardID: 0}
	assert.Nil(t, b.VerifyBlock(fields), "check verify block failed")
}

func TestBinderCommitShardState(t *testing.T) {
	b := newTestBinder(t)
	before := b.Current().Root()

	assert.Nil(t, b.CommitShardState(0, meta.HashParts([]byte("s")), 2), "check commit state failed")
	assert.NotEqual(t, before, b.Current().Root(), "check root changed failed")

	err := b.CommitShardState(5, meta.StateRoot{}, 1)
	assert.True(t, meta.IsError(err, meta.ErrShardNotFound), "check commit state failed")

	a, ok := b.Assignment(1)
	assert.True(t, ok, "check assignment failed")
	assert.Equal(t, meta.ShardID(1), a.ShardID, "check assignment failed")
}
