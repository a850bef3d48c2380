package meta

import (
	"testing"

	"github.com/fagongzi/util/json"
	"github.com/stretchr/testify/assert"
)

func newTestShard(id ShardID, start, end []byte) *Shard {
	return &Shard{
		ID:      id,
		Status:  ShardActive,
		EpochID: 1,
		Validators: ValidatorAssignment{
			ShardID:    id,
			EpochID:    1,
			Validators: []PublicKey{PublicKey{byte(id), 1}},
		},
		Keyspace: Keyspace{Start: start, End: end},
	}
}

func newTestRegistry() *ShardRegistry {
	return NewShardRegistry(1, 1,
		newTestShard(0, nil, []byte{0x80}),
		newTestShard(1, []byte{0x80}, nil))
}

func TestKeyspaceContains(t *testing.T) {
	k := Keyspace{Start: []byte{0x10}, End: []byte{0x20}}
	assert.True(t, k.Contains([]byte{0x10}), "check keyspace failed")
	assert.True(t, k.Contains([]byte{0x1f, 0xff}), "check keyspace failed")
	assert.False(t, k.Contains([]byte{0x20}), "check keyspace failed")
	assert.False(t, k.Contains([]byte{0x0f}), "check keyspace failed")

	unbounded := Keyspace{Start: []byte{0x20}}
	assert.True(t, unbounded.Contains([]byte{0xff, 0xff, 0xff}), "check keyspace failed")
	assert.True(t, k.Adjacent(unbounded), "check keyspace failed")
	assert.False(t, unbounded.Adjacent(k), "check keyspace failed")

	assert.False(t, k.StrictlyInside([]byte{0x10}), "check keyspace failed")
	assert.True(t, k.StrictlyInside([]byte{0x15}), "check keyspace failed")
}

func TestProposerRotation(t *testing.T) {
	a := ValidatorAssignment{
		Validators:            []PublicKey{PublicKey{1}, PublicKey{2}, PublicKey{3}},
		ProposerRotationIndex: 1,
	}

	assert.Equal(t, PublicKey{2}, a.Proposer(0), "check proposer failed")
	assert.Equal(t, PublicKey{3}, a.Proposer(1), "check proposer failed")
	assert.Equal(t, PublicKey{1}, a.Proposer(2), "check proposer failed")
	assert.Equal(t, a.Proposer(5), a.Proposer(2), "check proposer failed")
	assert.Nil(t, ValidatorAssignment{}.Proposer(1), "check proposer failed")
}

func TestRegistryRootIsPure(t *testing.T) {
	r1 := newTestRegistry()
	r2 := newTestRegistry()
	assert.Equal(t, r1.Root(), r2.Root(), "check registry root failed")
	assert.Equal(t, r1.Root(), r1.Clone().Root(), "check registry root failed")

	err := r1.CommitShardState(0, HashParts([]byte("state")), 3)
	assert.Nil(t, err, "check commit shard state failed")
	assert.NotEqual(t, r1.Root(), r2.Root(), "check registry root failed")

	s, ok := r1.Get(0)
	assert.True(t, ok, "check registry get failed")
	assert.Equal(t, uint64(3), s.CommittedTxCount, "check commit shard state failed")

	err = r1.CommitShardState(9, StateRoot{}, 1)
	assert.True(t, IsError(err, ErrShardNotFound), "check commit shard state failed")
}

func TestRegistryValidate(t *testing.T) {
	assert.Nil(t, newTestRegistry().Validate(), "check validate failed")

	gap := NewShardRegistry(1, 1,
		newTestShard(0, nil, []byte{0x70}),
		newTestShard(1, []byte{0x80}, nil))
	assert.True(t, IsError(gap.Validate(), ErrInvalidRegistry), "check validate failed")

	noValidator := newTestShard(1, []byte{0x80}, nil)
	noValidator.Validators.Validators = nil
	r := NewShardRegistry(1, 1, newTestShard(0, nil, []byte{0x80}), noValidator)
	assert.True(t, IsError(r.Validate(), ErrInvalidRegistry), "check validate failed")

	bounded := NewShardRegistry(1, 1, newTestShard(0, nil, []byte{0x80}))
	assert.True(t, IsError(bounded.Validate(), ErrInvalidRegistry), "check validate failed")
}

func TestRegistryShardForKey(t *testing.T) {
	r := newTestRegistry()

	id, ok := r.ShardForKey([]byte{0x01})
	assert.True(t, ok, "check shard for key failed")
	assert.Equal(t, ShardID(0), id, "check shard for key failed")

	id, ok = r.ShardForKey([]byte{0x80, 0x00})
	assert.True(t, ok, "check shard for key failed")
	assert.Equal(t, ShardID(1), id, "check shard for key failed")
}

func TestRegistryJSON(t *testing.T) {
	r := newTestRegistry()
	r.AddPending(1, NewTransactionID([]byte("tx"), 1))

	value := &ShardRegistry{}
	json.MustUnmarshal(value, json.MustMarshal(r))
	assert.Equal(t, r.Root(), value.Root(), "check registry json failed")
	assert.Equal(t, r.ShardIDs(), value.ShardIDs(), "check registry json failed")
	assert.Equal(t, r.EpochID, value.EpochID, "check registry json failed")

	assert.Nil(t, r.CommitShardState(1, HashParts([]byte("state")), 1), "check commit state failed")
	value = &ShardRegistry{}
	json.MustUnmarshal(value, json.MustMarshal(r))
	assert.Equal(t, r.Root(), value.Root(), "check committed state json failed")

	err := json.Unmarshal(&ShardRegistry{}, []byte(`{"epoch":`))
	assert.NotNil(t, err, "check bad registry json failed")
}

func TestTransactionValidate(t *testing.T) {
	tx := NewCrossShardTransaction([]byte("payload"), 7, 2, 3, 1, 3)
	assert.Equal(t, []ShardID{1, 3}, tx.InvolvedShards, "check involved shards failed")
	assert.Equal(t, ShardID(1), tx.CoordinatorShard(), "check coordinator shard failed")
	assert.Nil(t, tx.Validate(), "check tx validate failed")

	forged := tx.Clone()
	forged.Nonce = 8
	assert.True(t, IsError(forged.Validate(), ErrInvalidTransaction), "check tx validate failed")

	empty := NewCrossShardTransaction([]byte("payload"), 7, 2)
	assert.True(t, IsError(empty.Validate(), ErrInvalidTransaction), "check tx validate failed")
}

func TestStateLockExpired(t *testing.T) {
	l := &StateLock{AcquiredEpoch: 3, MaxHoldEpochs: 2}
	assert.False(t, l.IsExpired(2), "check lock expired failed")
	assert.False(t, l.IsExpired(4), "check lock expired failed")
	assert.True(t, l.IsExpired(5), "check lock expired failed")
}

func TestNormalizeKeys(t *testing.T) {
	keys := NormalizeKeys([][]byte{{3}, {1}, {3}, {2}})
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, keys, "check normalize keys failed")

	l := &StateLock{LockedKeys: keys}
	assert.True(t, l.HasKey([]byte{2}), "check lock key failed")
	assert.False(t, l.HasKey([]byte{4}), "check lock key failed")
}

func TestSnapshotDigest(t *testing.T) {
	tx := NewCrossShardTransaction([]byte("payload"), 1, 1, 0, 1)
	lifecycle := NewLifecycle()
	lifecycle.PrepareVotes[1] = PrepareVote{TransactionID: tx.ID, ShardID: 1, CanCommit: true}
	lifecycle.PrepareVotes[0] = PrepareVote{TransactionID: tx.ID, ShardID: 0, CanCommit: true}

	s1 := NewSnapshot(tx, ReadyToCommit, lifecycle, 100, 150, 1)
	s2 := NewSnapshot(tx, ReadyToCommit, lifecycle, 100, 150, 1)
	assert.Equal(t, s1.Digest(), s2.Digest(), "check snapshot digest failed")
	assert.Equal(t, ShardID(0), s1.Votes[0].ShardID, "check snapshot order failed")

	s3 := NewSnapshot(tx, CommittingPhase, lifecycle, 100, 150, 1)
	assert.NotEqual(t, s1.Digest(), s3.Digest(), "check snapshot digest failed")

	value := CoordinatorStateSnapshot{}
	json.MustUnmarshal(&value, json.MustMarshal(&s1))
	assert.Equal(t, s1.Digest(), value.Digest(), "check snapshot json failed")
}

func TestErrorIdentity(t *testing.T) {
	err := Errorf(ErrLockConflict, "key %x", []byte{1})
	assert.True(t, IsError(err, ErrLockConflict), "check error failed")
	assert.False(t, IsError(err, ErrLockExists), "check error failed")
	assert.True(t, IsError(ErrLockConflict, ErrLockConflict), "check error failed")
}
