package topology

import (
	"bytes"
	"testing"

	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func testValidators(n int) []meta.PublicKey {
	var value []meta.PublicKey
	for i := 0; i < n; i++ {
		value = append(value, meta.PublicKey{byte(i + 1), 0xaa})
	}
	return value
}

func TestBuildGenesisTopology(t *testing.T) {
	r, err := BuildGenesisTopology(4, testValidators(2))
	assert.Nil(t, err, "check genesis failed")
	assert.Equal(t, 4, r.Len(), "check genesis failed")
	assert.Equal(t, meta.EpochID(0), r.EpochID, "check genesis failed")
	assert.Equal(t, DefaultProtocolVersion, r.ProtocolVersion, "check genesis failed")
	assert.Nil(t, r.Validate(), "check genesis failed")

	for _, s := range r.Shards() {
		assert.Equal(t, meta.ShardActive, s.Status, "check genesis status failed")
		assert.Equal(t, 1, len(s.Validators.Validators), "check genesis validators failed")
	}

	s0, _ := r.Get(0)
	s2, _ := r.Get(2)
	assert.Equal(t, s0.Validators.Validators, s2.Validators.Validators, "check round robin failed")
	assert.Equal(t, 0, len(s0.Keyspace.Start), "check genesis keyspace failed")
	assert.Equal(t, []byte{0x40, 0x00}, s0.Keyspace.End, "check genesis keyspace failed")

	s3, _ := r.Get(3)
	assert.True(t, s3.Keyspace.Unbounded(), "check genesis keyspace failed")
}

func TestBuildGenesisMoreValidators(t *testing.T) {
	r, err := BuildGenesisTopology(2, testValidators(5))
	assert.Nil(t, err, "check genesis failed")

	s0, _ := r.Get(0)
	s1, _ := r.Get(1)
	assert.Equal(t, 3, len(s0.Validators.Validators), "check genesis validators failed")
	assert.Equal(t, 2, len(s1.Validators.Validators), "check genesis validators failed")
}

func TestBuildGenesisErrors(t *testing.T) {
	_, err := BuildGenesisTopology(0, testValidators(1))
	assert.True(t, meta.IsError(err, meta.ErrZeroShards), "check zero shards failed")

	_, err = BuildGenesisTopology(2, nil)
	assert.True(t, meta.IsError(err, meta.ErrZeroValidators), "check zero validators failed")

	_, err = BuildGenesisTopology(2, []meta.PublicKey{{1}, {1}})
	assert.True(t, meta.IsError(err, meta.ErrDuplicateValidator), "check duplicate validator failed")

	_, err = BuildGenesisTopology(MaxShards+1, testValidators(1))
	assert.True(t, meta.IsError(err, meta.ErrTooManyShards), "check too many shards failed")
}

func TestGenesisDeterminism(t *testing.T) {
	validators := testValidators(7)
	reversed := make([]meta.PublicKey, len(validators))
	for i, v := range validators {
		reversed[len(validators)-1-i] = v
	}

	r1, err := BuildGenesisTopology(5, validators)
	assert.Nil(t, err, "check genesis failed")
	r2, err := BuildGenesisTopology(5, reversed)
	assert.Nil(t, err, "check genesis failed")
	assert.Equal(t, r1.Root(), r2.Root(), "check genesis determinism failed")
}

func TestSplit(t *testing.T) {
	r, _ := BuildGenesisTopology(2, testValidators(4))

	next, err := BuildNextEpochTopology(0, r, []Change{Split{ShardID: 1}})
	assert.Nil(t, err, "check split failed")
	assert.Equal(t, meta.EpochID(1), next.EpochID, "check split epoch failed")
	assert.Equal(t, 3, next.Len(), "check split failed")
	assert.Nil(t, next.Validate(), "check split failed")

	left, _ := next.Get(1)
	right, _ := next.Get(2)
	assert.Equal(t, []byte{0x80, 0x00}, left.Keyspace.Start, "check split keyspace failed")
	assert.Equal(t, []byte{0xc0, 0x00}, left.Keyspace.End, "check split keyspace failed")
	assert.True(t, right.Keyspace.Unbounded(), "check split keyspace failed")
	assert.Equal(t, 1, len(left.Validators.Validators), "check split validators failed")
	assert.Equal(t, 1, len(right.Validators.Validators), "check split validators failed")
	assert.NotEqual(t, left.StateRoot, right.StateRoot, "check split roots failed")

	for _, s := range next.Shards() {
		assert.Equal(t, meta.EpochID(1), s.EpochID, "check carried epoch failed")
		assert.Equal(t, meta.EpochID(1), s.Validators.EpochID, "check carried epoch failed")
	}

	again, err := BuildNextEpochTopology(0, r, []Change{Split{ShardID: 1}})
	assert.Nil(t, err, "check split failed")
	assert.Equal(t, next.Root(), again.Root(), "check split determinism failed")
}

func TestSplitAt(t *testing.T) {
	r, _ := BuildGenesisTopology(1, testValidators(1))

	next, err := BuildNextEpochTopology(0, r, []Change{Split{ShardID: 0, At: []byte{0x10}}})
	assert.Nil(t, err, "check split at failed")

	left, _ := next.Get(0)
	right, _ := next.Get(1)
	assert.Equal(t, []byte{0x10}, left.Keyspace.End, "check split at failed")
	assert.Equal(t, left.Validators.Validators, right.Validators.Validators, "check single validator split failed")

	_, err = BuildNextEpochTopology(0, r, []Change{Split{ShardID: 0, At: []byte{}}})
	assert.Nil(t, err, "check midpoint split failed")

	_, err = BuildNextEpochTopology(1, next, []Change{Split{ShardID: 0, At: []byte{0x20}}})
	assert.True(t, meta.IsError(err, meta.ErrOverlappingSplit), "check overlapping split failed")
}

func TestSplitNarrowRange(t *testing.T) {
	k := meta.Keyspace{Start: []byte{0x10, 0x00}, End: []byte{0x10, 0x01}}
	at := midpoint(k)
	assert.True(t, k.StrictlyInside(at), "check narrow midpoint failed")
	assert.True(t, bytes.Compare(at, k.End) < 0, "check narrow midpoint failed")
}

func TestMerge(t *testing.T) {
	r, _ := BuildGenesisTopology(3, testValidators(3))

	next, err := BuildNextEpochTopology(0, r, []Change{Merge{Left: 1, Right: 2}})
	assert.Nil(t, err, "check merge failed")
	assert.Equal(t, 2, next.Len(), "check merge failed")
	assert.False(t, next.Has(2), "check merge failed")

	s, _ := next.Get(1)
	assert.True(t, s.Keyspace.Unbounded(), "check merge keyspace failed")
	assert.Equal(t, 2, len(s.Validators.Validators), "check merge validators failed")

	_, err = BuildNextEpochTopology(0, r, []Change{Merge{Left: 0, Right: 2}})
	assert.True(t, meta.IsError(err, meta.ErrNonAdjacentMerge), "check non adjacent merge failed")

	_, err = BuildNextEpochTopology(0, r, []Change{Merge{Left: 2, Right: 1}})
	assert.True(t, meta.IsError(err, meta.ErrNonAdjacentMerge), "check reversed merge failed")

	_, err = BuildNextEpochTopology(0, r, []Change{Merge{Left: 1, Right: 1}})
	assert.True(t, meta.IsError(err, meta.ErrNonAdjacentMerge), "check self merge failed")
}

func TestChangeErrors(t *testing.T) {
	r, _ := BuildGenesisTopology(3, testValidators(3))

	_, err := BuildNextEpochTopology(0, r, []Change{Split{ShardID: 1}, Merge{Left: 0, Right: 1}})
	assert.True(t, meta.IsError(err, meta.ErrShardChangedTwice), "check changed twice failed")

	_, err = BuildNextEpochTopology(0, r, []Change{Split{ShardID: 9}})
	assert.True(t, meta.IsError(err, meta.ErrShardNotFound), "check unknown shard failed")

	_, err = BuildNextEpochTopology(1, r, nil)
	assert.True(t, meta.IsError(err, meta.ErrEpochMismatch), "check epoch mismatch failed")

	s, _ := r.Get(1)
	s.Status = meta.ShardSuspended
	suspended := meta.NewShardRegistry(0, r.ProtocolVersion, append(without(r.Shards(), 1), s)...)
	_, err = BuildNextEpochTopology(0, suspended, []Change{Split{ShardID: 1}})
	assert.True(t, meta.IsError(err, meta.ErrShardNotActive), "check inactive shard failed")
}

func TestCarryForward(t *testing.T) {
	r, _ := BuildGenesisTopology(2, testValidators(2))
	assert.Nil(t, r.AddPending(0, meta.NewTransactionID([]byte("a"), 1)), "check add pending failed")

	next, err := BuildNextEpochTopology(0, r, nil)
	assert.Nil(t, err, "check carry forward failed")

	s, _ := next.Get(0)
	assert.Equal(t, 0, len(s.PendingTransactions), "check pending cleared failed")
	assert.NotEqual(t, r.Root(), next.Root(), "check epoch in root failed")
}

func TestAssignmentStrategy(t *testing.T) {
	validators := testValidators(4)
	r, _ := BuildGenesisTopology(2, validators)

	slashed := validators[0]
	strategy := NewSlashingAwareStrategy(func(key meta.PublicKey) bool { return key.Equal(slashed) })
	next, err := BuildNextEpochTopology(0, r, nil, WithAssignmentStrategy(strategy, validators...))
	assert.Nil(t, err, "check strategy failed")

	for _, s := range next.Shards() {
		assert.False(t, s.Validators.Contains(slashed), "check slashed validator excluded failed")
		assert.True(t, len(s.Validators.Validators) > 0, "check validator per shard failed")
	}

	all := NewSlashingAwareStrategy(func(meta.PublicKey) bool { return true })
	next, err = BuildNextEpochTopology(0, r, nil, WithAssignmentStrategy(all, validators...))
	assert.Nil(t, err, "check strategy failed")
	s, _ := next.Get(0)
	assert.Equal(t, 2, len(s.Validators.Validators), "check full set fallback failed")

	_, err = BuildNextEpochTopology(0, r, nil, WithAssignmentStrategy(NewRoundRobinStrategy()))
	assert.True(t, meta.IsError(err, meta.ErrZeroValidators), "check empty strategy pool failed")
}

func without(shards []*meta.Shard, id meta.ShardID) []*meta.Shard {
	var value []*meta.Shard
	for _, s := range shards {
		if s.ID != id {
			value = append(value, s)
		}
	}
	return value
}
