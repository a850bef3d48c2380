package storage

import (
	"testing"

	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/storage/mem"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry(epoch meta.EpochID) *meta.ShardRegistry {
	return meta.NewShardRegistry(epoch, 1, &meta.Shard{
		ID:      0,
		EpochID: epoch,
		Validators: meta.ValidatorAssignment{
			EpochID:    epoch,
			Validators: []meta.PublicKey{{1}},
		},
	})
}

func newTestSnapshot(nonce uint64) *meta.CoordinatorStateSnapshot {
	tx := meta.NewCrossShardTransaction([]byte("payload"), nonce, 1, 0, 1)
	value := meta.NewSnapshot(tx, meta.PreparingPhase, meta.NewLifecycle(), 100, 150, 0)
	return &value
}

func TestRegistry(t *testing.T) {
	s := NewKVStorage(mem.NewKV())

	value, err := s.LatestRegistry()
	assert.Nil(t, err, "check latest registry failed")
	assert.Nil(t, value, "check latest registry failed")

	for epoch := meta.EpochID(0); epoch < 3; epoch++ {
		assert.Nil(t, s.PutRegistry(newTestRegistry(epoch)), "check put registry failed")
	}

	value, err = s.GetRegistry(1)
	assert.Nil(t, err, "check get registry failed")
	assert.Equal(t, newTestRegistry(1).Root(), value.Root(), "check get registry failed")

	value, err = s.LatestRegistry()
	assert.Nil(t, err, "check latest registry failed")
	assert.Equal(t, meta.EpochID(2), value.EpochID, "check latest registry failed")

	value, err = s.GetRegistry(9)
	assert.Nil(t, err, "check missing registry failed")
	assert.Nil(t, value, "check missing registry failed")
}

func TestSnapshotAndArchive(t *testing.T) {
	s := NewKVStorage(mem.NewKV())
	s1 := newTestSnapshot(1)
	s2 := newTestSnapshot(2)

	assert.Nil(t, s.PutSnapshot(s1), "check put snapshot failed")
	assert.Nil(t, s.PutSnapshot(s2), "check put snapshot failed")

	value, err := s.GetSnapshot(s1.Transaction.ID)
	assert.Nil(t, err, "check get snapshot failed")
	assert.Equal(t, s1.Digest(), value.Digest(), "check get snapshot failed")

	cnt := 0
	err = s.LoadSnapshots(func(value *meta.CoordinatorStateSnapshot) error {
		cnt++
		return nil
	})
	assert.Nil(t, err, "check load snapshots failed")
	assert.Equal(t, 2, cnt, "check load snapshots failed")

	s1.Phase = meta.Terminal
	assert.Nil(t, s.Archive(s1), "check archive failed")
	value, _ = s.GetSnapshot(s1.Transaction.ID)
	assert.Nil(t, value, "check archive removes snapshot failed")
	value, _ = s.GetArchived(s1.Transaction.ID)
	assert.Equal(t, meta.Terminal, value.Phase, "check get archived failed")

	assert.Nil(t, s.RemoveSnapshot(s2.Transaction.ID), "check remove snapshot failed")
	value, _ = s.GetSnapshot(s2.Transaction.ID)
	assert.Nil(t, value, "check remove snapshot failed")
}

func TestEvidence(t *testing.T) {
	s := NewKVStorage(mem.NewKV())
	e := &meta.ByzantineEvidence{
		Kind:          meta.EvidenceVoteReceiptMismatch,
		TransactionID: meta.NewTransactionID([]byte("tx"), 1),
		ShardID:       1,
	}
	assert.Nil(t, s.PutEvidence(e), "check put evidence failed")
	assert.Nil(t, s.PutEvidence(e), "check put evidence twice failed")

	var values []*meta.ByzantineEvidence
	err := s.LoadEvidence(func(value *meta.ByzantineEvidence) error {
		values = append(values, value)
		return nil
	})
	assert.Nil(t, err, "check load evidence failed")
	assert.Equal(t, 1, len(values), "check load evidence failed")
	assert.Equal(t, e.ID(), values[0].ID(), "check load evidence failed")
}
