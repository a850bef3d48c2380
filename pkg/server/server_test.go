package server

import (
	"bytes"
	"testing"

	"github.com/infinivision/shardledger/pkg/core"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/sign"
	"github.com/infinivision/shardledger/pkg/storage"
	"github.com/infinivision/shardledger/pkg/storage/mem"
	"github.com/infinivision/shardledger/pkg/topology"
	"github.com/stretchr/testify/assert"
)

type testNode struct {
	t       *testing.T
	s       *Server
	store   storage.Storage
	signers map[string]sign.Signer
}

func newTestNode(t *testing.T, store storage.Storage) *testNode {
	n := &testNode{
		t:       t,
		store:   store,
		signers: make(map[string]sign.Signer),
	}

	var validators []meta.PublicKey
	for i := 1; i <= 4; i++ {
		signer := sign.NewEd25519SignerFromSeed(bytes.Repeat([]byte{byte(i)}, 32))
		n.signers[string(signer.PublicKey())] = signer
		validators = append(validators, signer.PublicKey())
	}

	s, err := NewServer(Cfg{
		NumShards:  2,
		Validators: validators,
		Storage:    store,
	})
	assert.Nil(t, err, "check create server failed")
	n.s = s
	return n
}

// drain applies every queued command
func (n *testNode) drain() {
	for n.s.handleEvent() {
	}
}

func (n *testNode) vote(tx meta.TransactionID, shard meta.ShardID, canCommit bool) meta.PrepareVote {
	assignment, ok := n.s.Topology().Assignment(shard)
	assert.True(n.t, ok, "check assignment failed")

	vote := meta.PrepareVote{
		TransactionID: tx,
		ShardID:       shard,
		CanCommit:     canCommit,
	}
	sign.SignVote(n.signers[string(assignment.Validators[0])], &vote)
	return vote
}

func (n *testNode) register(req RegisterRequest) error {
	var result error
	n.s.RegisterTransaction(req, func(err error) {
		result = err
	})
	n.drain()
	return result
}

func (n *testNode) receive(vote meta.PrepareVote) (core.Decision, error) {
	var decision core.Decision
	var result error
	n.s.ReceivePrepareVote(vote, func(value core.Decision, err error) {
		decision = value
		result = err
	})
	n.drain()
	return decision, result
}

func (n *testNode) advanceBlock(height uint64) []meta.TransactionID {
	var aborted []meta.TransactionID
	n.s.AdvanceBlock(height, func(value []meta.TransactionID, err error) {
		assert.Nil(n.t, err, "check advance block failed")
		aborted = value
	})
	n.drain()
	return aborted
}

func (n *testNode) finalize(tx meta.TransactionID, shards ...meta.ShardID) error {
	var receipts []meta.CrossShardReceipt
	for _, id := range shards {
		receipts = append(receipts, meta.CrossShardReceipt{
			TransactionID: tx,
			ShardID:       id,
			Status:        meta.ReceiptCommitted,
			StateRoot:     meta.HashParts([]byte("next"), []byte{byte(id)}),
		})
	}

	var result error
	n.s.FinalizeCommit(tx, receipts, func(err error) {
		result = err
	})
	n.drain()
	return result
}

func (n *testNode) advanceEpoch(changes ...topology.Change) *meta.ShardRegistry {
	var next *meta.ShardRegistry
	n.s.AdvanceEpoch(changes, func(value *meta.ShardRegistry, err error) {
		assert.Nil(n.t, err, "check advance epoch failed")
		next = value
	})
	n.drain()
	return next
}

func testRequest(nonce uint64) RegisterRequest {
	return RegisterRequest{
		Transaction:   meta.NewCrossShardTransaction([]byte("transfer"), nonce, 5, 0, 1),
		Keys:          [][]byte{{0x10, 1}, {0x90, 1}},
		Height:        100,
		TimeoutHeight: 150,
	}
}

func TestPlanLocks(t *testing.T) {
	registry, err := topology.BuildGenesisTopology(2, []meta.PublicKey{{1}, {2}})
	assert.Nil(t, err, "check genesis failed")

	plan, shards, err := PlanLocks(registry, [][]byte{{0x90}, {0x10}, {0x10}})
	assert.Nil(t, err, "check plan failed")
	assert.Equal(t, []meta.ShardID{0, 1}, shards, "check plan shards failed")
	assert.Equal(t, 1, len(plan[0]), "check duplicate keys failed")
	assert.Equal(t, 1, len(plan[1]), "check plan keys failed")
}

func TestServerCommit(t *testing.T) {
	n := newTestNode(t, nil)
	req := testRequest(1)
	txID := req.Transaction.ID

	assert.Nil(t, n.register(req), "check register failed")
	assert.Equal(t, 1, len(n.s.Transactions()), "check active failed")
	assert.Equal(t, 2, len(n.s.Locks()), "check locks failed")
	assert.Equal(t, 1, len(n.s.Topology().Shards()[0].PendingTransactions), "check pending failed")

	decision, err := n.receive(n.vote(txID, 0, true))
	assert.Nil(t, err, "check vote failed")
	assert.Equal(t, core.AwaitingPrepareVotes, decision.Kind, "check decision failed")

	decision, err = n.receive(n.vote(txID, 1, true))
	assert.Nil(t, err, "check vote failed")
	assert.Equal(t, core.CommitTransaction, decision.Kind, "check decision failed")

	var receipts []meta.CrossShardReceipt
	for _, id := range []meta.ShardID{0, 1} {
		receipts = append(receipts, meta.CrossShardReceipt{
			TransactionID: txID,
			ShardID:       id,
			Status:        meta.ReceiptCommitted,
			StateRoot:     meta.HashParts([]byte("next"), []byte{byte(id)}),
		})
	}

	root := n.s.Topology().Root()
	var result error
	n.s.FinalizeCommit(txID, receipts, func(err error) {
		result = err
	})
	n.drain()
	assert.Nil(t, result, "check finalize failed")
	assert.Equal(t, 0, len(n.s.Locks()), "check locks released failed")
	assert.NotEqual(t, root, n.s.Topology().Root(), "check state committed failed")

	n.advanceBlock(101)
	snapshot, ok := n.s.Transaction(txID)
	assert.True(t, ok, "check archived failed")
	assert.Equal(t, meta.TxCommitted, snapshot.Status, "check status failed")
	assert.Equal(t, 0, n.s.Stats().Active, "check stats failed")
}

func TestServerRegisterErrors(t *testing.T) {
	n := newTestNode(t, nil)

	req := testRequest(1)
	req.Transaction = meta.NewCrossShardTransaction([]byte("transfer"), 1, 5, 0)
	req.Keys = [][]byte{{0x90, 1}}
	err := n.register(req)
	assert.True(t, meta.IsError(err, meta.ErrShardNotInvolved), "check key outside shards failed")

	assert.Nil(t, n.register(testRequest(2)), "check register failed")
	err = n.register(testRequest(3))
	assert.True(t, meta.IsError(err, meta.ErrLockConflict), "check lock conflict failed")
}

func TestServerTimeout(t *testing.T) {
	n := newTestNode(t, nil)
	req := testRequest(1)
	assert.Nil(t, n.register(req), "check register failed")

	aborted := n.advanceBlock(151)
	assert.Equal(t, []meta.TransactionID{req.Transaction.ID}, aborted, "check aborted failed")
	assert.Equal(t, 0, len(n.s.Locks()), "check locks released failed")
}

func TestServerAdvanceEpoch(t *testing.T) {
	n := newTestNode(t, nil)
	req := testRequest(1)
	req.Transaction = meta.NewCrossShardTransaction([]byte("transfer"), 1, 0, 0, 1)
	assert.Nil(t, n.register(req), "check register failed")

	var next *meta.ShardRegistry
	var result error
	n.s.AdvanceEpoch([]topology.Change{topology.Split{ShardID: 1}}, func(value *meta.ShardRegistry, err error) {
		next = value
		result = err
	})
	n.drain()
	assert.Nil(t, result, "check advance epoch failed")
	assert.Equal(t, meta.EpochID(1), next.EpochID, "check epoch failed")
	assert.Equal(t, 3, n.s.Topology().Len(), "check split failed")
	assert.Equal(t, 0, len(n.s.Transactions()), "check epoch abort failed")

	snapshot, ok := n.s.Transaction(req.Transaction.ID)
	assert.True(t, ok, "check archived failed")
	assert.Equal(t, meta.TxAbortedEpochBoundary, snapshot.Status, "check status failed")

	stored, err := n.s.Registry(1)
	assert.Nil(t, err, "check stored registry failed")
	assert.Equal(t, next.Root(), stored.Root(), "check stored root failed")

	fields := meta.BlockShardFields{
		EpochID:           0,
		ShardRegistryRoot: next.RootHex(),
		ShardID:           0,
	}
	assert.True(t, meta.IsError(n.s.VerifyBlock(fields), meta.ErrEpochMismatch), "check stale epoch failed")

	n.s.CommitEpoch(func(_ *meta.ShardRegistry, err error) {
		result = err
	})
	n.drain()
	assert.True(t, meta.IsError(result, meta.ErrNoPendingTopology), "check commit without stage failed")
}

func TestServerRestart(t *testing.T) {
	store := storage.NewKVStorage(mem.NewKV())
	n := newTestNode(t, store)
	req := testRequest(1)
	assert.Nil(t, n.register(req), "check register failed")
	_, err := n.receive(n.vote(req.Transaction.ID, 0, true))
	assert.Nil(t, err, "check vote failed")

	restarted := newTestNode(t, store)
	assert.Equal(t, 1, len(restarted.s.Transactions()), "check recovered failed")
	assert.Equal(t, 2, len(restarted.s.Locks()), "check locks taken again failed")

	decision, err := restarted.receive(restarted.vote(req.Transaction.ID, 1, true))
	assert.Nil(t, err, "check vote after restart failed")
	assert.Equal(t, core.CommitTransaction, decision.Kind, "check decision failed")

	assert.Nil(t, restarted.finalize(req.Transaction.ID, 0, 1), "check finalize after restart failed")
	root := restarted.s.Topology().Root()
	assert.NotEqual(t, n.s.Topology().Root(), root, "check state committed failed")

	again := newTestNode(t, store)
	assert.Equal(t, root, again.s.Topology().Root(), "check root after restart failed")
	fields := meta.BlockShardFields{
		EpochID:           0,
		ShardRegistryRoot: restarted.s.Topology().RootHex(),
		ShardID:           1,
	}
	assert.Nil(t, again.s.VerifyBlock(fields), "check verify block after restart failed")
	assert.Equal(t, 0, len(again.s.Transactions()), "check committed not recovered failed")
}

func TestServerEpochSurvival(t *testing.T) {
	n := newTestNode(t, nil)
	req := testRequest(1)
	assert.Nil(t, n.register(req), "check register failed")

	for epoch := meta.EpochID(1); epoch <= 3; epoch++ {
		next := n.advanceEpoch()
		assert.Equal(t, epoch, next.EpochID, "check epoch failed")

		_, ok := n.s.Transaction(req.Transaction.ID)
		if epoch < 2 {
			assert.Equal(t, 1, len(n.s.Transactions()), "check survive epoch failed")
			assert.Equal(t, 2, len(n.s.Locks()), "check survive epoch locks failed")
			assert.True(t, ok, "check survive epoch failed")
			continue
		}

		snapshot, _ := n.s.Transaction(req.Transaction.ID)
		assert.Equal(t, meta.TxAbortedEpochBoundary, snapshot.Status, "check expired locks abort failed")
		assert.Equal(t, 0, len(n.s.Locks()), "check expired locks released failed")
	}

	other := testRequest(2)
	other.Height = 200
	other.TimeoutHeight = 250
	assert.Nil(t, n.register(other), "check register after expiry failed")
	_, err := n.receive(n.vote(other.Transaction.ID, 0, true))
	assert.Nil(t, err, "check vote failed")
	decision, err := n.receive(n.vote(other.Transaction.ID, 1, true))
	assert.Nil(t, err, "check vote failed")
	assert.Equal(t, core.CommitTransaction, decision.Kind, "check decision failed")
	assert.Nil(t, n.finalize(other.Transaction.ID, 0, 1), "check finalize failed")

	err = n.finalize(req.Transaction.ID, 0, 1)
	assert.True(t, meta.IsError(err, meta.ErrTransactionNotFound), "check finalize expired failed")
}

func TestServerSplitWithLiveTransaction(t *testing.T) {
	n := newTestNode(t, nil)
	req := testRequest(1)
	req.Keys = [][]byte{{0x10, 1}, {0xF0, 1}}
	assert.Nil(t, n.register(req), "check register failed")

	next := n.advanceEpoch(topology.Split{ShardID: 1})
	assert.Equal(t, 3, next.Len(), "check split failed")
	id, ok := next.ShardForKey([]byte{0xF0, 1})
	assert.True(t, ok, "check route failed")
	assert.Equal(t, meta.ShardID(2), id, "check moved key failed")

	snapshot, ok := n.s.Transaction(req.Transaction.ID)
	assert.True(t, ok, "check archived failed")
	assert.Equal(t, meta.TxAbortedEpochBoundary, snapshot.Status, "check split abort failed")
	assert.Equal(t, 0, len(n.s.Locks()), "check split release failed")

	other := testRequest(2)
	other.Transaction = meta.NewCrossShardTransaction([]byte("transfer"), 2, 5, 0, 2)
	other.Keys = [][]byte{{0x10, 1}, {0xF0, 1}}
	assert.Nil(t, n.register(other), "check register after split failed")

	locks := n.s.Locks()
	assert.Equal(t, 2, len(locks), "check locks after split failed")
	assert.Equal(t, 0, len(locks[1]), "check old shard locks failed")
	assert.Equal(t, 1, len(locks[2]), "check new shard locks failed")
}

func TestServerSlashing(t *testing.T) {
	n := newTestNode(t, nil)
	n.s.cfg.SlashingAware = true
	req := testRequest(1)
	assert.Nil(t, n.register(req), "check register failed")

	first := n.vote(req.Transaction.ID, 0, true)
	_, err := n.receive(first)
	assert.Nil(t, err, "check vote failed")
	_, err = n.receive(n.vote(req.Transaction.ID, 0, false))
	assert.True(t, meta.IsError(err, meta.ErrDuplicateVote), "check equivocation failed")
	assert.True(t, n.s.Slashed(first.Signer), "check slashed failed")

	evidence, err := n.s.Evidence()
	assert.Nil(t, err, "check load evidence failed")
	assert.Equal(t, 1, len(evidence), "check evidence failed")

	var next *meta.ShardRegistry
	n.s.AdvanceEpoch(nil, func(value *meta.ShardRegistry, err error) {
		assert.Nil(t, err, "check advance epoch failed")
		next = value
	})
	n.drain()
	for _, shard := range next.Shards() {
		assert.False(t, shard.Validators.Contains(first.Signer), "check slashed validator removed failed")
	}
}
