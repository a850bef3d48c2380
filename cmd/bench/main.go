package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/core"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/server"
	"github.com/infinivision/shardledger/pkg/sign"
)

var (
	clients      = flag.Int("clients", 10, "Count: concurrent clients")
	shards       = flag.Int("shards", 4, "Count: genesis shards")
	validators   = flag.Int("validators", 8, "Count: validators")
	abortPercent = flag.Int("abort", 10, "Percentage of shards voting abort")
	duration     = flag.Int("duration", 30, "Seconds to run")
)

var (
	committed uint64
	aborted   uint64
	failed    uint64
)

type bench struct {
	s       *server.Server
	signers map[string]sign.Signer
	height  uint64
}

func main() {
	flag.Parse()
	log.InitLog()

	if *shards < 2 {
		log.Fatalf("cross shard transactions need at least 2 shards, %d given", *shards)
	}

	b := &bench{signers: make(map[string]sign.Signer)}
	var keys []meta.PublicKey
	for i := 1; i <= *validators; i++ {
		signer := sign.NewEd25519SignerFromSeed(bytes.Repeat([]byte{byte(i)}, 32))
		b.signers[string(signer.PublicKey())] = signer
		keys = append(keys, signer.PublicKey())
	}

	s, err := server.NewServer(server.Cfg{
		NumShards:  *shards,
		Validators: keys,
	})
	if err != nil {
		log.Fatalf("create server failed with %+v", err)
	}
	if err := s.Start(); err != nil {
		log.Fatalf("start server failed with %+v", err)
	}
	b.s = s

	go b.driveBlocks()
	for i := 0; i < *clients; i++ {
		go b.runClient(i)
	}

	time.Sleep(time.Second * time.Duration(*duration))
	s.Stop()
	log.Infof("committed %d, aborted %d, failed %d",
		atomic.LoadUint64(&committed),
		atomic.LoadUint64(&aborted),
		atomic.LoadUint64(&failed))
}

func (b *bench) driveBlocks() {
	for {
		time.Sleep(time.Millisecond * 100)
		height := atomic.AddUint64(&b.height, 1)
		b.s.AdvanceBlock(height, nil)
	}
}

func (b *bench) runClient(idx int) {
	rnd := rand.New(rand.NewSource(int64(idx)))
	for nonce := uint64(1); ; nonce++ {
		first := rnd.Intn(*shards)
		second := (first + 1 + rnd.Intn(*shards-1)) % *shards
		keys := [][]byte{b.keyOf(first, rnd), b.keyOf(second, rnd)}

		tx := meta.NewCrossShardTransaction([]byte(fmt.Sprintf("c-%d", idx)), nonce, b.s.Topology().EpochID+2,
			meta.ShardID(first), meta.ShardID(second))
		if err := b.do(tx, keys, rnd); err != nil {
			atomic.AddUint64(&failed, 1)
			log.Debugf("[c-%d] %s failed with %+v", idx, tx.ID.Short(), err)
		}
	}
}

// keyOf returns a random key inside the genesis keyspace of the shard
func (b *bench) keyOf(shard int, rnd *rand.Rand) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint16(key, uint16(shard*(1<<16)/(*shards)))
	binary.BigEndian.PutUint16(key[2:], uint16(rnd.Intn(1<<16)))
	return key
}

func (b *bench) do(tx meta.CrossShardTransaction, keys [][]byte, rnd *rand.Rand) error {
	errC := make(chan error, 1)
	b.s.RegisterTransaction(server.RegisterRequest{
		Transaction: tx,
		Keys:        keys,
		Height:      atomic.LoadUint64(&b.height),
	}, func(err error) {
		errC <- err
	})
	if err := <-errC; err != nil {
		return err
	}

	var decision core.Decision
	for _, shard := range tx.InvolvedShards {
		assignment, ok := b.s.Topology().Assignment(shard)
		if !ok || len(assignment.Validators) == 0 {
			return meta.Errorf(meta.ErrShardNotFound, "shard %d", shard)
		}

		vote := meta.PrepareVote{
			TransactionID: tx.ID,
			ShardID:       shard,
			CanCommit:     rnd.Intn(100) >= *abortPercent,
		}
		sign.SignVote(b.signers[string(assignment.Validators[0])], &vote)

		decisionC := make(chan core.Decision, 1)
		b.s.ReceivePrepareVote(vote, func(value core.Decision, err error) {
			if err != nil {
				errC <- err
				return
			}
			decisionC <- value
		})
		select {
		case err := <-errC:
			return err
		case decision = <-decisionC:
		}

		if decision.Kind == core.AbortTransaction {
			atomic.AddUint64(&aborted, 1)
			return nil
		}
	}

	var receipts []meta.CrossShardReceipt
	for _, shard := range tx.InvolvedShards {
		receipts = append(receipts, meta.CrossShardReceipt{
			TransactionID: tx.ID,
			ShardID:       shard,
			Status:        meta.ReceiptCommitted,
			StateRoot:     meta.HashParts(tx.ID[:], []byte{byte(shard)}),
			Height:        atomic.LoadUint64(&b.height),
		})
	}
	b.s.FinalizeCommit(tx.ID, receipts, func(err error) {
		errC <- err
	})
	if err := <-errC; err != nil {
		return err
	}

	atomic.AddUint64(&committed, 1)
	return nil
}
