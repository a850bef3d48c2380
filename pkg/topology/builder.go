package topology

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/meta"
)

const (
	prefixBytes = 2
	// MaxShards the genesis partition works on a 16 bit key prefix
	MaxShards = 1 << (8 * prefixBytes)
)

// Change a topology change applied at an epoch transition
type Change interface {
	apply(b *nextBuilder) error
}

// Split splits an active shard at At, or at the middle of its keyspace
// if At is empty. The left half keeps the shard id.
type Split struct {
	ShardID meta.ShardID
	At      []byte
}

// Merge merges two adjacent active shards, Left must end where Right starts.
// The smaller id survives.
type Merge struct {
	Left  meta.ShardID
	Right meta.ShardID
}

// BuildGenesisTopology returns the epoch 0 registry: numShards contiguous
// ranges over the key prefix space, validators dealt round robin.
func BuildGenesisTopology(numShards int, validators []meta.PublicKey, opts ...Option) (*meta.ShardRegistry, error) {
	value := &options{}
	for _, opt := range opts {
		opt(value)
	}
	value.adjust()

	if numShards <= 0 {
		return nil, meta.ErrZeroShards
	}
	if numShards > MaxShards {
		return nil, meta.Errorf(meta.ErrTooManyShards, "%d shards, max %d", numShards, MaxShards)
	}

	ordered, err := canonicalValidators(validators)
	if err != nil {
		return nil, err
	}

	ids := make([]meta.ShardID, numShards)
	for i := range ids {
		ids[i] = meta.ShardID(i)
	}
	assigned := roundRobin(ids, ordered)

	shards := make([]*meta.Shard, 0, numShards)
	for i, id := range ids {
		shards = append(shards, &meta.Shard{
			ID:      id,
			Status:  meta.ShardActive,
			EpochID: 0,
			Validators: meta.ValidatorAssignment{
				ShardID:    id,
				EpochID:    0,
				Validators: assigned[id],
			},
			StateRoot: meta.HashParts([]byte("genesis"), uint64Bytes(uint64(id))),
			Keyspace: meta.Keyspace{
				Start: prefixBoundary(i, numShards),
				End:   prefixBoundary(i+1, numShards),
			},
		})
	}

	registry := meta.NewShardRegistry(0, value.protocolVersion, shards...)
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	log.Infof("%s: genesis topology built with %d shards and %d validators, root %s",
		meta.TagEpoch(0, "genesis"),
		numShards,
		len(ordered),
		registry.RootHex())
	return registry, nil
}

// BuildNextEpochTopology returns the registry of currentEpoch+1. Unaffected
// shards are carried forward with an empty pending queue, changes are applied
// in order and every shard may be touched by at most one change.
func BuildNextEpochTopology(currentEpoch meta.EpochID, current *meta.ShardRegistry, changes []Change, opts ...Option) (*meta.ShardRegistry, error) {
	value := &options{}
	for _, opt := range opts {
		opt(value)
	}
	value.adjust()

	if current == nil || current.Len() == 0 {
		return nil, meta.ErrZeroShards
	}
	if current.EpochID != currentEpoch {
		return nil, meta.Errorf(meta.ErrEpochMismatch, "registry epoch %d, current epoch %d",
			current.EpochID, currentEpoch)
	}

	b := &nextBuilder{
		epoch:   currentEpoch + 1,
		shards:  make(map[meta.ShardID]*meta.Shard),
		changed: make(map[meta.ShardID]struct{}),
		nextID:  current.MaxShardID() + 1,
	}
	for _, s := range current.Shards() {
		b.shards[s.ID] = s
	}

	for _, c := range changes {
		if err := c.apply(b); err != nil {
			return nil, err
		}
	}

	shards, err := b.finish(value)
	if err != nil {
		return nil, err
	}

	registry := meta.NewShardRegistry(b.epoch, current.ProtocolVersion, shards...)
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	log.Infof("%s: next topology built with %d shards, %d changes, root %s",
		meta.TagEpoch(b.epoch, "build"),
		registry.Len(),
		len(changes),
		registry.RootHex())
	return registry, nil
}

type nextBuilder struct {
	epoch   meta.EpochID
	shards  map[meta.ShardID]*meta.Shard
	changed map[meta.ShardID]struct{}
	nextID  meta.ShardID
}

func (b *nextBuilder) changeable(id meta.ShardID) (*meta.Shard, error) {
	s, ok := b.shards[id]
	if !ok {
		return nil, meta.Errorf(meta.ErrShardNotFound, "shard %d", id)
	}
	if _, ok := b.changed[id]; ok {
		return nil, meta.Errorf(meta.ErrShardChangedTwice, "shard %d", id)
	}
	if s.Status != meta.ShardActive {
		return nil, meta.Errorf(meta.ErrShardNotActive, "shard %d is %s", id, s.Status.Name())
	}

	return s, nil
}

func (c Split) apply(b *nextBuilder) error {
	s, err := b.changeable(c.ShardID)
	if err != nil {
		return err
	}

	at := c.At
	if len(at) == 0 {
		at = midpoint(s.Keyspace)
	}
	if !s.Keyspace.StrictlyInside(at) {
		return meta.Errorf(meta.ErrOverlappingSplit, "shard %d split at %x", s.ID, at)
	}

	left, right := dealAlternately(s.Validators.Validators)
	rightID := b.nextID
	b.nextID++

	b.shards[s.ID] = &meta.Shard{
		ID:         s.ID,
		Status:     meta.ShardActive,
		Validators: meta.ValidatorAssignment{Validators: left},
		StateRoot:  childRoot(s.StateRoot, s.ID),
		Keyspace:   meta.Keyspace{Start: s.Keyspace.Start, End: at},
	}
	b.shards[rightID] = &meta.Shard{
		ID:         rightID,
		Status:     meta.ShardActive,
		Validators: meta.ValidatorAssignment{Validators: right},
		StateRoot:  childRoot(s.StateRoot, rightID),
		Keyspace:   meta.Keyspace{Start: at, End: s.Keyspace.End},
	}
	b.changed[s.ID] = struct{}{}
	b.changed[rightID] = struct{}{}
	return nil
}

func (c Merge) apply(b *nextBuilder) error {
	if c.Left == c.Right {
		return meta.Errorf(meta.ErrNonAdjacentMerge, "shard %d merged with itself", c.Left)
	}

	left, err := b.changeable(c.Left)
	if err != nil {
		return err
	}
	right, err := b.changeable(c.Right)
	if err != nil {
		return err
	}
	if !left.Keyspace.Adjacent(right.Keyspace) {
		return meta.Errorf(meta.ErrNonAdjacentMerge, "shard %d ends at %x, shard %d starts at %x",
			left.ID, left.Keyspace.End, right.ID, right.Keyspace.Start)
	}

	survivor, retired := left.ID, right.ID
	if retired < survivor {
		survivor, retired = retired, survivor
	}

	b.shards[survivor] = &meta.Shard{
		ID:         survivor,
		Status:     meta.ShardActive,
		Validators: meta.ValidatorAssignment{Validators: unionValidators(left.Validators.Validators, right.Validators.Validators)},
		StateRoot:  meta.HashParts(left.StateRoot[:], right.StateRoot[:]),
		Keyspace:   meta.Keyspace{Start: left.Keyspace.Start, End: right.Keyspace.End},
	}
	delete(b.shards, retired)
	b.changed[survivor] = struct{}{}
	b.changed[retired] = struct{}{}
	return nil
}

func (b *nextBuilder) finish(opts *options) ([]*meta.Shard, error) {
	ids := make([]meta.ShardID, 0, len(b.shards))
	for id := range b.shards {
		ids = append(ids, id)
	}
	sort.Sort(meta.ShardIDs(ids))

	var assigned map[meta.ShardID][]meta.PublicKey
	if opts.strategy != nil {
		value, err := opts.strategy.Assign(b.epoch, ids, opts.validators)
		if err != nil {
			return nil, err
		}
		assigned = value
	}

	shards := make([]*meta.Shard, 0, len(ids))
	for _, id := range ids {
		s := b.shards[id]
		validators := s.Validators.Validators
		if assigned != nil {
			validators = assigned[id]
		}
		if len(validators) == 0 {
			return nil, meta.Errorf(meta.ErrZeroValidators, "shard %d", id)
		}

		s.EpochID = b.epoch
		s.PendingTransactions = nil
		s.Validators = meta.ValidatorAssignment{
			ShardID:               id,
			EpochID:               b.epoch,
			Validators:            validators,
			ProposerRotationIndex: uint64(b.epoch) % uint64(len(validators)),
		}
		shards = append(shards, s)
	}

	return shards, nil
}

// canonicalValidators returns the validators sorted by key, so that every
// node derives the same assignment regardless of input order.
func canonicalValidators(validators []meta.PublicKey) ([]meta.PublicKey, error) {
	if len(validators) == 0 {
		return nil, meta.ErrZeroValidators
	}

	value := make([]meta.PublicKey, len(validators))
	copy(value, validators)
	sort.Slice(value, func(i, j int) bool { return bytes.Compare(value[i], value[j]) < 0 })

	for i := 1; i < len(value); i++ {
		if value[i].Equal(value[i-1]) {
			return nil, meta.Errorf(meta.ErrDuplicateValidator, "%s", value[i].String())
		}
	}

	return value, nil
}

// prefixBoundary returns the start key of range i of n, nil for the first
// start and for the last end.
func prefixBoundary(i, n int) []byte {
	if i <= 0 || i >= n {
		return nil
	}

	value := make([]byte, prefixBytes)
	binary.BigEndian.PutUint16(value, uint16(i*MaxShards/n))
	return value
}

// midpoint returns the middle key of the keyspace. Keys are compared as
// fixed width big endian numbers, the width grows by one byte until the
// range is wide enough to be split.
func midpoint(k meta.Keyspace) []byte {
	width := len(k.Start)
	if len(k.End) > width {
		width = len(k.End)
	}
	if width < prefixBytes {
		width = prefixBytes
	}

	for {
		start := padded(k.Start, width)
		end := new(big.Int).Lsh(big.NewInt(1), uint(8*width))
		if !k.Unbounded() {
			end = padded(k.End, width)
		}

		mid := new(big.Int).Add(start, end)
		mid.Rsh(mid, 1)
		if mid.Cmp(start) > 0 {
			value := make([]byte, width)
			data := mid.Bytes()
			copy(value[width-len(data):], data)
			return value
		}

		width++
	}
}

func padded(key []byte, width int) *big.Int {
	value := make([]byte, width)
	copy(value, key)
	return new(big.Int).SetBytes(value)
}

// dealAlternately gives even positions to the left and odd positions to the
// right, a side left empty reuses the full set.
func dealAlternately(validators []meta.PublicKey) ([]meta.PublicKey, []meta.PublicKey) {
	var left, right []meta.PublicKey
	for i, v := range validators {
		if i%2 == 0 {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	if len(left) == 0 {
		left = validators
	}
	if len(right) == 0 {
		right = validators
	}
	return left, right
}

func unionValidators(left, right []meta.PublicKey) []meta.PublicKey {
	value := make([]meta.PublicKey, 0, len(left)+len(right))
	value = append(value, left...)
	for _, v := range right {
		found := false
		for _, existing := range value {
			if existing.Equal(v) {
				found = true
				break
			}
		}
		if !found {
			value = append(value, v)
		}
	}
	return value
}

func childRoot(parent meta.StateRoot, child meta.ShardID) meta.StateRoot {
	return meta.HashParts(parent[:], []byte("split"), uint64Bytes(uint64(child)))
}

func uint64Bytes(value uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return data
}
