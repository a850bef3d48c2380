package meta

import (
	"bytes"
	"sort"

	"github.com/fagongzi/util/json"
)

// ShardRegistry the set of shards active in exactly one epoch
type ShardRegistry struct {
	EpochID         EpochID
	ProtocolVersion uint32

	shards map[ShardID]*Shard
	ids    []ShardID
	root   Digest
}

// NewShardRegistry returns a registry holding copies of the shards
func NewShardRegistry(epoch EpochID, protocolVersion uint32, shards ...*Shard) *ShardRegistry {
	r := &ShardRegistry{
		EpochID:         epoch,
		ProtocolVersion: protocolVersion,
		shards:          make(map[ShardID]*Shard, len(shards)),
	}

	for _, s := range shards {
		r.shards[s.ID] = s.Clone()
	}
	r.refresh()
	return r
}

// Len returns the number of shards
func (r *ShardRegistry) Len() int {
	return len(r.ids)
}

// Get returns a copy of the shard
func (r *ShardRegistry) Get(id ShardID) (*Shard, bool) {
	s, ok := r.shards[id]
	if !ok {
		return nil, false
	}

	return s.Clone(), true
}

// Has returns true if the shard exists
func (r *ShardRegistry) Has(id ShardID) bool {
	_, ok := r.shards[id]
	return ok
}

// ShardIDs returns the ids in ascending order
func (r *ShardRegistry) ShardIDs() []ShardID {
	value := make([]ShardID, len(r.ids))
	copy(value, r.ids)
	return value
}

// MaxShardID returns the largest shard id
func (r *ShardRegistry) MaxShardID() ShardID {
	if len(r.ids) == 0 {
		return 0
	}

	return r.ids[len(r.ids)-1]
}

// Shards returns copies of all shards in ascending id order
func (r *ShardRegistry) Shards() []*Shard {
	value := make([]*Shard, 0, len(r.ids))
	for _, id := range r.ids {
		value = append(value, r.shards[id].Clone())
	}
	return value
}

// ShardForKey returns the shard owning the key
func (r *ShardRegistry) ShardForKey(key []byte) (ShardID, bool) {
	for _, id := range r.ids {
		if r.shards[id].Keyspace.Contains(key) {
			return id, true
		}
	}

	return 0, false
}

// Assignment returns the validator assignment of the shard
func (r *ShardRegistry) Assignment(id ShardID) (ValidatorAssignment, bool) {
	s, ok := r.shards[id]
	if !ok {
		return ValidatorAssignment{}, false
	}

	return s.Validators.clone(), true
}

// Root returns the registry commitment
func (r *ShardRegistry) Root() Digest {
	return r.root
}

// RootHex returns the hex encoded registry commitment, as carried in block headers
func (r *ShardRegistry) RootHex() string {
	return r.root.String()
}

// CommitShardState replaces the shard's state root and clears its pending queue
func (r *ShardRegistry) CommitShardState(id ShardID, root StateRoot, committed uint64) error {
	s, ok := r.shards[id]
	if !ok {
		return Errorf(ErrShardNotFound, "shard %d", id)
	}

	s.CommitTransactions(root, committed)
	r.refresh()
	return nil
}

// AddPending queues a transaction on the shard
func (r *ShardRegistry) AddPending(id ShardID, tx TransactionID) error {
	s, ok := r.shards[id]
	if !ok {
		return Errorf(ErrShardNotFound, "shard %d", id)
	}

	s.PendingTransactions = append(s.PendingTransactions, tx)
	r.refresh()
	return nil
}

// Clone returns a deep copy
func (r *ShardRegistry) Clone() *ShardRegistry {
	value := &ShardRegistry{
		EpochID:         r.EpochID,
		ProtocolVersion: r.ProtocolVersion,
		shards:          make(map[ShardID]*Shard, len(r.shards)),
		ids:             make([]ShardID, len(r.ids)),
		root:            r.root,
	}

	copy(value.ids, r.ids)
	for id, s := range r.shards {
		value.shards[id] = s.Clone()
	}
	return value
}

// Validate checks the structural invariants: keyspaces are disjoint and
// cover the whole key space, every shard has a validator and belongs to the epoch.
func (r *ShardRegistry) Validate() error {
	if len(r.ids) == 0 {
		return Errorf(ErrInvalidRegistry, "epoch %d has no shard", r.EpochID)
	}

	ordered := make([]*Shard, 0, len(r.ids))
	for _, id := range r.ids {
		s := r.shards[id]
		if s.EpochID != r.EpochID {
			return Errorf(ErrInvalidRegistry, "shard %d bound to epoch %d, registry epoch %d",
				id, s.EpochID, r.EpochID)
		}
		if len(s.Validators.Validators) == 0 {
			return Errorf(ErrInvalidRegistry, "shard %d has no validator", id)
		}
		if s.Validators.ShardID != id || s.Validators.EpochID != r.EpochID {
			return Errorf(ErrInvalidRegistry, "shard %d has a foreign validator assignment", id)
		}
		ordered = append(ordered, s)
	}

	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].Keyspace.Start, ordered[j].Keyspace.Start) < 0
	})

	if len(ordered[0].Keyspace.Start) != 0 {
		return Errorf(ErrInvalidRegistry, "key space not covered below shard %d", ordered[0].ID)
	}

	for i := 0; i < len(ordered)-1; i++ {
		if !ordered[i].Keyspace.Adjacent(ordered[i+1].Keyspace) {
			return Errorf(ErrInvalidRegistry, "shard %d and %d are not contiguous",
				ordered[i].ID, ordered[i+1].ID)
		}
	}

	if last := ordered[len(ordered)-1]; !last.Keyspace.Unbounded() {
		return Errorf(ErrInvalidRegistry, "key space not covered above shard %d", last.ID)
	}

	return nil
}

func (r *ShardRegistry) refresh() {
	r.ids = r.ids[:0]
	for id := range r.shards {
		r.ids = append(r.ids, id)
	}
	sort.Sort(ShardIDs(r.ids))
	r.root = r.computeRoot()
}

func (r *ShardRegistry) computeRoot() Digest {
	h := newHasher()
	h.writeUint64(uint64(len(r.ids)))
	for _, id := range r.ids {
		s := r.shards[id]
		h.writeUint64(uint64(s.ID))
		h.writeUint64(uint64(s.EpochID))
		h.writeUint64(uint64(s.Status))
		h.writeBytes(s.StateRoot[:])
		h.writeBytes(s.Keyspace.Start)
		h.writeBytes(s.Keyspace.End)
		h.writeUint64(s.Validators.ProposerRotationIndex)
		h.writeUint64(uint64(len(s.Validators.Validators)))
		for _, v := range s.Validators.Validators {
			h.writeBytes(v)
		}
	}
	return h.sum()
}

type registryJSON struct {
	EpochID         EpochID  `json:"epoch"`
	ProtocolVersion uint32   `json:"version"`
	Root            Digest   `json:"root"`
	Shards          []*Shard `json:"shards"`
}

// MarshalJSON encodes the registry with its shards in id order
func (r *ShardRegistry) MarshalJSON() ([]byte, error) {
	value := registryJSON{
		EpochID:         r.EpochID,
		ProtocolVersion: r.ProtocolVersion,
		Root:            r.root,
	}
	for _, id := range r.ids {
		value.Shards = append(value.Shards, r.shards[id])
	}

	return json.MustMarshal(&value), nil
}

// UnmarshalJSON decodes the registry and recomputes its root
func (r *ShardRegistry) UnmarshalJSON(data []byte) error {
	value := registryJSON{}
	if err := json.Unmarshal(&value, data); err != nil {
		return err
	}

	r.EpochID = value.EpochID
	r.ProtocolVersion = value.ProtocolVersion
	r.shards = make(map[ShardID]*Shard, len(value.Shards))
	r.ids = nil
	for _, s := range value.Shards {
		r.shards[s.ID] = s
	}
	r.refresh()

	if !value.Root.IsZero() && value.Root != r.root {
		return Errorf(ErrRegistryRootMismatch, "epoch %d stored root %s, computed %s",
			r.EpochID, value.Root.String(), r.root.String())
	}

	return nil
}
