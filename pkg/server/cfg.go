package server

import (
	"github.com/infinivision/shardledger/pkg/core"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/storage"
	"github.com/infinivision/shardledger/pkg/topology"
)

// Cfg node configuration
type Cfg struct {
	// NumShards genesis shard count, unused if storage holds a registry
	NumShards int
	// Validators the permissioned validator set
	Validators []meta.PublicKey
	// ProtocolVersion every staged topology must carry
	ProtocolVersion uint32
	// MaxHoldEpochs epochs a state lock may be held before it expires
	MaxHoldEpochs uint64
	// Concurrency sizes the command queue
	Concurrency int
	// SlashingAware deals validators with evidence against them out of the next epoch
	SlashingAware bool
	// Storage durable state, in memory if nil
	Storage storage.Storage
	// CoreOptions options of the coordinator manager
	CoreOptions []core.Option
	// TopologyOptions options used to build every next epoch topology
	TopologyOptions []topology.Option
}

// Adjust adjust
func (c *Cfg) Adjust() {
	if c.NumShards == 0 {
		c.NumShards = 1
	}

	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = topology.DefaultProtocolVersion
	}

	if c.Concurrency == 0 {
		c.Concurrency = 256
	}
}
