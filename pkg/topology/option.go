package topology

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

const (
	// DefaultProtocolVersion protocol version of a genesis topology
	DefaultProtocolVersion = uint32(1)
)

// Option option
type Option func(*options)

type options struct {
	protocolVersion uint32
	strategy        AssignmentStrategy
	validators      []meta.PublicKey
}

func (opts *options) adjust() {
	if opts.protocolVersion == 0 {
		opts.protocolVersion = DefaultProtocolVersion
	}
}

// WithProtocolVersion set protocol version of the genesis topology
func WithProtocolVersion(value uint32) Option {
	return func(opts *options) {
		opts.protocolVersion = value
	}
}

// WithAssignmentStrategy re-deal the validators over the shards of the next epoch
func WithAssignmentStrategy(strategy AssignmentStrategy, validators ...meta.PublicKey) Option {
	return func(opts *options) {
		opts.strategy = strategy
		opts.validators = validators
	}
}
