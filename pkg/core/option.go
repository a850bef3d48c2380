package core

import (
	"github.com/infinivision/shardledger/pkg/advisor"
	"github.com/infinivision/shardledger/pkg/id"
	"github.com/infinivision/shardledger/pkg/sign"
	"github.com/infinivision/shardledger/pkg/storage"
)

// Option option
type Option func(*options)

type options struct {
	gen                  id.Generator
	verifier             sign.Verifier
	advisor              advisor.Advisor
	storage              storage.Storage
	sink                 EvidenceSink
	archiveSize          int
	defaultTimeoutBlocks uint64
	minTimeoutBlocks     uint64
	maxTimeoutBlocks     uint64
	maxRecoveryAttempts  int
}

func (opts *options) adjust() {
	if opts.gen == nil {
		opts.gen = id.NewMemGenerator()
	}

	if opts.verifier == nil {
		opts.verifier = sign.NewEd25519Verifier()
	}

	if opts.archiveSize == 0 {
		opts.archiveSize = 4096
	}

	if opts.defaultTimeoutBlocks == 0 {
		opts.defaultTimeoutBlocks = 50
	}

	if opts.minTimeoutBlocks == 0 {
		opts.minTimeoutBlocks = 1
	}

	if opts.maxTimeoutBlocks == 0 {
		opts.maxTimeoutBlocks = 1000
	}

	if opts.maxRecoveryAttempts == 0 {
		opts.maxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}

	opts.advisor = advisor.NewBounded(opts.advisor, opts.minTimeoutBlocks, opts.maxTimeoutBlocks)
}

// WithIDGenerator set lock id generator
func WithIDGenerator(value id.Generator) Option {
	return func(opts *options) {
		opts.gen = value
	}
}

// WithVerifier set vote signature verifier
func WithVerifier(value sign.Verifier) Option {
	return func(opts *options) {
		opts.verifier = value
	}
}

// WithAdvisor set advisor, outputs are always bounded
func WithAdvisor(value advisor.Advisor) Option {
	return func(opts *options) {
		opts.advisor = value
	}
}

// WithStorage set durable storage of snapshots and evidence
func WithStorage(value storage.Storage) Option {
	return func(opts *options) {
		opts.storage = value
	}
}

// WithEvidenceSink set evidence sink
func WithEvidenceSink(value EvidenceSink) Option {
	return func(opts *options) {
		opts.sink = value
	}
}

// WithArchiveSize set number of terminal snapshots kept in memory
func WithArchiveSize(value int) Option {
	return func(opts *options) {
		opts.archiveSize = value
	}
}

// WithTimeoutBlocks set default, min and max transaction timeout in blocks
func WithTimeoutBlocks(defaultValue, min, max uint64) Option {
	return func(opts *options) {
		opts.defaultTimeoutBlocks = defaultValue
		opts.minTimeoutBlocks = min
		opts.maxTimeoutBlocks = max
	}
}

// WithMaxRecoveryAttempts set max recovery attempts
func WithMaxRecoveryAttempts(value int) Option {
	return func(opts *options) {
		opts.maxRecoveryAttempts = value
	}
}
