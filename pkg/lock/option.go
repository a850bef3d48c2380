package lock

const (
	// DefaultMaxHoldEpochs a lock acquired in epoch e expires in e+2
	DefaultMaxHoldEpochs = uint64(2)
)

// Option option
type Option func(*options)

type options struct {
	maxHoldEpochs uint64
	checkEachStep bool
}

func (opts *options) adjust() {
	if opts.maxHoldEpochs == 0 {
		opts.maxHoldEpochs = DefaultMaxHoldEpochs
	}
}

// WithMaxHoldEpochs set the epochs a lock may be held
func WithMaxHoldEpochs(value uint64) Option {
	return func(opts *options) {
		opts.maxHoldEpochs = value
	}
}

// WithConsistencyCheck verify the key index after every mutation
func WithConsistencyCheck() Option {
	return func(opts *options) {
		opts.checkEachStep = true
	}
}
