package id

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/infinivision/shardledger/pkg/meta"
)

const (
	// KindMem in process counter
	KindMem = "mem"
	// KindSnowflake sonyflake backed ids, unique across nodes sharing a start time
	KindSnowflake = "snowflake"
)

// Generator id generator
type Generator interface {
	Gen() (uint64, error)
}

// ErrExhausted the generator has no id left
var ErrExhausted = errors.New("id space exhausted")

// NewMemGenerator returns a generator counting from 1, lock id 0 is never used
func NewMemGenerator() Generator {
	return &memGenerator{}
}

type memGenerator struct {
	sync.Mutex
	last uint64
}

func (g *memGenerator) Gen() (uint64, error) {
	g.Lock()
	defer g.Unlock()

	if g.last == math.MaxUint64 {
		return 0, ErrExhausted
	}
	g.last++
	return g.last, nil
}

// CreateGenerator returns the generator by kind
func CreateGenerator(kind string, machineID uint16) (Generator, error) {
	switch kind {
	case KindMem:
		return NewMemGenerator(), nil
	case KindSnowflake:
		return NewSnowflakeGenerator(machineID)
	}

	return nil, fmt.Errorf("id generator %s is not support", kind)
}

// GenLockID returns a new state lock id
func GenLockID(g Generator) (meta.StateLockID, error) {
	value, err := g.Gen()
	if err != nil {
		return 0, err
	}

	return meta.StateLockID(value), nil
}

// GenLockIDs returns n distinct state lock ids
func GenLockIDs(g Generator, n int) ([]meta.StateLockID, error) {
	ids := make([]meta.StateLockID, 0, n)
	for i := 0; i < n; i++ {
		value, err := GenLockID(g)
		if err != nil {
			return nil, err
		}
		ids = append(ids, value)
	}

	return ids, nil
}
