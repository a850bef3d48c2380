package meta

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// HashSize size of every digest used by the ledger
const HashSize = 32

// ShardID shard identifier, the smallest id of a transaction is its coordinator
type ShardID uint64

// EpochID epoch identifier
type EpochID uint64

// StateLockID state lock identifier
type StateLockID uint64

// ShardIDs is a sortable shard id list
type ShardIDs []ShardID

func (ids ShardIDs) Len() int           { return len(ids) }
func (ids ShardIDs) Less(i, j int) bool { return ids[i] < ids[j] }
func (ids ShardIDs) Swap(i, j int)      { ids[i], ids[j] = ids[j], ids[i] }

// NormalizeShardIDs returns a sorted copy without duplicates
func NormalizeShardIDs(ids []ShardID) []ShardID {
	if len(ids) == 0 {
		return nil
	}

	value := make([]ShardID, len(ids))
	copy(value, ids)
	sort.Sort(ShardIDs(value))

	n := 1
	for i := 1; i < len(value); i++ {
		if value[i] != value[n-1] {
			value[n] = value[i]
			n++
		}
	}

	return value[:n]
}

// Digest is a blake2b-256 digest
type Digest [HashSize]byte

// String returns the hex form
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 4 bytes in hex, used in log tags
func (d Digest) Short() string {
	return hex.EncodeToString(d[:4])
}

// IsZero returns true if all bytes are zero
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText encodes the digest as hex
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a hex digest
func (d *Digest) UnmarshalText(text []byte) error {
	value, err := ParseDigest(string(text))
	if err != nil {
		return err
	}

	*d = value
	return nil
}

// ParseDigest parses a hex encoded digest
func ParseDigest(value string) (Digest, error) {
	var d Digest
	data, err := hex.DecodeString(value)
	if err != nil {
		return d, err
	}

	if len(data) != HashSize {
		return d, fmt.Errorf("digest should be %d bytes, but it is %d bytes", HashSize, len(data))
	}

	copy(d[:], data)
	return d, nil
}

// TransactionID content addressed transaction id
type TransactionID = Digest

// StateRoot commitment over a shard's state
type StateRoot = Digest

// NewTransactionID returns blake2b(payload || nonce)
func NewTransactionID(payload []byte, nonce uint64) TransactionID {
	h := newHasher()
	h.h.Write(payload)
	h.writeUint64(nonce)
	return h.sum()
}

// PublicKey validator public key
type PublicKey []byte

// String returns the hex form
func (k PublicKey) String() string {
	return hex.EncodeToString(k)
}

// Equal returns true if both keys are the same
func (k PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(k, other)
}

// MarshalText encodes the key as hex
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a hex key
func (k *PublicKey) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}

	*k = data
	return nil
}

// hasher writes length prefixed fields so that adjacent fields can't collide
type hasher struct {
	h   hash.Hash
	buf [binary.MaxVarintLen64]byte
}

func newHasher() *hasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for an oversized key
		panic(err)
	}

	return &hasher{h: h}
}

func (h *hasher) writeUint64(value uint64) {
	binary.BigEndian.PutUint64(h.buf[:8], value)
	h.h.Write(h.buf[:8])
}

func (h *hasher) writeBytes(value []byte) {
	n := binary.PutUvarint(h.buf[:], uint64(len(value)))
	h.h.Write(h.buf[:n])
	h.h.Write(value)
}

func (h *hasher) sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// HashParts returns blake2b over the length prefixed parts
func HashParts(parts ...[]byte) Digest {
	h := newHasher()
	for _, part := range parts {
		h.writeBytes(part)
	}
	return h.sum()
}
