package storage

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

// Storage durable state needed to restart a node: the registry of every
// epoch, the snapshots of active coordinators, the archive of terminal
// transactions and the byzantine evidence log.
type Storage interface {
	// PutRegistry saves the registry of its epoch
	PutRegistry(registry *meta.ShardRegistry) error
	// GetRegistry returns the registry of the epoch, nil if missing
	GetRegistry(epoch meta.EpochID) (*meta.ShardRegistry, error)
	// LatestRegistry returns the registry of the highest saved epoch, nil if none
	LatestRegistry() (*meta.ShardRegistry, error)

	// PutSnapshot saves the snapshot of an active coordinator
	PutSnapshot(snapshot *meta.CoordinatorStateSnapshot) error
	// GetSnapshot returns the snapshot of an active coordinator, nil if missing
	GetSnapshot(id meta.TransactionID) (*meta.CoordinatorStateSnapshot, error)
	// RemoveSnapshot removes the snapshot of an active coordinator
	RemoveSnapshot(id meta.TransactionID) error
	// LoadSnapshots visits every active snapshot in transaction id order
	LoadSnapshots(applyFunc func(*meta.CoordinatorStateSnapshot) error) error

	// Archive moves a terminal snapshot to the archive
	Archive(snapshot *meta.CoordinatorStateSnapshot) error
	// GetArchived returns an archived snapshot, nil if missing
	GetArchived(id meta.TransactionID) (*meta.CoordinatorStateSnapshot, error)

	// PutEvidence appends byzantine evidence
	PutEvidence(evidence *meta.ByzantineEvidence) error
	// LoadEvidence visits all evidence
	LoadEvidence(applyFunc func(*meta.ByzantineEvidence) error) error

	// Close closes the storage
	Close() error
}

// KV is the bucketed key value store a Storage is built on
type KV interface {
	// Set sets the value of the key in the bucket
	Set(bucket string, key, value []byte) error
	// Get returns the value of the key in the bucket, nil if missing
	Get(bucket string, key []byte) ([]byte, error)
	// Delete deletes the key from the bucket
	Delete(bucket string, key []byte) error
	// Scan visits the bucket in key order until the handler returns false
	Scan(bucket string, handler func(key, value []byte) (bool, error)) error
	// Close closes the store
	Close() error
}
