package storage

import (
	"github.com/fagongzi/util/json"
	"github.com/infinivision/shardledger/pkg/meta"
)

type kvStorage struct {
	kv KV
}

// NewKVStorage returns a storage on top of a kv store, values are json encoded
func NewKVStorage(kv KV) Storage {
	return &kvStorage{kv: kv}
}

func (s *kvStorage) PutRegistry(registry *meta.ShardRegistry) error {
	return s.kv.Set(bucketRegistry, epochKey(uint64(registry.EpochID)), json.MustMarshal(registry))
}

func (s *kvStorage) GetRegistry(epoch meta.EpochID) (*meta.ShardRegistry, error) {
	data, err := s.kv.Get(bucketRegistry, epochKey(uint64(epoch)))
	if err != nil || len(data) == 0 {
		return nil, err
	}

	return decodeRegistry(data)
}

func (s *kvStorage) LatestRegistry() (*meta.ShardRegistry, error) {
	var latest []byte
	err := s.kv.Scan(bucketRegistry, func(key, value []byte) (bool, error) {
		latest = value
		return true, nil
	})
	if err != nil || len(latest) == 0 {
		return nil, err
	}

	return decodeRegistry(latest)
}

func decodeRegistry(data []byte) (*meta.ShardRegistry, error) {
	value := &meta.ShardRegistry{}
	if err := value.UnmarshalJSON(data); err != nil {
		return nil, err
	}

	return value, nil
}

func (s *kvStorage) PutSnapshot(snapshot *meta.CoordinatorStateSnapshot) error {
	return s.kv.Set(bucketSnapshot, snapshot.Transaction.ID[:], json.MustMarshal(snapshot))
}

func (s *kvStorage) GetSnapshot(id meta.TransactionID) (*meta.CoordinatorStateSnapshot, error) {
	return s.getSnapshot(bucketSnapshot, id)
}

func (s *kvStorage) RemoveSnapshot(id meta.TransactionID) error {
	return s.kv.Delete(bucketSnapshot, id[:])
}

func (s *kvStorage) LoadSnapshots(applyFunc func(*meta.CoordinatorStateSnapshot) error) error {
	return s.kv.Scan(bucketSnapshot, func(key, value []byte) (bool, error) {
		snapshot := &meta.CoordinatorStateSnapshot{}
		json.MustUnmarshal(snapshot, value)
		if err := applyFunc(snapshot); err != nil {
			return false, err
		}

		return true, nil
	})
}

func (s *kvStorage) Archive(snapshot *meta.CoordinatorStateSnapshot) error {
	id := snapshot.Transaction.ID
	if err := s.kv.Set(bucketArchive, id[:], json.MustMarshal(snapshot)); err != nil {
		return err
	}

	return s.kv.Delete(bucketSnapshot, id[:])
}

func (s *kvStorage) GetArchived(id meta.TransactionID) (*meta.CoordinatorStateSnapshot, error) {
	return s.getSnapshot(bucketArchive, id)
}

func (s *kvStorage) getSnapshot(bucket string, id meta.TransactionID) (*meta.CoordinatorStateSnapshot, error) {
	data, err := s.kv.Get(bucket, id[:])
	if err != nil || len(data) == 0 {
		return nil, err
	}

	value := &meta.CoordinatorStateSnapshot{}
	json.MustUnmarshal(value, data)
	return value, nil
}

func (s *kvStorage) PutEvidence(evidence *meta.ByzantineEvidence) error {
	id := evidence.ID()
	return s.kv.Set(bucketEvidence, id[:], json.MustMarshal(evidence))
}

func (s *kvStorage) LoadEvidence(applyFunc func(*meta.ByzantineEvidence) error) error {
	return s.kv.Scan(bucketEvidence, func(key, value []byte) (bool, error) {
		evidence := &meta.ByzantineEvidence{}
		json.MustUnmarshal(evidence, value)
		if err := applyFunc(evidence); err != nil {
			return false, err
		}

		return true, nil
	})
}

func (s *kvStorage) Close() error {
	return s.kv.Close()
}
