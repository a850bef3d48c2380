package local

import (
	"github.com/dgraph-io/badger"
)

const (
	bucketSep = '/'
)

// KV a bucketed kv store on a local badger db, the bucket is a key prefix
type KV struct {
	db *badger.DB
}

// NewBadgerKV returns a local kv store using badger
func NewBadgerKV(dir string) (*KV, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.ValueLogFileSize = 1024 * 1024 * 10
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &KV{db: db}, nil
}

func prefix(bucket string) []byte {
	value := make([]byte, 0, len(bucket)+1)
	value = append(value, bucket...)
	return append(value, bucketSep)
}

func bucketKey(bucket string, key []byte) []byte {
	return append(prefix(bucket), key...)
}

// Set sets the value of the key in the bucket
func (s *KV) Set(bucket string, key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bucketKey(bucket, key), value)
	})
}

// Get returns the value of the key in the bucket, nil if missing
func (s *KV) Get(bucket string, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bucketKey(bucket, key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}

			return err
		}

		data, err := item.Value()
		if err != nil {
			return err
		}

		value = append([]byte(nil), data...)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return value, nil
}

// Delete deletes the key from the bucket
func (s *KV) Delete(bucket string, key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(bucketKey(bucket, key))
	})
}

// Scan visits the bucket in key order
func (s *KV) Scan(bucket string, handler func(key, value []byte) (bool, error)) error {
	type kv struct {
		key, value []byte
	}

	var items []kv
	p := prefix(bucket)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			v, err := item.Value()
			if err != nil {
				return err
			}

			items = append(items, kv{
				key:   append([]byte(nil), item.Key()[len(p):]...),
				value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, item := range items {
		c, err := handler(item.key, item.value)
		if err != nil || !c {
			return err
		}
	}

	return nil
}

// Close closes the db
func (s *KV) Close() error {
	return s.db.Close()
}
