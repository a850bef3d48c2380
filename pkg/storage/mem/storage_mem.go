package mem

import (
	"sync"
)

// KV a bucketed kv store in memory, just for testing and development
type KV struct {
	sync.RWMutex
	buckets map[string]*kvTree
}

// NewKV returns a memory kv store
func NewKV() *KV {
	return &KV{
		buckets: make(map[string]*kvTree),
	}
}

func (s *KV) bucket(name string, create bool) *kvTree {
	s.RLock()
	tree, ok := s.buckets[name]
	s.RUnlock()
	if ok || !create {
		return tree
	}

	s.Lock()
	defer s.Unlock()
	if tree, ok = s.buckets[name]; !ok {
		tree = newKVTree()
		s.buckets[name] = tree
	}
	return tree
}

// Set sets the value of the key in the bucket
func (s *KV) Set(bucket string, key, value []byte) error {
	s.bucket(bucket, true).Put(key, value)
	return nil
}

// Get returns the value of the key in the bucket
func (s *KV) Get(bucket string, key []byte) ([]byte, error) {
	if tree := s.bucket(bucket, false); tree != nil {
		return tree.Get(key), nil
	}

	return nil, nil
}

// Delete deletes the key from the bucket
func (s *KV) Delete(bucket string, key []byte) error {
	if tree := s.bucket(bucket, false); tree != nil {
		tree.Delete(key)
	}

	return nil
}

// Scan visits the bucket in key order
func (s *KV) Scan(bucket string, handler func(key, value []byte) (bool, error)) error {
	if tree := s.bucket(bucket, false); tree != nil {
		return tree.Scan(handler)
	}

	return nil
}

// Close closes the store
func (s *KV) Close() error {
	return nil
}
