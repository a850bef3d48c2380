package mem

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type treeItem struct {
	key   []byte
	value []byte
}

// Less returns true if the item key is less than the other.
func (item *treeItem) Less(other btree.Item) bool {
	return bytes.Compare(item.key, other.(*treeItem).key) < 0
}

// Equals returns true if the item key is equals the other.
func (item *treeItem) Equals(other btree.Item) bool {
	return bytes.Equal(item.key, other.(*treeItem).key)
}

// kvTree kv btree
type kvTree struct {
	sync.RWMutex
	tree *btree.BTree
}

// newKVTree return a kv btree
func newKVTree() *kvTree {
	return &kvTree{
		tree: btree.New(64),
	}
}

// Count returns number of currently values
func (kv *kvTree) Count() int {
	kv.RLock()
	defer kv.RUnlock()

	return kv.tree.Len()
}

// Put puts a key, value to the tree
func (kv *kvTree) Put(key, value []byte) {
	kv.Lock()

	kv.tree.ReplaceOrInsert(&treeItem{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})

	kv.Unlock()
}

// Delete deletes a key, return false if not the key is not exists
func (kv *kvTree) Delete(key []byte) bool {
	kv.Lock()
	defer kv.Unlock()

	item := &treeItem{key: key}
	return nil != kv.tree.Delete(item)
}

// Get get value, return nil if not the key is not exists
func (kv *kvTree) Get(key []byte) []byte {
	kv.RLock()
	defer kv.RUnlock()

	item := kv.tree.Get(&treeItem{key: key})
	if item == nil {
		return nil
	}

	return item.(*treeItem).value
}

// Scan scans all items in key order, the handler may modify the tree
func (kv *kvTree) Scan(handler func(key, value []byte) (bool, error)) error {
	kv.RLock()
	var items []*treeItem
	kv.tree.Ascend(func(i btree.Item) bool {
		items = append(items, i.(*treeItem))
		return true
	})
	kv.RUnlock()

	for _, target := range items {
		c, err := handler(target.key, target.value)
		if err != nil || !c {
			return err
		}
	}

	return nil
}
