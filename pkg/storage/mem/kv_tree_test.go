package mem

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKVTreePutAndGet(t *testing.T) {
	tree := newKVTree()

	v := tree.Get([]byte("k1"))
	assert.Nil(t, v, "check kv tree failed")

	tree.Put([]byte("k1"), []byte("v1"))
	v = tree.Get([]byte("k1"))
	assert.Equal(t, []byte("v1"), v, "check kv tree failed")

	tree.Put([]byte("k1"), []byte("v2"))
	v = tree.Get([]byte("k1"))
	assert.Equal(t, []byte("v2"), v, "check kv tree failed")
	assert.Equal(t, 1, tree.Count(), "check kv tree failed")
}

func TestKVTreeDelete(t *testing.T) {
	tree := newKVTree()

	assert.True(t, !tree.Delete([]byte("k1")), "check kv tree failed")

	tree.Put([]byte("k1"), []byte("v1"))
	assert.True(t, tree.Delete([]byte("k1")), "check kv tree failed")

	v := tree.Get([]byte("k1"))
	assert.Nil(t, v, "check kv tree failed")
}

func TestKVTreeScan(t *testing.T) {
	tree := newKVTree()
	for i := byte(1); i <= 4; i++ {
		tree.Put([]byte{i}, []byte{i})
	}

	var keys []byte
	err := tree.Scan(func(key, value []byte) (bool, error) {
		keys = append(keys, key[0])
		return true, nil
	})
	assert.Nil(t, err, "check kv tree failed")
	assert.Equal(t, []byte{1, 2, 3, 4}, keys, "check kv tree order failed")

	cnt := 0
	err = tree.Scan(func(key, value []byte) (bool, error) {
		if key[0] == 2 {
			return false, nil
		}

		cnt++
		return true, nil
	})
	assert.Equal(t, 1, cnt, "check kv tree failed")

	cnt = 0
	err = tree.Scan(func(key, value []byte) (bool, error) {
		if key[0] == 2 {
			return true, fmt.Errorf("err")
		}

		cnt++
		return true, nil
	})
	assert.NotNil(t, err, "check kv tree failed")
	assert.Equal(t, 1, cnt, "check kv tree failed")

	err = tree.Scan(func(key, value []byte) (bool, error) {
		tree.Delete(key)
		return true, nil
	})
	assert.Nil(t, err, "check kv tree failed")
	assert.Equal(t, 0, tree.Count(), "check kv tree failed")
}

func TestKVBuckets(t *testing.T) {
	s := NewKV()
	assert.Nil(t, s.Set("a", []byte{1}, []byte("a1")), "check kv failed")
	assert.Nil(t, s.Set("b", []byte{1}, []byte("b1")), "check kv failed")

	v, err := s.Get("a", []byte{1})
	assert.Nil(t, err, "check kv failed")
	assert.Equal(t, []byte("a1"), v, "check kv failed")

	v, err = s.Get("c", []byte{1})
	assert.Nil(t, err, "check kv failed")
	assert.Nil(t, v, "check kv failed")

	assert.Nil(t, s.Delete("a", []byte{1}), "check kv failed")
	v, _ = s.Get("a", []byte{1})
	assert.Nil(t, v, "check kv failed")

	v, _ = s.Get("b", []byte{1})
	assert.Equal(t, []byte("b1"), v, "check kv failed")
}
