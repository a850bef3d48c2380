package storage

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedisCreateStorage(t *testing.T) {
	_, err := CreateStorage("redis://127.0.0.1:6379?addr=127.0.0.1:6380&retry=3&maxActive=100&maxIdle=10&idleTimeout=30&dailTimeout=10&readTimeout=30&writeTimeout=10")
	assert.Nil(t, err, "create redis storage url failed")
}

func TestMemCreateStorage(t *testing.T) {
	s, err := CreateStorage("mem://")
	assert.Nil(t, err, "create mem storage url failed")
	assert.Nil(t, s.Close(), "close mem storage failed")
}

func TestBadgerCreateStorage(t *testing.T) {
	dir := fmt.Sprintf("%s/shardledger-factory-%d", os.TempDir(), time.Now().UnixNano())
	s, err := CreateStorage("badger://" + dir)
	assert.Nil(t, err, "create badger storage url failed")
	assert.Nil(t, s.Close(), "close badger storage failed")
}

func TestUnknownCreateStorage(t *testing.T) {
	_, err := CreateStorage("etcd://127.0.0.1:2379")
	assert.NotNil(t, err, "create unknown storage url failed")
}
