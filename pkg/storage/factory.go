package storage

import (
	"fmt"
	"net/url"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/storage/local"
	"github.com/infinivision/shardledger/pkg/storage/mem"
)

const (
	protocolMem    = "mem"
	protocolBadger = "badger"
	protocolRedis  = "redis"
)

const (
	paramMaxRetryTimes = "retry"
)

// CreateStorage returns a storage by url:
// mem://, badger:///path/to/dir or redis://ip:port?retry=3
func CreateStorage(protocolAddr string) (Storage, error) {
	u, err := url.Parse(protocolAddr)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case protocolMem:
		return NewKVStorage(mem.NewKV()), nil
	case protocolBadger:
		return createBadgerStorage(u)
	case protocolRedis:
		return createRedisStorage(u)
	}

	log.Errorf("the schema %s is not support", u.Scheme)
	return nil, fmt.Errorf("the schema %s is not support", u.Scheme)
}

// example: badger:///var/lib/shardledger
func createBadgerStorage(u *url.URL) (Storage, error) {
	dir := u.Path
	if dir == "" {
		dir = u.Host
	}
	if dir == "" {
		return nil, fmt.Errorf("missing badger dir in %s", u.String())
	}

	kv, err := local.NewBadgerKV(dir)
	if err != nil {
		return nil, err
	}

	return NewKVStorage(kv), nil
}
