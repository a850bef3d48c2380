package remote

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/garyburd/redigo/redis"
)

// KV a bucketed kv store on redis, every bucket is a redis hash
type KV struct {
	ops   uint64
	opts  options
	pools []*redis.Pool
}

// NewRedisKV returns a kv store on redis, connections are dialed lazily
func NewRedisKV(opts ...Option) *KV {
	s := &KV{}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.opts.adjust()

	for _, addr := range s.opts.addrs {
		addr := addr
		s.pools = append(s.pools, &redis.Pool{
			MaxActive:   s.opts.maxActive,
			MaxIdle:     s.opts.maxIdle,
			IdleTimeout: s.opts.idleTimeout,
			Wait:        true,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp",
					addr,
					redis.DialWriteTimeout(s.opts.writeTimeout),
					redis.DialConnectTimeout(s.opts.dailTimeout),
					redis.DialReadTimeout(s.opts.readTimeout))
			},
		})
	}

	return s
}

func (s *KV) hashKey(bucket string) string {
	return fmt.Sprintf("__%s_%s__", s.opts.prefix, bucket)
}

func (s *KV) get() redis.Conn {
	return s.pools[int(atomic.AddUint64(&s.ops, 1)%uint64(len(s.pools)))].Get()
}

// Set sets the value of the key in the bucket
func (s *KV) Set(bucket string, key, value []byte) error {
	return s.doWithRetry(func(conn redis.Conn) error {
		_, err := conn.Do("HSET", s.hashKey(bucket), key, value)
		return err
	})
}

// Get returns the value of the key in the bucket, nil if missing
func (s *KV) Get(bucket string, key []byte) ([]byte, error) {
	var value []byte
	err := s.doWithRetry(func(conn redis.Conn) error {
		ret, err := conn.Do("HGET", s.hashKey(bucket), key)
		if err != nil {
			return err
		}
		if ret == nil {
			return nil
		}

		value, err = redis.Bytes(ret, err)
		return err
	})

	return value, err
}

// Delete deletes the key from the bucket
func (s *KV) Delete(bucket string, key []byte) error {
	return s.doWithRetry(func(conn redis.Conn) error {
		_, err := conn.Do("HDEL", s.hashKey(bucket), key)
		return err
	})
}

// Scan visits the bucket in key order, the whole hash is loaded first
func (s *KV) Scan(bucket string, handler func(key, value []byte) (bool, error)) error {
	var values []interface{}
	err := s.doWithRetry(func(conn redis.Conn) error {
		ret, err := redis.Values(conn.Do("HGETALL", s.hashKey(bucket)))
		if err != nil {
			return err
		}

		values = ret
		return nil
	})
	if err != nil {
		return err
	}

	type kv struct {
		key, value []byte
	}
	items := make([]kv, 0, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		key, err := redis.Bytes(values[i], nil)
		if err != nil {
			return err
		}
		value, err := redis.Bytes(values[i+1], nil)
		if err != nil {
			return err
		}
		items = append(items, kv{key: key, value: value})
	}
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].key, items[j].key) < 0 })

	for _, item := range items {
		c, err := handler(item.key, item.value)
		if err != nil || !c {
			return err
		}
	}

	return nil
}

// Close closes every pool
func (s *KV) Close() error {
	for _, p := range s.pools {
		p.Close()
	}
	return nil
}

func (s *KV) doWithRetry(doFunc func(conn redis.Conn) error) error {
	times := 0

	for {
		conn := s.get()
		err := doFunc(conn)
		conn.Close()

		if err == nil {
			break
		}

		if times >= s.opts.maxRetryTimes {
			return err
		}
		times++
	}

	return nil
}
