package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisKV(t *testing.T) {
	s := NewRedisKV(WithAddrs("127.0.0.1:6379", "127.0.0.1:6380"), WithRetry(3), WithPrefix("test"))
	assert.Equal(t, 2, len(s.pools), "check redis pools failed")
	assert.Equal(t, 3, s.opts.maxRetryTimes, "check redis options failed")
	assert.Equal(t, "__test_snapshot__", s.hashKey("snapshot"), "check redis key failed")
	assert.Equal(t, time.Second*5, s.opts.readTimeout, "check redis default failed")
	assert.Nil(t, s.Close(), "check redis close failed")
}
