package storage

import (
	"net/url"
	"time"

	"github.com/fagongzi/util/format"
	"github.com/infinivision/shardledger/pkg/storage/remote"
)

const (
	paramAddrs        = "addr"
	paramPrefix       = "prefix"
	paramMaxActive    = "maxActive"
	paramMaxIdle      = "maxIdle"
	paramIdleTimeout  = "idleTimeout"
	paramDailTimeout  = "dailTimeout"
	paramReadTimeout  = "readTimeout"
	paramWriteTimeout = "writeTimeout"
)

// example: redis://ip:port?addr=ip:port&retry=3&maxActive=100&maxIdle=10&idleTimeout=30&dailTimeout=10&readTimeout=30&writeTimeout=10
func createRedisStorage(u *url.URL) (Storage, error) {
	var opts []remote.Option

	var addrs []string
	addrs = append(addrs, u.Host)
	if values, ok := u.Query()[paramAddrs]; ok {
		addrs = append(addrs, values...)
	}
	opts = append(opts, remote.WithAddrs(addrs...))

	if prefix := u.Query().Get(paramPrefix); prefix != "" {
		opts = append(opts, remote.WithPrefix(prefix))
	}

	if retry := u.Query().Get(paramMaxRetryTimes); retry != "" {
		opts = append(opts, remote.WithRetry(format.MustParseStrInt(retry)))
	}

	if maxActive := u.Query().Get(paramMaxActive); maxActive != "" {
		opts = append(opts, remote.WithMaxActive(format.MustParseStrInt(maxActive)))
	}

	if maxIdle := u.Query().Get(paramMaxIdle); maxIdle != "" {
		opts = append(opts, remote.WithMaxIdle(format.MustParseStrInt(maxIdle)))
	}

	if idleTimeout := u.Query().Get(paramIdleTimeout); idleTimeout != "" {
		opts = append(opts, remote.WithIdleTimeout(seconds(idleTimeout)))
	}

	if dailTimeout := u.Query().Get(paramDailTimeout); dailTimeout != "" {
		opts = append(opts, remote.WithDailTimeout(seconds(dailTimeout)))
	}

	if readTimeout := u.Query().Get(paramReadTimeout); readTimeout != "" {
		opts = append(opts, remote.WithReadTimeout(seconds(readTimeout)))
	}

	if writeTimeout := u.Query().Get(paramWriteTimeout); writeTimeout != "" {
		opts = append(opts, remote.WithWriteTimeout(seconds(writeTimeout)))
	}

	return NewKVStorage(remote.NewRedisKV(opts...)), nil
}

func seconds(value string) time.Duration {
	return time.Second * time.Duration(format.MustParseStrInt64(value))
}
