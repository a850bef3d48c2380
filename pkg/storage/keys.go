package storage

import (
	"encoding/binary"
)

const (
	bucketRegistry = "registry"
	bucketSnapshot = "snapshot"
	bucketArchive  = "archive"
	bucketEvidence = "evidence"
)

func epochKey(epoch uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, epoch)
	return key
}
