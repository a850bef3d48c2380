package core

import (
	"github.com/infinivision/shardledger/pkg/meta"
)

type eventType int

var (
	registerTx       = eventType(0)
	registerTxFailed = eventType(1)
	voteTx           = eventType(2)
	voteTxFailed     = eventType(3)
	commitTx         = eventType(4)
	finalizeTx       = eventType(5)
	finalizeTxFailed = eventType(6)
	abortTx          = eventType(7)
	recoverTx        = eventType(8)
	recoverTxFailed  = eventType(9)
	completeTx       = eventType(10)
	evidenceFound    = eventType(11)
)

type event struct {
	eventType eventType
	data      interface{}
}

type abortEvent struct {
	snapshot meta.CoordinatorStateSnapshot
}

type failedEvent struct {
	shard meta.ShardID
	err   error
}

type eventListener interface {
	OnEvent(e event)
}

func (m *CoordinatorManager) initEvent() {
	m.eventListeners = make([]eventListener, 0)
	m.eventListeners = append(m.eventListeners, &metricsListener{m: m})
}

func (m *CoordinatorManager) publishEvent(e event) {
	for _, lister := range m.eventListeners {
		lister.OnEvent(e)
	}
}
