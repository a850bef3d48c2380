package server

import (
	"sync"

	"github.com/fagongzi/log"
	"github.com/fagongzi/util/task"
	"github.com/infinivision/shardledger/pkg/core"
	"github.com/infinivision/shardledger/pkg/lock"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/metrics"
	"github.com/infinivision/shardledger/pkg/storage"
	"github.com/infinivision/shardledger/pkg/storage/mem"
	"github.com/infinivision/shardledger/pkg/topology"
)

// RegisterRequest a transaction with the state keys it writes
type RegisterRequest struct {
	Transaction   meta.CrossShardTransaction
	Keys          [][]byte
	Height        uint64
	TimeoutHeight uint64
}

// Server a shard ledger node. Chain driver inputs are queued and applied by
// a single event loop, reads go straight to the components.
type Server struct {
	cfg     Cfg
	store   storage.Storage
	binder  *topology.EpochShardBinder
	locks   *lock.CrossShardLockCoordinator
	manager *core.CoordinatorManager
	epochs  *core.EpochBoundaryHandler

	slashedLock sync.RWMutex
	slashed     map[string]struct{}

	runner *task.Runner
	cmds   *task.RingBuffer
}

// NewServer returns a server, the topology and every unfinished
// transaction are loaded from storage if present
func NewServer(cfg Cfg) (*Server, error) {
	cfg.Adjust()

	s := &Server{
		cfg:     cfg,
		store:   cfg.Storage,
		slashed: make(map[string]struct{}),
		runner:  task.NewRunner(),
		cmds:    task.NewRingBuffer(uint64(cfg.Concurrency) * 64),
	}
	if s.store == nil {
		s.store = storage.NewKVStorage(mem.NewKV())
	}

	registry, err := s.loadTopology()
	if err != nil {
		return nil, err
	}

	s.binder, err = topology.NewEpochShardBinder(registry, cfg.ProtocolVersion)
	if err != nil {
		return nil, err
	}

	var lockOpts []lock.Option
	if cfg.MaxHoldEpochs > 0 {
		lockOpts = append(lockOpts, lock.WithMaxHoldEpochs(cfg.MaxHoldEpochs))
	}
	s.locks = lock.NewCrossShardLockCoordinator(lockOpts...)
	s.locks.SyncTopology(registry)

	opts := append([]core.Option{}, cfg.CoreOptions...)
	opts = append(opts, core.WithStorage(s.store), core.WithEvidenceSink(s))
	s.manager, err = core.NewCoordinatorManager(s.binder, s.locks, opts...)
	if err != nil {
		return nil, err
	}
	s.manager.SetEpoch(registry.EpochID)
	s.epochs = core.NewEpochBoundaryHandler(s.manager)

	if err := s.loadEvidence(); err != nil {
		return nil, err
	}
	if err := s.recoverTransactions(); err != nil {
		return nil, err
	}

	s.updateTopologyMetrics(registry)
	return s, nil
}

func (s *Server) loadTopology() (*meta.ShardRegistry, error) {
	registry, err := s.store.LatestRegistry()
	if err != nil {
		return nil, err
	}

	if registry != nil {
		log.Infof("%s: topology loaded, %d shards, root %s",
			meta.TagEpoch(registry.EpochID, "start"),
			registry.Len(),
			registry.Root().Short())
		return registry, nil
	}

	registry, err = topology.BuildGenesisTopology(s.cfg.NumShards, s.cfg.Validators,
		topology.WithProtocolVersion(s.cfg.ProtocolVersion))
	if err != nil {
		return nil, err
	}

	if err := s.store.PutRegistry(registry); err != nil {
		return nil, err
	}

	log.Infof("%s: genesis topology built, %d shards, root %s",
		meta.TagEpoch(registry.EpochID, "start"),
		registry.Len(),
		registry.Root().Short())
	return registry, nil
}

func (s *Server) loadEvidence() error {
	return s.store.LoadEvidence(func(e *meta.ByzantineEvidence) error {
		s.markSlashed(e.Vote.Signer)
		return nil
	})
}

func (s *Server) recoverTransactions() error {
	var snapshots []meta.CoordinatorStateSnapshot
	err := s.store.LoadSnapshots(func(value *meta.CoordinatorStateSnapshot) error {
		snapshots = append(snapshots, *value)
		return nil
	})
	if err != nil {
		return err
	}

	for _, value := range snapshots {
		if err := s.manager.RecoverSnapshot(value, core.CoordinatorCrash); err != nil {
			log.Warnf("%s: recover on start failed with %+v, retried on next block",
				meta.TagTransaction(value.Transaction.ID, "start"),
				err)
		}
	}

	if len(snapshots) > 0 {
		log.Infof("%d unfinished transactions handed to recovery", len(snapshots))
	}
	return nil
}

// Start starts the event loop
func (s *Server) Start() error {
	_, err := s.runner.RunCancelableTask(s.startEventLoop)
	return err
}

// Stop stops the event loop and closes the storage
func (s *Server) Stop() {
	s.cmds.Dispose()
	if err := s.runner.Stop(); err != nil {
		log.Errorf("stop runner failed with %+v", err)
	}
	if err := s.store.Close(); err != nil {
		log.Errorf("close storage failed with %+v", err)
	}
	log.Infof("server stopped")
}

// HandleEvidence marks the signer of the evidence as slashed
func (s *Server) HandleEvidence(e meta.ByzantineEvidence) {
	s.markSlashed(e.Vote.Signer)
}

func (s *Server) markSlashed(key meta.PublicKey) {
	s.slashedLock.Lock()
	s.slashed[string(key)] = struct{}{}
	s.slashedLock.Unlock()
}

// Slashed returns true if evidence against the validator exists
func (s *Server) Slashed(key meta.PublicKey) bool {
	s.slashedLock.RLock()
	defer s.slashedLock.RUnlock()

	_, ok := s.slashed[string(key)]
	return ok
}

// VerifyBlock checks the shard fields of a block header against the current topology
func (s *Server) VerifyBlock(fields meta.BlockShardFields) error {
	return s.binder.VerifyBlock(fields)
}

// Topology returns the current topology
func (s *Server) Topology() *meta.ShardRegistry {
	return s.binder.Current()
}

// PendingTopology returns the staged topology, nil if none
func (s *Server) PendingTopology() *meta.ShardRegistry {
	return s.binder.Pending()
}

// Registry returns the stored topology of the epoch
func (s *Server) Registry(epoch meta.EpochID) (*meta.ShardRegistry, error) {
	return s.store.GetRegistry(epoch)
}

// Transaction returns the snapshot of the transaction
func (s *Server) Transaction(id meta.TransactionID) (meta.CoordinatorStateSnapshot, bool) {
	return s.manager.Transaction(id)
}

// Transactions returns snapshots of every unfinished transaction
func (s *Server) Transactions() []meta.CoordinatorStateSnapshot {
	return s.manager.Transactions()
}

// Evidence returns every stored byzantine evidence
func (s *Server) Evidence() ([]meta.ByzantineEvidence, error) {
	var value []meta.ByzantineEvidence
	err := s.store.LoadEvidence(func(e *meta.ByzantineEvidence) error {
		value = append(value, *e)
		return nil
	})
	return value, err
}

// Locks returns the held state locks by shard
func (s *Server) Locks() map[meta.ShardID][]meta.StateLock {
	value := make(map[meta.ShardID][]meta.StateLock)
	for _, m := range s.locks.Managers() {
		for _, l := range m.Locks() {
			if l.Status.Held() {
				value[m.ShardID()] = append(value[m.ShardID()], l)
			}
		}
	}
	return value
}

// Stats node counters
type Stats struct {
	Epoch        meta.EpochID `json:"epoch"`
	Height       uint64       `json:"height"`
	Shards       int          `json:"shards"`
	Active       int          `json:"active"`
	HeldLocks    int          `json:"held_locks"`
	Evidence     int          `json:"evidence"`
	RegistryRoot string       `json:"registry_root"`
	QueuedInputs uint64       `json:"queued_inputs"`
}

// Stats returns the node counters
func (s *Server) Stats() Stats {
	current := s.binder.Current()
	held := 0
	for _, m := range s.locks.Managers() {
		held += m.HeldCount()
	}

	return Stats{
		Epoch:        current.EpochID,
		Height:       s.manager.Height(),
		Shards:       current.Len(),
		Active:       s.manager.ActiveCount(),
		HeldLocks:    held,
		Evidence:     s.manager.Detector().Len(),
		RegistryRoot: current.RootHex(),
		QueuedInputs: s.cmds.Len(),
	}
}

func (s *Server) updateTopologyMetrics(registry *meta.ShardRegistry) {
	counts := make(map[string]int)
	for _, shard := range registry.Shards() {
		counts[shard.Status.Name()]++
	}
	for _, status := range []meta.ShardStatus{meta.ShardActive, meta.ShardSplitting, meta.ShardMerging, meta.ShardSuspended} {
		metrics.ShardGauge.WithLabelValues(status.Name()).Set(float64(counts[status.Name()]))
	}
	metrics.EpochGauge.Set(float64(registry.EpochID))
}
