package server

import (
	"context"
	"sync"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/core"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/metrics"
	"github.com/infinivision/shardledger/pkg/topology"
)

const (
	cmdUnknown = iota
	cmdRegister
	cmdVote
	cmdFinalize
	cmdAdvanceBlock
	cmdStageEpoch
	cmdCommitEpoch
	cmdAdvanceEpoch
	cmdRecover
)

var (
	cmdPool sync.Pool

	emptyRegister meta.CrossShardTransaction
	emptyVote     meta.PrepareVote
	emptyTx       meta.TransactionID
)

func acquireCMD() *cmd {
	value := cmdPool.Get()
	if value == nil {
		return &cmd{}
	}

	return value.(*cmd)
}

func releaseCMD(value *cmd) {
	value.reset()
	cmdPool.Put(value)
}

type cmd struct {
	cmdType int

	register RegisterRequest
	vote     meta.PrepareVote
	tx       meta.TransactionID
	receipts []meta.CrossShardReceipt
	height   uint64
	changes  []topology.Change
	reason   core.RecoveryReason

	errorCB    func(error)
	decisionCB func(core.Decision, error)
	idsCB      func([]meta.TransactionID, error)
	registryCB func(*meta.ShardRegistry, error)
}

func (c *cmd) reset() {
	c.cmdType = cmdUnknown

	c.register = RegisterRequest{Transaction: emptyRegister}
	c.vote = emptyVote
	c.tx = emptyTx
	c.receipts = nil
	c.height = 0
	c.changes = nil
	c.reason = core.CoordinatorCrash

	c.errorCB = nil
	c.decisionCB = nil
	c.idsCB = nil
	c.registryCB = nil
}

func (c *cmd) name() string {
	switch c.cmdType {
	case cmdRegister:
		return "register"
	case cmdVote:
		return "vote"
	case cmdFinalize:
		return "finalize"
	case cmdAdvanceBlock:
		return "advance_block"
	case cmdStageEpoch:
		return "stage_epoch"
	case cmdCommitEpoch:
		return "commit_epoch"
	case cmdAdvanceEpoch:
		return "advance_epoch"
	case cmdRecover:
		return "recover"
	default:
		return "unknown"
	}
}

func (c *cmd) respError(err error) {
	if c.errorCB != nil {
		c.errorCB(err)
	}
}

func (c *cmd) respDecision(value core.Decision, err error) {
	if c.decisionCB != nil {
		c.decisionCB(value, err)
	}
}

func (c *cmd) respIDs(value []meta.TransactionID, err error) {
	if c.idsCB != nil {
		c.idsCB(value, err)
	}
}

func (c *cmd) respRegistry(value *meta.ShardRegistry, err error) {
	if c.registryCB != nil {
		c.registryCB(value, err)
	}
}

// respond answers a command the loop will never see
func (c *cmd) respond(err error) {
	c.respError(err)
	c.respDecision(core.Decision{}, err)
	c.respIDs(nil, err)
	c.respRegistry(nil, err)
}

func (s *Server) addCMD(c *cmd) {
	if err := s.cmds.Put(c); err != nil {
		c.respond(err)
		releaseCMD(c)
	}
}

// RegisterTransaction queues a transaction registration, the keys are
// routed to their shards through the current topology
func (s *Server) RegisterTransaction(req RegisterRequest, cb func(error)) {
	c := acquireCMD()
	c.cmdType = cmdRegister
	c.register = req
	c.errorCB = cb
	s.addCMD(c)
}

// ReceivePrepareVote queues a prepare vote
func (s *Server) ReceivePrepareVote(vote meta.PrepareVote, cb func(core.Decision, error)) {
	c := acquireCMD()
	c.cmdType = cmdVote
	c.vote = vote
	c.decisionCB = cb
	s.addCMD(c)
}

// FinalizeCommit queues the receipts of a committing transaction
func (s *Server) FinalizeCommit(tx meta.TransactionID, receipts []meta.CrossShardReceipt, cb func(error)) {
	c := acquireCMD()
	c.cmdType = cmdFinalize
	c.tx = tx
	c.receipts = receipts
	c.errorCB = cb
	s.addCMD(c)
}

// AdvanceBlock queues the clock tick of a new block
func (s *Server) AdvanceBlock(height uint64, cb func([]meta.TransactionID, error)) {
	c := acquireCMD()
	c.cmdType = cmdAdvanceBlock
	c.height = height
	c.idsCB = cb
	s.addCMD(c)
}

// StageEpoch queues building and staging the next epoch topology
func (s *Server) StageEpoch(changes []topology.Change, cb func(*meta.ShardRegistry, error)) {
	c := acquireCMD()
	c.cmdType = cmdStageEpoch
	c.changes = changes
	c.registryCB = cb
	s.addCMD(c)
}

// CommitEpoch queues the epoch transition to the staged topology
func (s *Server) CommitEpoch(cb func(*meta.ShardRegistry, error)) {
	c := acquireCMD()
	c.cmdType = cmdCommitEpoch
	c.registryCB = cb
	s.addCMD(c)
}

// AdvanceEpoch queues staging and committing the next epoch in one go
func (s *Server) AdvanceEpoch(changes []topology.Change, cb func(*meta.ShardRegistry, error)) {
	c := acquireCMD()
	c.cmdType = cmdAdvanceEpoch
	c.changes = changes
	c.registryCB = cb
	s.addCMD(c)
}

// RecoverTransaction queues rebuilding a live transaction from its snapshot
func (s *Server) RecoverTransaction(tx meta.TransactionID, reason core.RecoveryReason, cb func(error)) {
	c := acquireCMD()
	c.cmdType = cmdRecover
	c.tx = tx
	c.reason = reason
	c.errorCB = cb
	s.addCMD(c)
}

func (s *Server) startEventLoop(ctx context.Context) {
	log.Infof("start the event loop")

	for {
		select {
		case <-ctx.Done():
			log.Infof("exit event loop")
			return
		default:
		}

		if s.cmds.IsDisposed() {
			log.Infof("exit event loop")
			return
		}

		if !s.handleEvent() {
			time.Sleep(time.Millisecond * 10)
		}
	}
}

// handleEvent applies one queued command, returns false if none is queued
func (s *Server) handleEvent() bool {
	if s.cmds.Len() == 0 {
		return false
	}

	data, err := s.cmds.Get()
	if err != nil {
		return false
	}

	c := data.(*cmd)
	start := time.Now()
	var result error
	switch c.cmdType {
	case cmdRegister:
		result = s.handleRegister(c)
	case cmdVote:
		result = s.handleVote(c)
	case cmdFinalize:
		result = s.handleFinalize(c)
	case cmdAdvanceBlock:
		result = s.handleAdvanceBlock(c)
	case cmdStageEpoch:
		result = s.handleStageEpoch(c)
	case cmdCommitEpoch:
		result = s.handleCommitEpoch(c)
	case cmdAdvanceEpoch:
		result = s.handleAdvanceEpoch(c)
	case cmdRecover:
		result = s.handleRecover(c)
	}

	status := metrics.StatusSucceed
	if result != nil {
		status = metrics.StatusFailed
	}
	metrics.CommandCounter.WithLabelValues(c.name(), status).Inc()
	metrics.CommandDurationHistogram.WithLabelValues(c.name()).Observe(time.Now().Sub(start).Seconds())

	releaseCMD(c)
	return true
}

func (s *Server) handleRegister(c *cmd) error {
	req := c.register
	plan, shards, err := PlanLocks(s.binder, req.Keys)
	if err == nil {
		for _, id := range shards {
			if !req.Transaction.Involves(id) {
				err = meta.Errorf(meta.ErrShardNotInvolved, "key routed to shard %d", id)
				break
			}
		}
	}

	if err == nil {
		err = s.manager.RegisterTransaction(req.Transaction, plan, req.Height, req.TimeoutHeight)
	}

	if err == nil {
		for _, id := range req.Transaction.InvolvedShards {
			if e := s.binder.AddPending(id, req.Transaction.ID); e != nil {
				log.Warnf("%s: queue on shard %d failed with %+v",
					meta.TagTransaction(req.Transaction.ID, "register"),
					id,
					e)
			}
		}
	}

	c.respError(err)
	return err
}

func (s *Server) handleVote(c *cmd) error {
	decision, err := s.manager.ReceivePrepareVote(c.vote)
	c.respDecision(decision, err)
	return err
}

func (s *Server) handleFinalize(c *cmd) error {
	err := s.manager.FinalizeCommit(c.tx, c.receipts)
	if err == nil {
		for _, r := range c.receipts {
			if e := s.binder.CommitShardState(r.ShardID, r.StateRoot, 1); e != nil {
				log.Errorf("%s: commit state of shard %d failed with %+v",
					meta.TagTransaction(c.tx, "finalize"),
					r.ShardID,
					e)
			}
		}

		// the registry root moved, a restarted node must load the same root
		err = s.store.PutRegistry(s.binder.Current())
		if err != nil {
			log.Errorf("%s: save registry failed with %+v",
				meta.TagTransaction(c.tx, "finalize"),
				err)
		}
	}

	c.respError(err)
	return err
}

func (s *Server) handleAdvanceBlock(c *cmd) error {
	aborted, err := s.manager.AdvanceBlock(c.height)
	c.respIDs(aborted, err)
	return err
}

func (s *Server) handleStageEpoch(c *cmd) error {
	next, err := s.stageEpoch(c.changes)
	c.respRegistry(next, err)
	return err
}

func (s *Server) handleCommitEpoch(c *cmd) error {
	next, err := s.commitEpoch()
	c.respRegistry(next, err)
	return err
}

func (s *Server) handleAdvanceEpoch(c *cmd) error {
	next, err := s.stageEpoch(c.changes)
	if err == nil {
		next, err = s.commitEpoch()
	}
	c.respRegistry(next, err)
	return err
}

func (s *Server) stageEpoch(changes []topology.Change) (*meta.ShardRegistry, error) {
	current := s.binder.Current()

	opts := append([]topology.Option{topology.WithProtocolVersion(s.cfg.ProtocolVersion)}, s.cfg.TopologyOptions...)
	if s.cfg.SlashingAware {
		opts = append(opts, topology.WithAssignmentStrategy(topology.NewSlashingAwareStrategy(s.Slashed),
			s.cfg.Validators...))
	}

	next, err := topology.BuildNextEpochTopology(current.EpochID, current, changes, opts...)
	if err == nil {
		err = s.binder.StageTopologyChange(next)
	}
	if err != nil {
		log.Errorf("%s: stage failed with %+v",
			meta.TagEpoch(current.EpochID+1, "stage"),
			err)
		return nil, err
	}

	log.Infof("%s: staged %d shards, root %s",
		meta.TagEpoch(next.EpochID, "stage"),
		next.Len(),
		next.Root().Short())
	return next, nil
}

func (s *Server) commitEpoch() (*meta.ShardRegistry, error) {
	pending := s.binder.Pending()
	if pending == nil {
		return nil, meta.Errorf(meta.ErrNoPendingTopology, "epoch %d", s.binder.EpochID())
	}

	// durable first, a crash before the swap replays the same transition
	if err := s.store.PutRegistry(pending); err != nil {
		return nil, err
	}

	next, err := s.binder.CommitEpochTransition()
	if err != nil {
		return nil, err
	}

	aborted, _ := s.epochs.ForceAbortAtEpochBoundary(next.EpochID)
	aborted = append(aborted, s.epochs.ApplyTopology(s.binder.Previous(), next)...)
	s.updateTopologyMetrics(next)

	log.Infof("%s: committed %d shards, root %s, %d transactions aborted",
		meta.TagEpoch(next.EpochID, "commit"),
		next.Len(),
		next.Root().Short(),
		len(aborted))
	return next, nil
}

func (s *Server) handleRecover(c *cmd) error {
	err := s.manager.Recover(c.tx, c.reason)
	c.respError(err)
	return err
}
