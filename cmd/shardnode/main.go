package main

import (
	"bytes"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/advisor"
	"github.com/infinivision/shardledger/pkg/core"
	"github.com/infinivision/shardledger/pkg/dashboard"
	"github.com/infinivision/shardledger/pkg/id"
	"github.com/infinivision/shardledger/pkg/meta"
	"github.com/infinivision/shardledger/pkg/metrics"
	"github.com/infinivision/shardledger/pkg/server"
	"github.com/infinivision/shardledger/pkg/sign"
	"github.com/infinivision/shardledger/pkg/storage"
	"github.com/infinivision/shardledger/pkg/topology"
	"github.com/infinivision/shardledger/pkg/util"
)

var (
	nodeID          = flag.Uint("id", 0, "Node ID, the machine id of lock ids")
	addr            = flag.String("addr", "127.0.0.1:8080", "Addr: dashboard http server, disabled if empty")
	addrStorage     = flag.String("addr-store", "mem://", "Addr: storage address with protocol, mem://, badger:///path or redis://host:port")
	addrPPROF       = flag.String("addr-pprof", "", "Addr: pprof addr")
	cpu             = flag.Int("cpu", 0, "Limit: schedule threads count")
	idKind          = flag.String("id-kind", id.KindSnowflake, "Lock id generator, mem or snowflake")
	shards          = flag.Int("shards", 4, "Count: genesis shard count, unused if the storage holds a topology")
	validators      = flag.String("validators", "", "Validator public keys in hex, comma separated")
	devValidators   = flag.Int("dev-validators", 4, "Count: validators derived from fixed seeds if no validators given")
	protocolVersion = flag.Uint("protocol-version", uint(topology.DefaultProtocolVersion), "Protocol version of every topology")
	maxHoldEpochs   = flag.Uint64("lock-max-hold-epochs", 0, "Limit: epochs a state lock may be held, 0 uses the default")
	slashingAware   = flag.Bool("slashing-aware", true, "Enable: deal validators with evidence out of the next epoch")
	concurrency     = flag.Int("concurrency", 256, "Count: command queue size factor")
	archiveSize     = flag.Int("archive", 4096, "Count: terminal transactions kept in memory")
	timeoutBlocks   = flag.Uint64("timeout-blocks", 50, "Blocks: default transaction timeout")
	minTimeout      = flag.Uint64("timeout-blocks-min", 1, "Blocks: min transaction timeout")
	maxTimeout      = flag.Uint64("timeout-blocks-max", 1000, "Blocks: max transaction timeout")
	maxRecovery     = flag.Int("recovery-attempts", core.DefaultMaxRecoveryAttempts, "Count: recovery attempts before giving up")
	devBlockMS      = flag.Int("dev-block-interval", 0, "Dev(ms): drive blocks from a local clock, disabled if 0")
	devEpochBlocks  = flag.Uint64("dev-epoch-blocks", 100, "Dev: blocks per epoch of the local block driver")

	// metrics
	prometheusJob             = flag.String("metrics-job", "shardledger", "Prometheus job name")
	prometheusPushgateway     = flag.String("metrics-push-addr", "", "Prometheus pushgateway address")
	prometheusPushIntervalSec = flag.Int("metrics-push-interval", 0, "Prometheus metrics push interval in seconds")

	version = flag.Bool("version", false, "Show version info")
)

func main() {
	flag.Parse()
	if *version && util.PrintVersion() {
		os.Exit(0)
	}

	log.InitLog()

	if *cpu == 0 {
		runtime.GOMAXPROCS(runtime.NumCPU())
	} else {
		runtime.GOMAXPROCS(*cpu)
	}

	if *addrPPROF != "" {
		go func() {
			log.Errorf("start pprof failed, errors:\n%+v",
				http.ListenAndServe(*addrPPROF, nil))
		}()
	}

	metrics.Push(&metrics.MetricConfig{
		PushJob:      *prometheusJob,
		PushAddress:  *prometheusPushgateway,
		PushInterval: time.Second * time.Duration(*prometheusPushIntervalSec),
	})

	store, err := storage.CreateStorage(*addrStorage)
	if err != nil {
		log.Fatalf("init storage failed with %+v", err)
	}

	s, err := server.NewServer(server.Cfg{
		NumShards:       *shards,
		Validators:      parseValidators(),
		ProtocolVersion: uint32(*protocolVersion),
		MaxHoldEpochs:   *maxHoldEpochs,
		Concurrency:     *concurrency,
		SlashingAware:   *slashingAware,
		Storage:         store,
		CoreOptions:     parseCoreOptions(),
	})
	if err != nil {
		log.Fatalf("create shard node failed, %+v", err)
	}

	if err := s.Start(); err != nil {
		log.Fatalf("start shard node failed, %+v", err)
	}

	var d *dashboard.Dashboard
	if *addr != "" {
		d = dashboard.NewDashboard(dashboard.Cfg{Addr: *addr}, s)
		go func() {
			log.Errorf("dashboard stopped, errors:\n%+v", d.Start())
		}()
	}

	if *devBlockMS > 0 {
		go driveBlocks(s, time.Millisecond*time.Duration(*devBlockMS), *devEpochBlocks)
	}

	waitStop(s, d)
}

func waitStop(s *server.Server, d *dashboard.Dashboard) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sc
	if d != nil {
		d.Stop()
	}
	s.Stop()
	log.Infof("exit: signal=<%d>.", sig)
	switch sig {
	case syscall.SIGTERM:
		log.Infof("exit: bye :-).")
		os.Exit(0)
	default:
		log.Infof("exit: bye :-(.")
		os.Exit(1)
	}
}

func parseValidators() []meta.PublicKey {
	var value []meta.PublicKey
	if *validators != "" {
		for _, text := range strings.Split(*validators, ",") {
			var key meta.PublicKey
			if err := key.UnmarshalText([]byte(strings.TrimSpace(text))); err != nil {
				log.Fatalf("parse validator %s failed with %+v", text, err)
			}
			value = append(value, key)
		}
		return value
	}

	for i := 1; i <= *devValidators; i++ {
		signer := sign.NewEd25519SignerFromSeed(bytes.Repeat([]byte{byte(i)}, 32))
		value = append(value, signer.PublicKey())
	}
	log.Warnf("no validators given, %d dev validators with fixed seeds used", len(value))
	return value
}

func parseCoreOptions() []core.Option {
	g, err := id.CreateGenerator(*idKind, uint16(*nodeID))
	if err != nil {
		log.Fatalf("init id generator failed with %+v", err)
	}

	var opts []core.Option
	opts = append(opts, core.WithIDGenerator(g))
	opts = append(opts, core.WithAdvisor(advisor.Noop()))
	opts = append(opts, core.WithArchiveSize(*archiveSize))
	opts = append(opts, core.WithTimeoutBlocks(*timeoutBlocks, *minTimeout, *maxTimeout))
	opts = append(opts, core.WithMaxRecoveryAttempts(*maxRecovery))
	return opts
}

// driveBlocks stands in for a consensus engine: one block per interval and
// an epoch transition every epochBlocks blocks
func driveBlocks(s *server.Server, interval time.Duration, epochBlocks uint64) {
	log.Infof("dev block driver started, interval %s, %d blocks per epoch", interval, epochBlocks)

	height := s.Stats().Height
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		height++
		block := height
		s.AdvanceBlock(block, func(aborted []meta.TransactionID, err error) {
			if err != nil {
				log.Errorf("advance block %d failed with %+v", block, err)
			} else if len(aborted) > 0 {
				log.Infof("block %d aborted %d transactions", block, len(aborted))
			}
		})

		if epochBlocks > 0 && height%epochBlocks == 0 {
			s.AdvanceEpoch(nil, func(_ *meta.ShardRegistry, err error) {
				if err != nil {
					log.Errorf("advance epoch failed with %+v", err)
				}
			})
		}
	}
}
