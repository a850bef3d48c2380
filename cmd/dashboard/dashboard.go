package main

import (
	"flag"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fagongzi/log"
	"github.com/infinivision/shardledger/pkg/dashboard"
	"github.com/infinivision/shardledger/pkg/storage"
	"github.com/infinivision/shardledger/pkg/util"
)

var (
	addr        = flag.String("addr", "127.0.0.1:8080", "Addr: dashboard api http server")
	addrStorage = flag.String("addr-store", "redis://127.0.0.1:6379", "Addr: storage address with protocol, shared with the node")
	cpu         = flag.Int("cpu", 0, "Limit: schedule threads count")
	ui          = flag.String("ui", "", "The dashboard ui dist dir.")
	uiPrefix    = flag.String("ui-prefix", "/ui", "The dashboard ui prefix path.")
	version     = flag.Bool("version", false, "Show version info")
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

	store, err := storage.CreateStorage(*addrStorage)
	if err != nil {
		log.Fatalf("init storage failed with %+v", err)
	}

	s := dashboard.NewDashboard(dashboard.Cfg{
		Addr:     *addr,
		UI:       *ui,
		UIPrefix: *uiPrefix,
	}, dashboard.NewStorageAPI(store))

	go s.Start()

	waitStop(s, store)
}

func waitStop(s *dashboard.Dashboard, store storage.Storage) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sc
	s.Stop()
	store.Close()
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
