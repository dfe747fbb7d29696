package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/gptmessenger/api"
	"github.com/mqy/gptmessenger/chatstore"
	"github.com/mqy/gptmessenger/node"
	"github.com/mqy/gptmessenger/notify"
	"github.com/mqy/gptmessenger/server"
	"github.com/mqy/gptmessenger/store"
)

// Flags not given on the command line fall back to GPTM_<NAME> environment variables, e.g.
// GPTM_HTTP_ADDR for --http-addr.
const envPrefix = "GPTM_"

var (
	flagAddr         = flag.String("addr", "0.0.0.0:5555", "line protocol address, ip:port")
	flagData         = flag.String("data", "data.txt", "state file")
	flagPidFile      = flag.String("pid-file", "gptmessenger.pid", "pid file")
	flagMaxLineBytes = flag.Int("max-line-bytes", 1<<20, "max request line size in bytes, 0: unlimited")

	flagHttpAddr       = flag.String("http-addr", "", "http address for /metrics and /ws, empty: disabled")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")

	flagSnapshotDb      = flag.String("snapshot-db", "", "bbolt file to mirror state snapshots into, empty: disabled")
	flagSnapshotKeep    = flag.Int("snapshot-keep", 10, "number of snapshots to keep in --snapshot-db")
	flagRestoreSnapshot = flag.Bool("restore-snapshot", false, "load the latest snapshot of --snapshot-db when --data does not exist")

	flagKafkaBrokers = flag.String("kafka-brokers", "", "comma separated kafka brokers for message events, empty: disabled")
	flagKafkaTopic   = flag.String("kafka-topic", "gptmessenger-events", "kafka topic for message events")
	flagKafkaQueue   = flag.Int("kafka-queue", 1024, "max events waiting for kafka, newer events are dropped when full")

	flagPprofDir = flag.String("pprof-dir", "pprof", "dir to save goroutine dumps and profiles")
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(2)
	}
	flag.Parse()
	if err := applyEnv(flag.CommandLine, envPrefix, os.LookupEnv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// NOTE:  os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	var snapshots *store.BoltSink
	if *flagSnapshotDb != "" {
		var err error
		if snapshots, err = store.OpenBoltSink(*flagSnapshotDb, *flagSnapshotKeep); err != nil {
			return errorf("--snapshot-db: %v", err)
		}
		defer snapshots.Close()
	}

	state, err := loadState(*flagData, snapshots, *flagRestoreSnapshot)
	if err != nil {
		return errorf("load state: %v", err)
	}
	glog.Infof("loaded %d users, %d groups, %d dm threads, next message id %d from %s",
		len(state.Users), len(state.Groups), len(state.DMs), state.NextMessageId, *flagData)

	var sink store.ISink = store.NewFileSink(*flagData)
	if snapshots != nil {
		sink = store.NewMultiSink(sink, snapshots)
	}

	var opts []api.Option
	var notifier *notify.KafkaNotifier
	if *flagKafkaBrokers != "" {
		brokers := strings.Split(*flagKafkaBrokers, ",")
		notifier = notify.NewKafkaNotifier(notify.NewKafkaWriter(brokers, *flagKafkaTopic), *flagKafkaQueue)
		opts = append(opts, api.WithNotifier(notifier))
	}

	hub := server.NewHub(api.NewApi(state, sink, opts...), *flagMaxLineBytes)

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)

	conf := &node.Config{
		Addr:     *flagAddr,
		HttpAddr: *flagHttpAddr,
		Hub:      hub,
		Mux:      mux,
	}
	if notifier != nil {
		conf.Notifier = notifier
	}

	standalone := node.NewStandalone(conf)
	if err := standalone.Listen(); err != nil {
		return errorf("%v", err)
	}

	stopNotifyChan := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go standalone.Run(ctx, stopNotifyChan)

	glog.Infof("gptmessenger server is listening %v", standalone.Addr())
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var prof *Profiler
	defer func() {
		if prof != nil {
			prof.Stop()
		}
	}()

	for {
		select {
		case <-stopNotifyChan:
			if err := standalone.Err(); err != nil {
				return errorf("gptmessenger server stopped: %v", err)
			}
			glog.Info("gptmessenger server exited")
			return 0
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(pprofDir)
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				glog.Infof("received signal `%s` stopping", sig.String())
				cancel()
			}
		}
	}
}

// loadState reads the state file. When it does not exist and restore is set, the newest
// snapshot is used instead.
func loadState(path string, snapshots *store.BoltSink, restore bool) (*chatstore.State, error) {
	if restore && snapshots != nil {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			state, err := snapshots.Latest()
			if err == nil {
				glog.Infof("%s does not exist, restored the latest snapshot", path)
				return state, nil
			}
			if !errors.Is(err, store.ErrNoSnapshot) {
				return nil, fmt.Errorf("restore snapshot: %w", err)
			}
		}
	}
	return store.LoadFile(path)
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagHttpAddr != "" {
		if err := validateAddr(*flagHttpAddr); err != nil {
			return errorf("--http-addr: %v", err)
		}
	}
	if *flagData == "" {
		return errorf("--data is required")
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagMaxLineBytes < 0 {
		return errorf("--max-line-bytes must not be negative")
	}
	if *flagSnapshotDb != "" && *flagSnapshotKeep < 1 {
		return errorf("--snapshot-keep must be positive")
	}
	if *flagRestoreSnapshot && *flagSnapshotDb == "" {
		return errorf("--restore-snapshot requires --snapshot-db")
	}
	if *flagKafkaBrokers != "" {
		if *flagKafkaTopic == "" {
			return errorf("--kafka-topic is required with --kafka-brokers")
		}
		if *flagKafkaQueue < 1 {
			return errorf("--kafka-queue must be positive")
		}
	}
	return 0
}

func validateAddr(s string) error {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("error parse IP from host `%s`", host)
	}
	return nil
}

// applyEnv sets every flag of fs that was not given on the command line from the environment
// variable prefix + upper cased name, dashes turned into underscores.
func applyEnv(fs *flag.FlagSet, prefix string, lookup func(string) (string, bool)) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		key := prefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := lookup(key); ok {
			if e := fs.Set(f.Name, v); e != nil {
				err = fmt.Errorf("env %s: %v", key, e)
			}
		}
	})
	return err
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(strings.TrimSpace(string(content)))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
