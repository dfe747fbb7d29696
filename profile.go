package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"
)

const (
	timeFormat = "20060102_150405"

	// full goroutine stacks, the format of an unrecovered panic.
	goroutineDebugLevel = 2

	memProfileRate = 4096
)

// Profiler records cpu, heap and mutex profiles into dataDir between StartProfiler and Stop.
type Profiler struct {
	dataDir string
	closers []func()
}

func StartProfiler(dataDir string) *Profiler {
	p := &Profiler{dataDir: dataDir}
	p.startCpu()
	p.startLookup("heap", func() func() {
		old := runtime.MemProfileRate
		runtime.MemProfileRate = memProfileRate
		return func() { runtime.MemProfileRate = old }
	})
	p.startLookup("mutex", func() func() {
		runtime.SetMutexProfileFraction(1)
		return func() { runtime.SetMutexProfileFraction(0) }
	})
	return p
}

// Stop writes the profiles. p must not be used afterwards.
func (p *Profiler) Stop() {
	for _, closer := range p.closers {
		closer()
	}
	p.closers = nil
}

func (p *Profiler) startCpu() {
	f, err := os.Create(dumpFile(p.dataDir, "cpu", "pprof"))
	if err != nil {
		glog.Errorf("pprof: could not create cpu profile: %v", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		glog.Errorf("pprof: could not start cpu profile: %v", err)
		f.Close()
		return
	}
	glog.Infof("pprof: cpu profiling enabled, %s", f.Name())
	p.closers = append(p.closers, func() {
		pprof.StopCPUProfile()
		f.Close()
		glog.Infof("pprof: cpu profiling disabled, %s", f.Name())
	})
}

// startLookup enables the runtime profile `name` with enable, whose result restores the rate.
func (p *Profiler) startLookup(name string, enable func() (restore func())) {
	f, err := os.Create(dumpFile(p.dataDir, name, "pprof"))
	if err != nil {
		glog.Errorf("pprof: could not create %s profile: %v", name, err)
		return
	}
	restore := enable()
	glog.Infof("pprof: %s profiling enabled, %s", name, f.Name())
	p.closers = append(p.closers, func() {
		if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
			glog.Errorf("pprof: write %s profile error: %v", name, err)
		}
		f.Close()
		restore()
		glog.Infof("pprof: %s profiling disabled, %s", name, f.Name())
	})
}

func dumpGoroutines(dataDir string) {
	fn := dumpFile(dataDir, "goroutines", "dump")
	glog.Infof("Got dump goroutine signal, dumping goroutine profile to %s", fn)
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("Failed to dump goroutine profile, error: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, goroutineDebugLevel); err != nil {
		glog.Errorf("Failed to write goroutine profile to %s, error: %v", fn, err)
	}
}

func dumpFile(dir, kind, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.%s", kind, time.Now().Format(timeFormat), ext))
}
