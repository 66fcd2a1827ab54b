package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/golang/glog"
)

const (
	memProfileRate = 4096
	timeFormat     = "20060102_150405"
)

// profiler writes cpu, heap and trace data to dir between start and stop.
// Toggled with SIGUSR2.
type profiler struct {
	dir     string
	closers []func()
}

func startProfiler(dir string) *profiler {
	p := &profiler{dir: dir}

	p.start("cpu", func(f *os.File) (func(), error) {
		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, err
		}
		return pprof.StopCPUProfile, nil
	})

	p.start("heap", func(f *os.File) (func(), error) {
		old := runtime.MemProfileRate
		runtime.MemProfileRate = memProfileRate
		return func() {
			_ = pprof.Lookup("heap").WriteTo(f, 0)
			runtime.MemProfileRate = old
		}, nil
	})

	p.start("trace", func(f *os.File) (func(), error) {
		if err := trace.Start(f); err != nil {
			return nil, err
		}
		return trace.Stop, nil
	})
	return p
}

func (p *profiler) start(kind string, fn func(f *os.File) (func(), error)) {
	name := p.file(kind, "pprof")
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("pprof: create %s: %v", name, err)
		return
	}
	stop, err := fn(f)
	if err != nil {
		glog.Errorf("pprof: start %s: %v", kind, err)
		_ = f.Close()
		return
	}

	glog.Infof("pprof: %s profiling enabled, %s", kind, name)
	p.closers = append(p.closers, func() {
		stop()
		_ = f.Close()
		glog.Infof("pprof: %s profiling disabled, %s", kind, name)
	})
}

func (p *profiler) stop() {
	for _, c := range p.closers {
		c()
	}
	p.closers = nil
}

func (p *profiler) file(kind, ext string) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s-%s.%s", kind, time.Now().Format(timeFormat), ext))
}

// dumpGoroutines writes stacks of all goroutines into dir, on SIGUSR1.
func dumpGoroutines(dir string) {
	name := filepath.Join(dir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(timeFormat)))
	f, err := os.Create(name)
	if err != nil {
		glog.Errorf("pprof: create %s: %v", name, err)
		return
	}
	defer f.Close()

	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("pprof: write %s: %v", name, err)
		return
	}
	glog.Infof("pprof: goroutines dumped to %s", name)
}
