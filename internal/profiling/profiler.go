// Package profiling captures CPU, heap, goroutine, and trace profiles for a
// single CLI invocation.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options selects which profiles to write. Empty paths are skipped.
type Options struct {
	CPUPath       string
	HeapPath      string
	GoroutinePath string
	TracePath     string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPUPath != "" || o.HeapPath != "" || o.GoroutinePath != "" || o.TracePath != ""
}

// Profiler holds the profiles started by Start until Stop.
type Profiler struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. Snapshot profiles
// (heap, goroutine) are written by Stop.
func Start(opts Options) (*Profiler, error) {
	p := &Profiler{opts: opts}

	if opts.CPUPath != "" {
		f, err := os.Create(opts.CPUPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		p.cpuFile = f
	}

	if opts.TracePath != "" {
		f, err := os.Create(opts.TracePath)
		if err != nil {
			p.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			p.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		p.traceFile = f
	}

	return p, nil
}

// Stop ends running profiles and writes the snapshot profiles.
func (p *Profiler) Stop() error {
	p.stopCPU()
	if p.traceFile != nil {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}

	var errs []error
	if p.opts.HeapPath != "" {
		runtime.GC()
		errs = append(errs, writeProfile("heap", p.opts.HeapPath, 0))
	}
	if p.opts.GoroutinePath != "" {
		errs = append(errs, writeProfile("goroutine", p.opts.GoroutinePath, 1))
	}
	return errors.Join(errs...)
}

func (p *Profiler) stopCPU() {
	if p.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = p.cpuFile.Close()
	p.cpuFile = nil
}

func writeProfile(name, path string, debug int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(name).WriteTo(f, debug); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
