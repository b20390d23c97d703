package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	processCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cockpit",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised process.",
		},
	)
	processMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cockpit",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the supervised process.",
		},
	)
	processThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cockpit",
			Subsystem: "process",
			Name:      "threads",
			Help:      "Thread count of the supervised process.",
		},
	)
)

// ProcessSample is one CPU/memory reading of the supervised process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SampleFunc reads resource usage for pid.
type SampleFunc func(pid int32) (ProcessSample, error)

// ProcessSampler periodically samples the pid reported by the controller.
type ProcessSampler struct {
	interval time.Duration
	pidFn    func() (int32, bool)
	sample   SampleFunc
	logger   *slog.Logger

	mu   sync.RWMutex
	last ProcessSample
	ok   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessSampler creates a sampler. pidFn returns the current pid, or false
// when the process is not running.
func NewProcessSampler(interval time.Duration, pidFn func() (int32, bool), logger *slog.Logger) *ProcessSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSampler{
		interval: interval,
		pidFn:    pidFn,
		sample:   SampleProcess,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (s *ProcessSampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect()
			}
		}
	}()
}

func (s *ProcessSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Last returns the most recent sample, if the process was running at the time.
func (s *ProcessSampler) Last() (ProcessSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ok
}

func (s *ProcessSampler) collect() {
	pid, running := s.pidFn()
	if !running || pid <= 0 {
		s.mu.Lock()
		s.ok = false
		s.mu.Unlock()
		if regOK.Load() {
			processCPU.Set(0)
			processMemory.Set(0)
			processThreads.Set(0)
		}
		return
	}
	smp, err := s.sample(pid)
	if err != nil {
		s.logger.Debug("Failed to sample process", "pid", pid, "error", err)
		return
	}
	s.mu.Lock()
	s.last, s.ok = smp, true
	s.mu.Unlock()
	if regOK.Load() {
		processCPU.Set(smp.CPUPercent)
		processMemory.Set(float64(smp.MemoryRSS))
		processThreads.Set(float64(smp.NumThreads))
	}
}

// SampleProcess reads CPU, memory and thread counts through gopsutil.
func SampleProcess(pid int32) (ProcessSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	smp := ProcessSample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			smp.NumFDs = n
		}
	}
	return smp, nil
}
