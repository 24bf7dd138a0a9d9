// Package stats samples process resources while an index is being built.
package stats

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a single reading of runtime and process resources.
type Sample struct {
	Timestamp time.Time
	Elapsed   time.Duration
	Phase     string

	HeapAlloc  uint64
	HeapSys    uint64
	Sys        uint64
	NumGC      uint32
	ProcessRSS uint64

	CPUPercent   float64
	SystemCPU    []float64
	NumGoroutine int
}

// PhaseSummary holds peak values over the samples taken during one phase.
type PhaseSummary struct {
	Name           string
	Duration       time.Duration
	Samples        int
	PeakHeapAlloc  uint64
	PeakProcessRSS uint64
	PeakCPUPercent float64
	AvgCPUPercent  float64
	GCCycles       uint32
}

type Report struct {
	StartTime time.Time
	EndTime   time.Time
	Interval  time.Duration
	Samples   []Sample
	Phases    []PhaseSummary
}

// Collector samples resources on a fixed interval until stopped. Samples are
// tagged with the phase set by the last Mark call.
type Collector struct {
	mu      sync.Mutex
	samples []Sample
	phase   string
	marks   []mark

	start    time.Time
	interval time.Duration
	proc     *process.Process

	stop chan struct{}
	done chan struct{}
}

type mark struct {
	phase string
	at    time.Time
}

func NewCollector(interval time.Duration) (*Collector, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %s", interval)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}

	return &Collector{
		samples:  make([]Sample, 0, 256),
		interval: interval,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins sampling in the background under the given phase.
func (c *Collector) Start(phase string) {
	c.start = time.Now()
	c.Mark(phase)

	go c.collect()
}

// Mark starts a new phase, closing the previous one.
func (c *Collector) Mark(phase string) {
	c.mu.Lock()
	c.phase = phase
	c.marks = append(c.marks, mark{phase: phase, at: time.Now()})
	c.mu.Unlock()
}

func (c *Collector) collect() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-c.stop:
			c.sample()
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Sample{
		Timestamp:    time.Now(),
		Elapsed:      time.Since(c.start),
		HeapAlloc:    mem.HeapAlloc,
		HeapSys:      mem.HeapSys,
		Sys:          mem.Sys,
		NumGC:        mem.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
		s.ProcessRSS = info.RSS
	}
	if percent, err := c.proc.CPUPercent(); err == nil {
		s.CPUPercent = percent
	}
	if system, err := cpu.Percent(0, true); err == nil {
		s.SystemCPU = system
	}

	c.mu.Lock()
	s.Phase = c.phase
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

// Stop ends sampling and summarizes every phase. It must be called once,
// after Start.
func (c *Collector) Stop() Report {
	close(c.stop)
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{
		StartTime: c.start,
		EndTime:   time.Now(),
		Interval:  c.interval,
		Samples:   c.samples,
	}
	r.Phases = summarize(c.samples, c.marks, r.EndTime)
	return r
}

func summarize(samples []Sample, marks []mark, end time.Time) []PhaseSummary {
	phases := make([]PhaseSummary, 0, len(marks))
	index := map[string]int{}
	for i, m := range marks {
		until := end
		if i+1 < len(marks) {
			until = marks[i+1].at
		}
		if j, ok := index[m.phase]; ok {
			phases[j].Duration += until.Sub(m.at)
			continue
		}
		index[m.phase] = len(phases)
		phases = append(phases, PhaseSummary{Name: m.phase, Duration: until.Sub(m.at)})
	}

	firstGC := map[string]uint32{}
	for _, s := range samples {
		j, ok := index[s.Phase]
		if !ok {
			continue
		}
		p := &phases[j]
		if p.Samples == 0 {
			firstGC[s.Phase] = s.NumGC
		}
		p.Samples++
		p.PeakHeapAlloc = max(p.PeakHeapAlloc, s.HeapAlloc)
		p.PeakProcessRSS = max(p.PeakProcessRSS, s.ProcessRSS)
		p.PeakCPUPercent = max(p.PeakCPUPercent, s.CPUPercent)
		p.AvgCPUPercent += s.CPUPercent
		p.GCCycles = s.NumGC - firstGC[s.Phase]
	}
	for i := range phases {
		if phases[i].Samples > 0 {
			phases[i].AvgCPUPercent /= float64(phases[i].Samples)
		}
	}
	return phases
}

// LogValue renders one group per phase, so a report can be passed directly
// as a slog attribute.
func (r Report) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r.Phases)+1)
	attrs = append(attrs, slog.Duration("total", r.EndTime.Sub(r.StartTime)))
	for _, p := range r.Phases {
		attrs = append(attrs, slog.Group(p.Name,
			slog.Duration("took", p.Duration),
			slog.String("peakHeap", humanize.IBytes(p.PeakHeapAlloc)),
			slog.String("peakRSS", humanize.IBytes(p.PeakProcessRSS)),
			slog.String("avgCPU", fmt.Sprintf("%.1f%%", p.AvgCPUPercent)),
			slog.Int("gc", int(p.GCCycles)),
		))
	}
	return slog.GroupValue(attrs...)
}

// WriteTo writes a human readable report, downsampling to at most 100
// sample rows.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "build started %s, took %s, sampled every %s\n\n",
		r.StartTime.Format(time.RFC3339), r.EndTime.Sub(r.StartTime), r.Interval)

	fmt.Fprintf(&sb, "%-12s %-12s %-8s %-12s %-12s %-8s %-8s\n",
		"Phase", "Took", "Samples", "Peak heap", "Peak RSS", "Avg CPU", "GC")
	for _, p := range r.Phases {
		fmt.Fprintf(&sb, "%-12s %-12s %-8d %-12s %-12s %-8.1f %-8d\n",
			p.Name, p.Duration.Round(time.Millisecond), p.Samples,
			humanize.IBytes(p.PeakHeapAlloc), humanize.IBytes(p.PeakProcessRSS),
			p.AvgCPUPercent, p.GCCycles)
	}

	const maxRows = 100
	rows := r.Samples
	if len(rows) > maxRows {
		rows = make([]Sample, 0, maxRows)
		step := float64(len(r.Samples)-1) / float64(maxRows-1)
		for i := range maxRows {
			rows = append(rows, r.Samples[int(float64(i)*step)])
		}
	}

	fmt.Fprintf(&sb, "\n%-10s %-12s %-12s %-12s %-8s %-10s\n",
		"Elapsed", "Phase", "Heap", "RSS", "CPU %", "Goroutines")
	for _, s := range rows {
		fmt.Fprintf(&sb, "%-10.1f %-12s %-12s %-12s %-8.1f %-10d\n",
			s.Elapsed.Seconds(), s.Phase,
			humanize.IBytes(s.HeapAlloc), humanize.IBytes(s.ProcessRSS),
			s.CPUPercent, s.NumGoroutine)
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (r Report) SaveToFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	defer f.Close()

	if _, err := r.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}
	return f.Close()
}
