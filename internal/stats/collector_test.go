package stats

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thejerf/slogassert"
)

func TestCollectorPhases(t *testing.T) {
	c, err := NewCollector(time.Millisecond)
	require.NoError(t, err)

	c.Start("load")
	time.Sleep(10 * time.Millisecond)
	c.Mark("cluster")
	time.Sleep(10 * time.Millisecond)
	r := c.Stop()

	require.NotEmpty(t, r.Samples)
	require.Len(t, r.Phases, 2)
	require.Equal(t, "load", r.Phases[0].Name)
	require.Equal(t, "cluster", r.Phases[1].Name)
	require.Equal(t, "cluster", r.Samples[len(r.Samples)-1].Phase)

	for _, p := range r.Phases {
		require.Positive(t, p.Duration)
		require.GreaterOrEqual(t, p.PeakCPUPercent, p.AvgCPUPercent)
	}
	require.InDelta(t, r.EndTime.Sub(r.StartTime), r.Phases[0].Duration+r.Phases[1].Duration, float64(time.Millisecond))
}

func TestNewCollectorInterval(t *testing.T) {
	_, err := NewCollector(0)
	require.Error(t, err)
}

func TestSummarizeRepeatedPhase(t *testing.T) {
	start := time.Now()
	marks := []mark{
		{phase: "a", at: start},
		{phase: "b", at: start.Add(time.Second)},
		{phase: "a", at: start.Add(3 * time.Second)},
	}
	samples := []Sample{
		{Phase: "a", HeapAlloc: 10, CPUPercent: 10, NumGC: 1},
		{Phase: "b", HeapAlloc: 30, CPUPercent: 50, NumGC: 2},
		{Phase: "a", HeapAlloc: 20, CPUPercent: 30, NumGC: 4},
	}

	phases := summarize(samples, marks, start.Add(4*time.Second))
	require.Equal(t, []PhaseSummary{
		{Name: "a", Duration: 2 * time.Second, Samples: 2, PeakHeapAlloc: 20, PeakCPUPercent: 30, AvgCPUPercent: 20, GCCycles: 3},
		{Name: "b", Duration: 2 * time.Second, Samples: 1, PeakHeapAlloc: 30, PeakCPUPercent: 50, AvgCPUPercent: 50},
	}, phases)
}

func TestReportOutput(t *testing.T) {
	start := time.Now()
	r := Report{
		StartTime: start,
		EndTime:   start.Add(time.Second),
		Interval:  time.Millisecond,
		Phases: []PhaseSummary{
			{Name: "cluster", Duration: time.Second, Samples: 1, PeakHeapAlloc: 2048, PeakProcessRSS: 1 << 20, GCCycles: 2},
		},
	}
	for range 250 {
		r.Samples = append(r.Samples, Sample{Phase: "cluster", HeapAlloc: 2048})
	}

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	require.Contains(t, buf.String(), "2.0 KiB")
	require.Contains(t, buf.String(), "1.0 MiB")
	// header, blank line, phase table, blank line, sample header, samples
	require.Equal(t, 1+1+2+1+1+100, bytes.Count(buf.Bytes(), []byte("\n")))

	name := filepath.Join(t.TempDir(), "stats.txt")
	require.NoError(t, r.SaveToFile(name))
	require.FileExists(t, name)

	handler := slogassert.New(t, slog.LevelInfo, nil)
	slog.New(handler).Info("build finished", "stats", r)
	handler.AssertPrecise(slogassert.LogMessageMatch{
		Message: "build finished",
		Level:   slog.LevelInfo,
		Attrs: map[string]any{
			"stats.total":            time.Second,
			"stats.cluster.peakHeap": "2.0 KiB",
			"stats.cluster.peakRSS":  "1.0 MiB",
			"stats.cluster.gc":       2,
		},
	})
	handler.AssertEmpty()
}
