package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/interaction"
	"github.com/signalsfoundry/wifi-cw-sim/internal/stats"
)

// TickLog appends one row per interaction tick. Each row summarises the
// flow counters accumulated since the last monitor reset.
type TickLog struct {
	out       *csvFile
	run       Run
	source    flowstats.Source
	warmupEnd func() time.Duration

	windowStart time.Duration
	rows        int
	err         error
}

// NewTickLog creates the log file at path. warmupEnd is consulted on every
// row and may return zero while the run is still warming up.
func NewTickLog(path string, run Run, source flowstats.Source, warmupEnd func() time.Duration) (*TickLog, error) {
	out, err := createCSV(path, LogHeader)
	if err != nil {
		return nil, fmt.Errorf("create log %s: %w", path, err)
	}
	if warmupEnd == nil {
		warmupEnd = func() time.Duration { return 0 }
	}
	return &TickLog{out: out, run: run, source: source, warmupEnd: warmupEnd}, nil
}

// Observe is an interaction.TickObserver. Write errors are kept and
// returned by Close.
func (l *TickLog) Observe(rec interaction.TickRecord) {
	if l.err != nil {
		return
	}
	if rec.Transitioned {
		l.windowStart = rec.SinceFuzz
	}
	s := stats.Summarize(l.source.Snapshot(), stats.SummaryInput{
		Stations:    l.run.Stations,
		Cheaters:    l.run.Cheaters,
		AgentDriven: rec.AgentDriven,
		Duration:    rec.SinceFuzz - l.windowStart,
		WarmupEnd:   l.warmupEnd(),
	})
	row := append(commonColumns(l.run, s), ff(rec.SinceFuzz.Seconds()))
	if err := l.out.w.Write(row); err != nil {
		l.err = err
		return
	}
	l.rows++
}

// Rows returns how many rows were written.
func (l *TickLog) Rows() int {
	return l.rows
}

// Close flushes the file and reports the first write error.
func (l *TickLog) Close() error {
	if err := l.out.Close(); err != nil && l.err == nil {
		l.err = err
	}
	return l.err
}

func sortedFlows(s stats.Summary) []flowstats.FlowID {
	ids := make([]flowstats.FlowID, 0, len(s.PerFlowMbps))
	for id := range s.PerFlowMbps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
