// Package report writes run results: the one-row summary CSV, the per-tick
// log CSV and a human readable digest.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/stats"
)

// Run identifies a run in every output row.
type Run struct {
	Agent        string
	DataRateMbps float64
	Distance     float64
	Stations     int
	Cheaters     int
	Seed         uint64
}

// SummaryHeader is the column layout of the summary CSV.
var SummaryHeader = []string{
	"agent", "dataRate", "distance", "nWifi", "nWifiReal", "seed", "warmupEnd",
	"fairness", "latency", "plr", "throughput",
	"cheaterTHR", "cheaterAvgTHR", "normalTHR", "normalAvgTHR", "cheaterNumber",
}

// LogHeader is the column layout of the per-tick log CSV.
var LogHeader = []string{
	"agent", "dataRate", "distance", "nWifi", "nWifiReal", "seed", "warmupEnd",
	"fairness", "latency", "plr", "throughput", "time",
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func createCSV(path string, header []string) (*csvFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &csvFile{f: f, w: w}, nil
}

func (c *csvFile) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}

// WriteSummary writes the header and a single result row to path.
func WriteSummary(path string, run Run, s stats.Summary) error {
	out, err := createCSV(path, SummaryHeader)
	if err != nil {
		return fmt.Errorf("create summary %s: %w", path, err)
	}
	row := append(commonColumns(run, s),
		ff(s.CheaterThroughputMbps),
		ff(s.CheaterAvgThroughputMbps),
		ff(s.NormalThroughputMbps),
		ff(s.NormalAvgThroughputMbps),
		strconv.Itoa(run.Cheaters),
	)
	if err := out.w.Write(row); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func commonColumns(run Run, s stats.Summary) []string {
	return []string{
		run.Agent,
		ff(run.DataRateMbps),
		ff(run.Distance),
		strconv.Itoa(run.Stations),
		strconv.Itoa(s.ActiveFlows),
		strconv.FormatUint(run.Seed, 10),
		ff(s.WarmupEnd.Seconds()),
		ff(s.Fairness),
		ff(s.LatencyPerPacket.Seconds()),
		ff(s.PLR),
		ff(s.ThroughputMbps),
	}
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Print writes a short human readable digest of s.
func Print(w io.Writer, s stats.Summary) {
	fmt.Fprintln(w, "Results:")
	for _, id := range sortedFlows(s) {
		fmt.Fprintf(w, "Flow %d\tThroughput: %.3f Mb/s\n", id, s.PerFlowMbps[id])
	}
	fmt.Fprintln(w)
	if s.AgentDriven {
		fmt.Fprintf(w, "Cheater throughput: %.3f Mb/s\n", s.CheaterThroughputMbps)
		fmt.Fprintf(w, "Normal STA avg throughput: %.3f Mb/s\n", s.NormalAvgThroughputMbps)
	} else {
		fmt.Fprintf(w, "Network avg throughput: %.3f Mb/s\n", s.NormalAvgThroughputMbps)
	}
	fmt.Fprintf(w, "Network throughput: %.3f Mb/s\n", s.ThroughputMbps)
	fmt.Fprintf(w, "Jain's fairness index: %.4f\n", s.Fairness)
	fmt.Fprintf(w, "PLR: %.4f\n", s.PLR)
	fmt.Fprintf(w, "Latency per packet: %v\n", s.LatencyPerPacket.Round(time.Microsecond))
	fmt.Fprintf(w, "Warmup end: %v\n", s.WarmupEnd)
	fmt.Fprintf(w, "Packets tx/rx/lost: %d/%d/%d\n", s.TxPackets, s.RxPackets, s.LostPackets)
}
