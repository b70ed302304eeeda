package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"litepage/pkg/disk"
	"litepage/pkg/primitives"

	"github.com/dustin/go-humanize"
)

// BenchmarkResult captures timing statistics for one scenario.
type BenchmarkResult struct {
	Scenario       string        `json:"scenario"`
	Iterations     int           `json:"iterations"`
	TotalDuration  time.Duration `json:"total_duration_ns"`
	AvgDuration    time.Duration `json:"avg_duration_ns"`
	MinDuration    time.Duration `json:"min_duration_ns"`
	MaxDuration    time.Duration `json:"max_duration_ns"`
	MedianDuration time.Duration `json:"median_duration_ns"`
	P95Duration    time.Duration `json:"p95_duration_ns"`
	P99Duration    time.Duration `json:"p99_duration_ns"`
	OpsPerSecond   float64       `json:"ops_per_second"`
	Concurrency    int           `json:"concurrency"`
	SuccessCount   int           `json:"success_count"`
	ErrorCount     int           `json:"error_count"`
	ErrorSamples   []string      `json:"error_samples"`
	CacheHits      int64         `json:"cache_hits"`
	CacheMisses    int64         `json:"cache_misses"`
	Timestamp      time.Time     `json:"timestamp"`
}

// BenchmarkReport aggregates every scenario of one run.
type BenchmarkReport struct {
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	TotalDuration time.Duration     `json:"total_duration"`
	Results       []BenchmarkResult `json:"results"`
	DataPath      string            `json:"data_path"`
	PageSize      int               `json:"page_size"`
	Pages         int               `json:"pages"`
	CacheSize     int               `json:"cache_size"`
	Encrypted     bool              `json:"encrypted"`
}

// Settings are read from the environment.
type Settings struct {
	OutputDir   string
	DataPath    string
	Iterations  int
	Concurrency int
	Pages       int
	CacheSize   int
	Password    string
}

func envInt(name string, fallback int) int {
	v := fallback
	if s := os.Getenv(name); s != "" {
		_, _ = fmt.Sscanf(s, "%d", &v)
	}
	return v
}

func loadSettings() Settings {
	s := Settings{
		OutputDir:   filepath.Clean(os.Getenv("BENCHMARK_OUTPUT")),
		DataPath:    os.Getenv("DATA_PATH"),
		Iterations:  envInt("BENCHMARK_ITERATIONS", 10000),
		Concurrency: envInt("BENCHMARK_CONCURRENCY", 8),
		Pages:       envInt("BENCHMARK_PAGES", 4096),
		CacheSize:   envInt("BENCHMARK_CACHE_PAGES", 512),
		Password:    os.Getenv("DB_PASSWORD"),
	}
	if s.OutputDir == "." {
		s.OutputDir = "./benchmark-results"
	}
	if s.DataPath == "" {
		s.DataPath = filepath.Join(os.TempDir(), "litepage-bench", "bench.db")
	}
	// worker w runs iterations w, w+c, ...; with Pages a multiple of c two
	// workers never hold the same page writable
	s.Concurrency = max(s.Concurrency, 1)
	s.Pages = max(s.Pages, s.Concurrency)
	s.Pages += (s.Concurrency - s.Pages%s.Concurrency) % s.Concurrency
	return s
}

// main runs the page I/O scenarios against a fresh pair of files and writes
// a JSON report.
//
// Environment variables:
//   - BENCHMARK_OUTPUT: directory for reports (default: ./benchmark-results)
//   - BENCHMARK_ITERATIONS: operations per scenario (default: 10000)
//   - BENCHMARK_CONCURRENCY: parallel goroutines (default: 8)
//   - BENCHMARK_PAGES: pages in the data file (default: 4096)
//   - BENCHMARK_CACHE_PAGES: cache capacity in pages (default: 512)
//   - DATA_PATH: data file to create (default: a temp directory)
//   - DB_PASSWORD: encrypts the files when set
func main() {
	s := loadSettings()

	_ = os.MkdirAll(s.OutputDir, 0o750)              // #nosec G703
	_ = os.MkdirAll(filepath.Dir(s.DataPath), 0o750) // #nosec G703
	_ = os.Remove(s.DataPath)
	_ = os.Remove(s.DataPath + "-log")
	_ = os.Remove(s.DataPath + disk.SaltSuffix)

	cfg := disk.DefaultConfig(s.DataPath)
	cfg.CacheSize = s.CacheSize
	cfg.MaxStreams = s.Concurrency + 1
	cfg.Password = s.Password

	svc, err := disk.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open page files: %v", err)
	}
	defer svc.Close()

	log.Printf("Starting benchmark suite...")
	log.Printf("Data file: %s, pages: %d, cache: %d pages", s.DataPath, s.Pages, s.CacheSize) // #nosec G706
	log.Printf("Iterations: %d, Concurrency: %d", s.Iterations, s.Concurrency)

	if err := setupBenchmarkData(svc, s.Pages); err != nil {
		log.Fatalf("Failed to setup benchmark data: %v", err)
	}

	report := BenchmarkReport{
		StartTime: time.Now(),
		DataPath:  s.DataPath,
		PageSize:  cfg.PageSize,
		Pages:     s.Pages,
		CacheSize: s.CacheSize,
		Encrypted: s.Password != "",
	}

	hot := max(1, s.CacheSize/2)
	benchmarks := []struct {
		name       string
		op         Operation
		sequential bool
	}{
		{"Hot read", readOp(svc, func(int) int { return rand.IntN(hot) }), false},
		{"Random read", readOp(svc, func(int) int { return rand.IntN(s.Pages) }), false},
		{"Writable commit", commitOp(svc, s.Pages), false},
		{"Commit and flush", flushOp(svc, s.Pages), true},
	}

	for _, bench := range benchmarks {
		log.Printf("%s", "\n"+strings.Repeat("=", 80))
		log.Printf("TEST: %s", bench.name)
		log.Printf("%s", strings.Repeat("=", 80))

		log.Printf("→ Running sequential test (%d iterations)...", s.Iterations)
		seq := runBenchmark(svc, bench.name, bench.op, s.Iterations, 1)
		report.Results = append(report.Results, seq)
		printBenchmarkResult(seq)

		if !bench.sequential && s.Concurrency > 1 {
			log.Printf("")
			log.Printf("→ Running concurrent test (%d goroutines, %d iterations)...", s.Concurrency, s.Iterations)
			conc := runBenchmark(svc, bench.name+" (Concurrent)", bench.op, s.Iterations, s.Concurrency)
			report.Results = append(report.Results, conc)
			printBenchmarkResult(conc)
		}
	}

	report.EndTime = time.Now()
	report.TotalDuration = report.EndTime.Sub(report.StartTime)

	timestamp := time.Now().Format("20060102_150405")
	jsonFile := fmt.Sprintf("%s/benchmark_report_%s.json", s.OutputDir, timestamp)

	log.Printf("%s", "\n"+strings.Repeat("=", 80))
	log.Printf("BENCHMARK SUITE COMPLETE")
	log.Printf("%s", strings.Repeat("=", 80))
	log.Printf("    Total Duration:     %s", formatDuration(report.TotalDuration))
	log.Printf("    Tests Run:          %d", len(report.Results))

	saveJSONReport(report, jsonFile)
}

// setupBenchmarkData fills the data file with pages tagged by their index.
func setupBenchmarkData(svc *disk.Service, pages int) error {
	log.Println("Setting up benchmark data...")

	ctx := context.Background()
	r, err := svc.GetReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := svc.GetWriter(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	pageSize := svc.Config().PageSize
	for i := 0; i < pages; i++ {
		buf, err := r.ReadPage(primitives.PositionOf(primitives.PageIndex(i), pageSize), true, primitives.Data)
		if err != nil {
			return fmt.Errorf("failed to load page %d: %w", i, err)
		}
		buf.Full().Fill(byte(i))
		svc.Cache().Commit(buf)

		// flush in batches so the cache can evict clean pages
		if (i+1)%256 == 0 {
			if _, err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush: %w", err)
			}
		}
	}
	if _, err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	log.Printf("  %s pages written", humanize.Comma(int64(pages)))
	return nil
}

// Operation performs iteration i of a scenario.
type Operation func(i int) error

func readOp(svc *disk.Service, pick func(i int) int) Operation {
	pageSize := svc.Config().PageSize
	return func(i int) error {
		r, err := svc.GetReader(context.Background())
		if err != nil {
			return err
		}
		defer r.Close()

		buf, err := r.ReadPage(primitives.PositionOf(primitives.PageIndex(pick(i)), pageSize), false, primitives.Data)
		if err != nil {
			return err
		}
		svc.Cache().Release(buf)
		return nil
	}
}

func commitOp(svc *disk.Service, pages int) Operation {
	pageSize := svc.Config().PageSize
	return func(i int) error {
		r, err := svc.GetReader(context.Background())
		if err != nil {
			return err
		}
		defer r.Close()

		buf, err := r.ReadPage(primitives.PositionOf(primitives.PageIndex(i%pages), pageSize), true, primitives.Data)
		if err != nil {
			return err
		}
		if err := buf.Full().PutUint64(0, uint64(i)); err != nil {
			svc.Cache().Discard(buf)
			return err
		}
		svc.Cache().Commit(buf)
		return nil
	}
}

func flushOp(svc *disk.Service, pages int) Operation {
	commit := commitOp(svc, pages)
	return func(i int) error {
		if err := commit(i); err != nil {
			return err
		}
		w, err := svc.GetWriter(context.Background())
		if err != nil {
			return err
		}
		defer w.Close()

		_, err = w.Flush()
		return err
	}
}

// runBenchmark executes op iterations times on concurrent goroutines and
// computes latency percentiles and throughput. Iterations are striped across
// goroutines so that i and i+k*concurrent always run on the same one.
func runBenchmark(svc *disk.Service, scenario string, op Operation, iterations, concurrent int) BenchmarkResult {
	durations := make([]time.Duration, 0, iterations)
	var mu sync.Mutex
	var wg sync.WaitGroup

	successCount := 0
	errorCount := 0
	errorSamples := make([]string, 0, 5)
	before := svc.Cache().Stats()
	startTime := time.Now()

	for w := range concurrent {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < iterations; i += concurrent {
				opStart := time.Now()
				err := op(i)
				duration := time.Since(opStart)

				mu.Lock()
				durations = append(durations, duration)
				if err != nil {
					errorCount++
					if len(errorSamples) < 5 {
						errorSamples = append(errorSamples, err.Error())
					}
				} else {
					successCount++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	totalDuration := time.Since(startTime)
	after := svc.Cache().Stats()

	result := summarize(durations, totalDuration)
	result.Scenario = scenario
	result.Iterations = iterations
	result.Concurrency = concurrent
	result.SuccessCount = successCount
	result.ErrorCount = errorCount
	result.ErrorSamples = errorSamples
	result.CacheHits = after.Hits - before.Hits
	result.CacheMisses = after.Misses - before.Misses
	result.Timestamp = time.Now()
	return result
}

// summarize computes the timing fields of a result from raw durations.
func summarize(durations []time.Duration, total time.Duration) BenchmarkResult {
	if len(durations) == 0 {
		return BenchmarkResult{TotalDuration: total}
	}
	slices.Sort(durations)

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	n := len(durations)
	return BenchmarkResult{
		TotalDuration:  total,
		AvgDuration:    sum / time.Duration(n),
		MinDuration:    durations[0],
		MaxDuration:    durations[n-1],
		MedianDuration: durations[n/2],
		P95Duration:    durations[int(float64(n)*0.95)],
		P99Duration:    durations[int(float64(n)*0.99)],
		OpsPerSecond:   float64(n) / total.Seconds(),
	}
}

// formatDuration formats a duration with a unit suited to its size.
// Examples: 1.23ms, 456.78µs, 12.34s
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

func printBenchmarkResult(result BenchmarkResult) {
	successRate := float64(result.SuccessCount) / float64(result.Iterations) * 100

	log.Printf("  ┌─ Results")
	log.Printf("  │  Total Time:        %s", formatDuration(result.TotalDuration))
	log.Printf("  │  Avg per Op:        %s", formatDuration(result.AvgDuration))
	log.Printf("  │  Min / Max:         %s / %s", formatDuration(result.MinDuration), formatDuration(result.MaxDuration))
	log.Printf("  │  Median (P50):      %s", formatDuration(result.MedianDuration))
	log.Printf("  │  P95:               %s", formatDuration(result.P95Duration))
	log.Printf("  │  P99:               %s", formatDuration(result.P99Duration))
	log.Printf("  │  Throughput:        %s ops/sec", humanize.Comma(int64(result.OpsPerSecond)))
	log.Printf("  │  Cache hit/miss:    %s / %s", humanize.Comma(result.CacheHits), humanize.Comma(result.CacheMisses))
	log.Printf("  │  Success Rate:      %.1f%% (%d/%d)", successRate, result.SuccessCount, result.Iterations)

	if result.ErrorCount > 0 && len(result.ErrorSamples) > 0 {
		log.Printf("  │")
		log.Printf("  │  ⚠ Errors detected (%d failures):", result.ErrorCount)
		for i, errMsg := range result.ErrorSamples {
			if i >= 3 {
				break
			}
			log.Printf("  │     %s", strings.NewReplacer("\n", " ", "\r", " ").Replace(errMsg)) // #nosec G706
		}
	}

	log.Printf("  └─")
}

func saveJSONReport(report BenchmarkReport, filename string) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("Error marshaling report: %v", err)
		return
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil { // #nosec G703
		log.Printf("Error writing JSON report: %v", err)
		return
	}

	log.Printf("JSON report saved: %s", filename) // #nosec G706
}
