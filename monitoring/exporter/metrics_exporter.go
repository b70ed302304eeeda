package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"litepage/pkg/disk"
	"litepage/pkg/logging"
	"litepage/pkg/primitives"
)

// MetricsCollector records page read latencies and renders them, together
// with cache and stream pool counters, in the Prometheus text format.
type MetricsCollector struct {
	svc           *disk.Service
	readCount     int64
	readDurations []time.Duration
	errorCount    int64
	lastReadTime  time.Time
	mu            sync.RWMutex
}

func NewMetricsCollector(svc *disk.Service) *MetricsCollector {
	return &MetricsCollector{
		svc:           svc,
		readDurations: make([]time.Duration, 0),
		lastReadTime:  time.Now(),
	}
}

func (mc *MetricsCollector) RecordRead(duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.readCount++
	mc.readDurations = append(mc.readDurations, duration)
	mc.lastReadTime = time.Now()

	// Keep only last 1000 durations to avoid memory issues
	if len(mc.readDurations) > 1000 {
		mc.readDurations = mc.readDurations[len(mc.readDurations)-1000:]
	}

	if err != nil {
		mc.errorCount++
	}
}

func (mc *MetricsCollector) GetMetrics() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var totalDuration time.Duration
	for _, d := range mc.readDurations {
		totalDuration += d
	}

	avgDuration := float64(0)
	if len(mc.readDurations) > 0 {
		avgDuration = float64(totalDuration.Microseconds()) / float64(len(mc.readDurations))
	}

	var b strings.Builder
	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(&b, "# HELP litepage_%s %s\n# TYPE litepage_%s %s\nlitepage_%s %v\n\n", name, help, name, kind, name, value)
	}

	metric("probe_reads_total", "counter", "Total number of probe page reads", mc.readCount)
	metric("probe_read_errors_total", "counter", "Total number of failed probe page reads", mc.errorCount)
	metric("probe_read_duration_microseconds", "gauge", "Average probe read duration in microseconds", fmt.Sprintf("%.2f", avgDuration))
	metric("last_probe_timestamp_seconds", "gauge", "Unix timestamp of the last probe read", mc.lastReadTime.Unix())

	st := mc.svc.Cache().Stats()
	metric("cache_hits_total", "counter", "Page requests served from memory", st.Hits)
	metric("cache_misses_total", "counter", "Page requests loaded from disk", st.Misses)
	metric("cache_evictions_total", "counter", "Pages evicted from memory", st.Evictions)
	metric("cache_pages_allocated", "gauge", "Page buffers currently allocated", st.Allocated)
	metric("cache_pages_readable", "gauge", "Readable pages resident in memory", st.Readable)
	metric("cache_pages_writable", "gauge", "Pages held by a writer", st.Writable)
	metric("cache_pages_free", "gauge", "Buffers on the free list", st.Free)

	fmt.Fprintf(&b, "# HELP litepage_streams Open file handles per pool and state\n# TYPE litepage_streams gauge\n")
	for _, p := range mc.svc.PoolStats() {
		fmt.Fprintf(&b, "litepage_streams{pool=%q,state=\"rented\"} %d\n", p.Name, p.Outstanding)
		fmt.Fprintf(&b, "litepage_streams{pool=%q,state=\"idle\"} %d\n", p.Name, p.Idle)
	}
	b.WriteString("\n")

	metric("up", "gauge", "Disk service up status (1 = up, 0 = down)", 1)
	return b.String()
}

// Probe reads the first data page through a fresh reader and records how
// long it took.
func (mc *MetricsCollector) Probe(ctx context.Context) {
	start := time.Now()
	err := func() error {
		r, err := mc.svc.GetReader(ctx)
		if err != nil {
			return err
		}
		defer r.Close()

		buf, err := r.ReadPage(0, false, primitives.Data)
		if err != nil {
			return err
		}
		mc.svc.Cache().Release(buf)
		return nil
	}()
	mc.RecordRead(time.Since(start), err)
	if err != nil {
		logging.Warn("probe read failed", "error", err)
	}
}

func (mc *MetricsCollector) StartProbe(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.Probe(ctx)
			}
		}
	}()
}

func newMux(collector *MetricsCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, collector.GetMetrics())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func main() {
	logging.InitDefault()
	logger := logging.WithComponent("MetricsExporter")

	cfg := disk.DefaultConfig(getenv("DATA_PATH", "/app/data/litepage.db"))
	cfg.Password = os.Getenv("DB_PASSWORD")
	if size, err := strconv.Atoi(getenv("PAGE_SIZE", "8192")); err == nil {
		cfg.PageSize = size
	}
	metricsPort := getenv("METRICS_PORT", "8080")

	svc, err := disk.Open(cfg)
	if err != nil {
		logger.Error("failed to open page files", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	collector := NewMetricsCollector(svc)
	collector.StartProbe(context.Background(), 5*time.Second)

	srv := &http.Server{
		Addr:         ":" + metricsPort,
		Handler:      newMux(collector),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("metrics available", slog.String("url", "http://localhost:"+metricsPort+"/metrics"))
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
