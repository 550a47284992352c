// Package profiler samples runtime and pipeline metrics and reports them
// periodically through the logger.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// CollectorFunc adapts a function to MetricsCollector.
type CollectorFunc func() map[string]float64

// CollectMetrics implements MetricsCollector.
func (f CollectorFunc) CollectMetrics() map[string]float64 { return f() }

// Options configures the profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 2s)
	ReportInterval time.Duration
	// SampleInterval specifies how often collectors are sampled (default: 100ms)
	SampleInterval time.Duration
	// MaxSamples bounds the rolling window of every metric (default: 600)
	MaxSamples int
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Profiler tracks custom metrics and operation timings over rolling windows.
// It is safe for concurrent use.
type Profiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	clock          clock.Clock
	logger         *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started time.Time
	running bool

	collectors []MetricsCollector
	metrics    map[string]*series
	operations map[string]*series
}

// series is a rolling window of samples.
type series struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (s *series) add(v float64, limit int) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.values = append(s.values, v)
	s.sum += v
	if len(s.values) > limit {
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}
	s.count++
}

func (s *series) summary() Summary {
	sum := Summary{Min: s.min, Max: s.max, Samples: len(s.values), Count: s.count}
	if len(s.values) > 0 {
		sum.Avg = s.sum / float64(len(s.values))
	}
	return sum
}

// Summary describes one metric. Min and Max cover every sample ever
// recorded; Avg covers the rolling window.
type Summary struct {
	Avg, Min, Max float64
	Samples       int
	Count         int64
}

// Report is a point-in-time view of the profiler.
type Report struct {
	Uptime     time.Duration
	Goroutines int
	HeapAlloc  uint64
	NumGC      uint32
	Metrics    map[string]Summary
	// Operations are in seconds.
	Operations map[string]Summary
}

// New returns a stopped profiler.
func New(opts Options) *Profiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 600
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Profiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		clock:          opts.Clock,
		logger:         opts.Logger.With(zap.String("component", "profiler")),
		started:        opts.Clock.Now(),
		metrics:        make(map[string]*series),
		operations:     make(map[string]*series),
	}
}

// Start begins sampling and reporting. Calling it on a running profiler is a
// no-op.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.started = p.clock.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(2)
	go p.every(p.sampleInterval, p.sample)
	go p.every(p.reportInterval, p.emit)
}

// Stop halts the background goroutines and emits a final report.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.sample()
	p.emit()
}

func (p *Profiler) every(d time.Duration, fn func()) {
	defer p.wg.Done()
	ticker := p.clock.Ticker(d)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// AddMetricsCollector registers a collector sampled every SampleInterval.
func (p *Profiler) AddMetricsCollector(c MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors = append(p.collectors, c)
}

// RecordMetric records a custom metric value.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(p.metrics, name, value)
}

// StartOperation begins timing an operation and returns the function that
// ends it.
func (p *Profiler) StartOperation(name string) func() {
	start := p.clock.Now()
	return func() {
		took := p.clock.Since(start)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.record(p.operations, name, took.Seconds())
	}
}

func (p *Profiler) record(into map[string]*series, name string, v float64) {
	s, ok := into[name]
	if !ok {
		s = &series{}
		into[name] = s
	}
	s.add(v, p.maxSamples)
}

func (p *Profiler) sample() {
	p.mu.Lock()
	collectors := append([]MetricsCollector(nil), p.collectors...)
	p.mu.Unlock()

	// Collectors may block on their own locks; call them unlocked.
	for _, c := range collectors {
		values := c.CollectMetrics()
		p.mu.Lock()
		for name, v := range values {
			p.record(p.metrics, name, v)
		}
		p.mu.Unlock()
	}
}

// Report returns the current statistics.
func (p *Profiler) Report() Report {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.Lock()
	defer p.mu.Unlock()
	r := Report{
		Uptime:     p.clock.Since(p.started),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
		Metrics:    make(map[string]Summary, len(p.metrics)),
		Operations: make(map[string]Summary, len(p.operations)),
	}
	for name, s := range p.metrics {
		r.Metrics[name] = s.summary()
	}
	for name, s := range p.operations {
		r.Operations[name] = s.summary()
	}
	return r
}

func (p *Profiler) emit() {
	r := p.Report()
	fields := []zap.Field{
		zap.Duration("uptime", r.Uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", r.Goroutines),
		zap.Uint64("heap_alloc", r.HeapAlloc),
		zap.Uint32("gc_cycles", r.NumGC),
	}
	for _, name := range sortedKeys(r.Metrics) {
		fields = append(fields, zap.Float64(name, r.Metrics[name].Avg))
	}
	for _, name := range sortedKeys(r.Operations) {
		op := r.Operations[name]
		fields = append(fields, zap.Duration(name, time.Duration(op.Avg*float64(time.Second))))
	}
	p.logger.Info("status report", fields...)
}

func sortedKeys(m map[string]Summary) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
