// ABOUTME: Adaptive fetch timeout derived from recent chunk latencies
// ABOUTME: Percentile of a bounded sample ring with safety margin and hysteresis
package latency

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/pkg/clock"
)

// Config tunes the estimator
type Config struct {
	// WindowSize is how many recent samples are kept (default: 100)
	WindowSize int

	// RetuneEvery recomputes the timeout after this many new samples (default: 20)
	RetuneEvery int

	// MinSamples is the fewest samples a retune needs (default: 5)
	MinSamples int

	// Percentile of latencies the timeout is based on (default: 95)
	Percentile float64

	// SafetyMargin multiplies the percentile (default: 1.5)
	SafetyMargin float64

	// MinTimeout and MaxTimeout bound the timeout (default: 5s, 30s)
	MinTimeout time.Duration
	MaxTimeout time.Duration

	// DefaultTimeout is used until the first retune and after Reset (default: 10s)
	DefaultTimeout time.Duration

	// Hysteresis is the relative change required to adopt a new timeout (default: 0.10)
	Hysteresis float64

	// RegimeChangeTimeouts consecutive timeouts mark a network regime change (default: 3)
	RegimeChangeTimeouts int

	// Clock stamps samples (default: real time)
	Clock clock.Clock
}

// DefaultConfig returns the stock tuning
func DefaultConfig() Config {
	return Config{
		WindowSize:           100,
		RetuneEvery:          20,
		MinSamples:           5,
		Percentile:           95,
		SafetyMargin:         1.5,
		MinTimeout:           5 * time.Second,
		MaxTimeout:           30 * time.Second,
		DefaultTimeout:       10 * time.Second,
		Hysteresis:           0.10,
		RegimeChangeTimeouts: 3,
	}
}

// Sample is one observed chunk fetch latency
type Sample struct {
	ChunkIndex int
	Latency    time.Duration
	Timestamp  time.Time
}

// Stats summarizes the current window
type Stats struct {
	Count   int
	Mean    time.Duration
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
	Timeout time.Duration
}

// Estimator records latencies and derives the fetch timeout
type Estimator struct {
	mu          sync.Mutex
	config      Config
	logger      *zap.Logger
	samples     []Sample
	next        int
	sinceRetune int
	timeouts    int
	timeout     time.Duration
}

// NewEstimator creates an estimator; zero config fields take defaults
func NewEstimator(config Config, logger *zap.Logger) *Estimator {
	config = withDefaults(config)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Estimator{
		config:  config,
		logger:  logger.Named("latency"),
		samples: make([]Sample, 0, config.WindowSize),
		timeout: config.DefaultTimeout,
	}
}

func withDefaults(c Config) Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.RetuneEvery <= 0 {
		c.RetuneEvery = d.RetuneEvery
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.Percentile <= 0 || c.Percentile > 100 {
		c.Percentile = d.Percentile
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = d.SafetyMargin
	}
	if c.MinTimeout <= 0 {
		c.MinTimeout = d.MinTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = d.MaxTimeout
	}
	if c.MaxTimeout < c.MinTimeout {
		c.MaxTimeout = c.MinTimeout
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.Hysteresis <= 0 {
		c.Hysteresis = d.Hysteresis
	}
	if c.RegimeChangeTimeouts <= 0 {
		c.RegimeChangeTimeouts = d.RegimeChangeTimeouts
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	c.DefaultTimeout = clamp(c.DefaultTimeout, c.MinTimeout, c.MaxTimeout)
	return c
}

// RecordSample adds a latency observation and retunes every RetuneEvery samples
func (e *Estimator) RecordSample(chunkIndex int, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timeouts = 0
	e.addLocked(chunkIndex, latency)
}

// RecordTimeout adds a sample for an attempt that hit the deadline. Enough
// consecutive timeouts are read as a network regime change: the window restarts
// from the timed-out samples and the timeout is derived from them at once.
func (e *Estimator) RecordTimeout(chunkIndex int, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.addLocked(chunkIndex, latency)
	e.timeouts++
	if e.timeouts >= e.config.RegimeChangeTimeouts {
		e.regimeChangeLocked()
	}
}

// regimeChangeLocked keeps only the current timeout streak and adopts its
// percentile without hysteresis
func (e *Estimator) regimeChangeLocked() {
	streak := e.recentLocked(e.timeouts)
	old := e.timeout

	e.samples = append(e.samples[:0], streak...)
	e.next = len(e.samples) % e.config.WindowSize
	e.sinceRetune = 0
	e.timeouts = 0

	latencies := make([]time.Duration, len(streak))
	for i, s := range streak {
		latencies[i] = s.Latency
	}
	p := percentile(latencies, e.config.Percentile)
	e.timeout = clamp(time.Duration(float64(p)*e.config.SafetyMargin), e.config.MinTimeout, e.config.MaxTimeout)

	e.logger.Info("consecutive fetch timeouts, restarting latency window",
		zap.Int("timeouts", len(streak)),
		zap.Duration("old", old),
		zap.Duration("new", e.timeout))
}

// recentLocked returns the newest n samples, oldest first
func (e *Estimator) recentLocked(n int) []Sample {
	if n > len(e.samples) {
		n = len(e.samples)
	}
	out := make([]Sample, n)
	idx := e.next
	for i := n - 1; i >= 0; i-- {
		idx = (idx - 1 + len(e.samples)) % len(e.samples)
		out[i] = e.samples[idx]
	}
	return out
}

func (e *Estimator) addLocked(chunkIndex int, latency time.Duration) {
	s := Sample{ChunkIndex: chunkIndex, Latency: latency, Timestamp: e.config.Clock.Now()}
	if len(e.samples) < e.config.WindowSize {
		e.samples = append(e.samples, s)
	} else {
		e.samples[e.next] = s
	}
	e.next = (e.next + 1) % e.config.WindowSize

	e.sinceRetune++
	if e.sinceRetune >= e.config.RetuneEvery {
		e.sinceRetune = 0
		e.retuneLocked()
	}
}

func (e *Estimator) retuneLocked() {
	if len(e.samples) < e.config.MinSamples {
		return
	}

	p := percentile(e.latenciesLocked(), e.config.Percentile)
	candidate := clamp(time.Duration(float64(p)*e.config.SafetyMargin), e.config.MinTimeout, e.config.MaxTimeout)

	change := math.Abs(float64(candidate-e.timeout)) / float64(e.timeout)
	if change <= e.config.Hysteresis {
		return
	}

	e.logger.Debug("adaptive timeout updated",
		zap.Duration("old", e.timeout),
		zap.Duration("new", candidate),
		zap.Duration("percentile", p),
		zap.Int("samples", len(e.samples)))
	e.timeout = candidate
}

// CurrentTimeout returns the deadline for the next fetch attempt
func (e *Estimator) CurrentTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

// Reset clears samples and restores the default timeout
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Estimator) resetLocked() {
	e.samples = e.samples[:0]
	e.next = 0
	e.sinceRetune = 0
	e.timeouts = 0
	e.timeout = e.config.DefaultTimeout
}

// Stats returns a summary of the current window
func (e *Estimator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{Count: len(e.samples), Timeout: e.timeout}
	if len(e.samples) == 0 {
		return stats
	}

	latencies := e.latenciesLocked()
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	stats.Mean = total / time.Duration(len(latencies))
	stats.P50 = percentile(latencies, 50)
	stats.P95 = percentile(latencies, 95)
	stats.Max = percentile(latencies, 100)
	return stats
}

func (e *Estimator) latenciesLocked() []time.Duration {
	out := make([]time.Duration, len(e.samples))
	for i, s := range e.samples {
		out[i] = s.Latency
	}
	return out
}

// percentile returns the nearest-rank percentile of values
func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
