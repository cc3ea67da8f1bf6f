// Package telemetry tracks engine activity: per-stage execution
// counters, LLM token usage and estimated cost, and search/tool
// events. Counters are mirrored into prometheus collectors so the API
// server can expose them on /metrics.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config controls telemetry behaviour.
type Config struct {
	Enabled       bool    `mapstructure:"enabled"`
	CostTracking  bool    `mapstructure:"cost_tracking"`
	CostPer1KIn   float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOut  float64 `mapstructure:"cost_per_1k_output"`
	PeriodicLogs  bool    `mapstructure:"periodic_logs"`
	LogIntervalMS int     `mapstructure:"log_interval_ms"`
}

// Telemetry provides monitoring and cost tracking for the engines.
type Telemetry struct {
	config Config
	logger *log.Logger

	mu              sync.RWMutex
	stageExecutions map[string]int64
	stageFailures   map[string]int64
	llmRequests     map[string]int64
	llmTokens       map[string]int64
	searchRequests  map[string]int64
	factsExtracted  int64
	totalCost       float64

	promStages  *prometheus.CounterVec
	promTokens  *prometheus.CounterVec
	promFacts   prometheus.Counter
	promQuality prometheus.Gauge
}

// Metrics is a consistent snapshot of the tracked counters.
type Metrics struct {
	StageExecutions map[string]int64
	StageFailures   map[string]int64
	LLMRequests     map[string]int64
	LLMTokens       map[string]int64
	SearchRequests  map[string]int64
	FactsExtracted  int64
	TotalCost       float64
}

// NewTelemetry creates a telemetry instance and registers its
// prometheus collectors on the default registry.
func NewTelemetry(config Config) *Telemetry {
	t := &Telemetry{
		config:          config,
		logger:          log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		stageExecutions: make(map[string]int64),
		stageFailures:   make(map[string]int64),
		llmRequests:     make(map[string]int64),
		llmTokens:       make(map[string]int64),
		searchRequests:  make(map[string]int64),
		promStages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_stage_executions_total",
			Help: "Engine stage executions, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		promTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_llm_tokens_total",
			Help: "LLM tokens consumed, by model and direction.",
		}, []string{"model", "direction"}),
		promFacts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_facts_extracted_total",
			Help: "Facts extracted across all sessions.",
		}),
		promQuality: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "deepresearch_latest_quality_score",
			Help: "Latest diffusion-loop quality score.",
		}),
	}
	if config.Enabled && config.PeriodicLogs {
		go t.startPeriodicReporting()
	}
	return t
}

// RecordStageEvent records one engine stage execution.
func (t *Telemetry) RecordStageEvent(stage string, success bool, duration time.Duration) {
	if !t.config.Enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	t.promStages.WithLabelValues(stage, outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stageExecutions[stage]++
	if !success {
		t.stageFailures[stage]++
	}
	t.logger.Printf("Stage Event: stage=%s success=%t duration=%v", stage, success, duration)
}

// RecordLLMUsage records token consumption for one completion call.
// Satisfies the provider's usage-recorder hook.
func (t *Telemetry) RecordLLMUsage(model string, promptTokens, completionTokens int) {
	if !t.config.Enabled {
		return
	}
	t.promTokens.WithLabelValues(model, "input").Add(float64(promptTokens))
	t.promTokens.WithLabelValues(model, "output").Add(float64(completionTokens))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.llmRequests[model]++
	t.llmTokens[model] += int64(promptTokens + completionTokens)
	if t.config.CostTracking {
		t.totalCost += float64(promptTokens)/1000.0*t.config.CostPer1KIn +
			float64(completionTokens)/1000.0*t.config.CostPer1KOut
	}
}

// RecordSearchEvent records one search-provider call.
func (t *Telemetry) RecordSearchEvent(provider string, results int, success bool) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.searchRequests[provider]++
	t.logger.Printf("Search Event: provider=%s results=%d success=%t", provider, results, success)
}

// RecordFactsExtracted records facts added to the knowledge base.
func (t *Telemetry) RecordFactsExtracted(count int) {
	if !t.config.Enabled || count <= 0 {
		return
	}
	t.promFacts.Add(float64(count))
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factsExtracted += int64(count)
}

// RecordQualityScore publishes the latest diffusion quality score.
func (t *Telemetry) RecordQualityScore(score float64) {
	if !t.config.Enabled {
		return
	}
	t.promQuality.Set(score)
}

// GetMetrics returns a deep copy of the current counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{
		StageExecutions: make(map[string]int64, len(t.stageExecutions)),
		StageFailures:   make(map[string]int64, len(t.stageFailures)),
		LLMRequests:     make(map[string]int64, len(t.llmRequests)),
		LLMTokens:       make(map[string]int64, len(t.llmTokens)),
		SearchRequests:  make(map[string]int64, len(t.searchRequests)),
		FactsExtracted:  t.factsExtracted,
		TotalCost:       t.totalCost,
	}
	for k, v := range t.stageExecutions {
		m.StageExecutions[k] = v
	}
	for k, v := range t.stageFailures {
		m.StageFailures[k] = v
	}
	for k, v := range t.llmRequests {
		m.LLMRequests[k] = v
	}
	for k, v := range t.llmTokens {
		m.LLMTokens[k] = v
	}
	for k, v := range t.searchRequests {
		m.SearchRequests[k] = v
	}
	return m
}

func (t *Telemetry) startPeriodicReporting() {
	interval := time.Duration(t.config.LogIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		t.logger.Printf("Metrics Snapshot: stages=%d facts=%d cost=$%.4f",
			len(m.StageExecutions), m.FactsExtracted, m.TotalCost)
	}
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	m := t.GetMetrics()
	t.logger.Printf("Final Report: facts=%d cost=$%.4f", m.FactsExtracted, m.TotalCost)
	for model, tokens := range m.LLMTokens {
		t.logger.Printf("  Model %s: %d requests, %d tokens", model, m.LLMRequests[model], tokens)
	}
}
