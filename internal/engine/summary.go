package engine

import (
	"time"

	"omni-trader/internal/models"
	"omni-trader/internal/performance"
	"omni-trader/internal/resilience"
	"omni-trader/internal/security"
	"omni-trader/internal/store"
	"omni-trader/internal/trading"
)

// Summary is the end-of-run report.
type Summary struct {
	StartedAt  time.Time                        `json:"started_at" yaml:"started_at"`
	EndedAt    time.Time                        `json:"ended_at" yaml:"ended_at"`
	Duration   string                           `json:"duration" yaml:"duration"`
	HaltReason string                           `json:"halt_reason" yaml:"halt_reason"`
	HaltError  string                           `json:"halt_error,omitempty" yaml:"halt_error,omitempty"`
	Capital    CapitalSummary                   `json:"capital" yaml:"capital"`
	OpenTrades int                              `json:"open_trades" yaml:"open_trades"`
	Metrics    models.PerformanceMetrics        `json:"metrics" yaml:"metrics"`
	Validation performance.Validation           `json:"validation" yaml:"validation"`
	Catalog    CatalogStatus                    `json:"catalog" yaml:"catalog"`
	Providers  []resilience.CircuitBreakerStats `json:"providers,omitempty" yaml:"providers,omitempty"`
	Recorder   *store.RecorderStats             `json:"recorder,omitempty" yaml:"recorder,omitempty"`
	Runtime    performance.RuntimeStats         `json:"runtime" yaml:"runtime"`

	reason trading.HaltReason
}

// CapitalSummary is the final state of the ledger.
type CapitalSummary struct {
	Total     string `json:"total" yaml:"total"`
	Available string `json:"available" yaml:"available"`
	Allocated string `json:"allocated" yaml:"allocated"`
	Realized  string `json:"realized" yaml:"realized"`
}

// ExitCode is the process exit code for the halt reason.
func (s *Summary) ExitCode() int {
	return s.reason.ExitCode()
}

func (e *Engine) summarize(final models.PerformanceMetrics, reason trading.HaltReason, haltErr error) *Summary {
	snap := e.ledger.Snapshot()
	open, _ := e.book.Counts()
	status := e.Status()
	ended := e.halter.HaltedAt()
	if ended.IsZero() {
		ended = e.now()
	}

	s := &Summary{
		StartedAt:  status.StartedAt,
		EndedAt:    ended,
		Duration:   ended.Sub(status.StartedAt).Round(time.Millisecond).String(),
		HaltReason: string(reason),
		Capital: CapitalSummary{
			Total:     snap.Total.StringFixed(4),
			Available: snap.Available.StringFixed(4),
			Allocated: snap.Allocated.StringFixed(4),
			Realized:  snap.Realized.StringFixed(4),
		},
		OpenTrades: open,
		Metrics:    final,
		Validation: performance.Validate(final, e.cfg.Targets, e.cfg.Risk.MaxDrawdown),
		Catalog:    status.Catalog,
		Providers:  e.Providers(),
		Runtime:    performance.ReadRuntimeStats(),
		reason:     reason,
	}
	if haltErr != nil {
		s.HaltError = security.MaskSensitive(haltErr.Error())
	}
	if e.recorder != nil {
		stats := e.recorder.Stats()
		s.Recorder = &stats
	}
	return s
}
