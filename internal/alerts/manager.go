package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Alert Manager
//
// Turns finished reports into alerts for analysts. An alert is raised when
// the composite risk level reaches the configured minimum, and it is:
//   1. Kept in a bounded in-memory history for the dashboard
//   2. Handed to every registered sink (websocket hub, Kafka, webhooks)
//
// A failing sink never blocks the others; its error is logged and returned
// joined with the rest.

// DefaultHistory bounds the recent-alert ring.
const DefaultHistory = 1000

// Alert is the structured notification for one high-risk report.
type Alert struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Severity  models.RiskLevel `json:"severity"`
	Address   string           `json:"address"`
	ReportID  string           `json:"reportId,omitempty"`
	RiskScore float64          `json:"riskScore"`
	Patterns  []string         `json:"patterns"`
	Title     string           `json:"title"`
}

// Sink receives every emitted alert.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Manager handles alert emission and history.
type Manager struct {
	mu         sync.RWMutex
	sinks      []Sink
	recent     []Alert
	maxHistory int
	minLevel   models.RiskLevel
	now        func() time.Time
	logger     *zap.Logger
}

// NewManager creates a manager that alerts at minLevel and above.
// An invalid level falls back to high.
func NewManager(minLevel models.RiskLevel, logger *zap.Logger, sinks ...Sink) *Manager {
	if !minLevel.Valid() {
		minLevel = models.RiskHigh
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sinks:      sinks,
		recent:     make([]Alert, 0),
		maxHistory: DefaultHistory,
		minLevel:   minLevel,
		now:        time.Now,
		logger:     logger.Named("alerts"),
	}
}

// AddSink registers another destination.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
	m.logger.Info("registered alert sink", zap.String("sink", s.Name()))
}

// MinLevel is the lowest risk level that raises an alert.
func (m *Manager) MinLevel() models.RiskLevel { return m.minLevel }

// Notify raises an alert for report when its risk level is high enough.
// It reports whether an alert was emitted.
func (m *Manager) Notify(ctx context.Context, r *analysis.Report) (bool, error) {
	if r == nil {
		return false, nil
	}
	level := r.RiskAssessment.RiskLevel
	if level.Rank() < m.minLevel.Rank() {
		return false, nil
	}

	ids := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		ids[i] = p.PatternID
	}
	title := fmt.Sprintf("%s risk: %s (score %.1f)", strings.ToUpper(string(level)), r.Address, r.RiskAssessment.RiskScore)
	if len(ids) > 0 {
		title += " - " + strings.Join(ids, ", ")
	}

	return true, m.Emit(ctx, Alert{
		Severity:  level,
		Address:   r.Address,
		ReportID:  r.ID,
		RiskScore: r.RiskAssessment.RiskScore,
		Patterns:  ids,
		Title:     title,
	})
}

// Emit records a and fans it out to every sink.
func (m *Manager) Emit(ctx context.Context, a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now().UTC()
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Patterns == nil {
		a.Patterns = []string{}
	}

	m.mu.Lock()
	m.recent = append(m.recent, a)
	if len(m.recent) > m.maxHistory {
		m.recent = m.recent[len(m.recent)-m.maxHistory:]
	}
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Send(ctx, a); err != nil {
			m.logger.Warn("alert delivery failed",
				zap.String("sink", s.Name()),
				zap.String("alert", a.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	m.logger.Info("alert emitted",
		zap.String("id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.String("address", a.Address),
		zap.Float64("riskScore", a.RiskScore))
	return errors.Join(errs...)
}

// Recent returns up to limit alerts, most recent first. limit <= 0 means all.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]Alert, limit)
	last := len(m.recent) - 1
	for i := 0; i < limit; i++ {
		out[i] = m.recent[last-i]
	}
	return out
}

// BySeverity returns stored alerts at or above minimum, oldest first.
func (m *Manager) BySeverity(minimum models.RiskLevel) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Alert
	for _, a := range m.recent {
		if a.Severity.Rank() >= minimum.Rank() {
			out = append(out, a)
		}
	}
	return out
}
