package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// schemaSQL is compiled into the binary so InitSchema works from any
// working directory, including the container runtime image.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a report id does not exist.
var ErrNotFound = errors.New("report not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ReportSummary is one row of a report listing.
type ReportSummary struct {
	ID           string           `json:"id"`
	Address      string           `json:"address"`
	Language     string           `json:"language"`
	RiskScore    float64          `json:"riskScore"`
	RiskLevel    models.RiskLevel `json:"riskLevel"`
	PatternCount int              `json:"patternCount"`
	AnomalyCount int              `json:"anomalyCount"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger = logger.Named("db")
	logger.Info("connected to PostgreSQL report store")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.logger.Info("report schema initialized")
	return nil
}

// SaveReport stores a report, replacing any earlier row with the same id.
func (s *PostgresStore) SaveReport(ctx context.Context, r *analysis.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertReportSQL = `
		INSERT INTO reports (id, address, language, risk_score, risk_level, pattern_count, anomaly_count, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET risk_score = EXCLUDED.risk_score, risk_level = EXCLUDED.risk_level,
		    pattern_count = EXCLUDED.pattern_count, anomaly_count = EXCLUDED.anomaly_count,
		    report = EXCLUDED.report;
	`
	_, err = tx.Exec(ctx, insertReportSQL,
		r.ID,
		r.Address,
		r.Language,
		r.RiskAssessment.RiskScore,
		string(r.RiskAssessment.RiskLevel),
		len(r.Patterns),
		len(r.Anomalies),
		body,
		r.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Debug("report saved", zap.String("id", r.ID), zap.String("address", r.Address))
	return nil
}

// GetReport loads one report by id.
func (s *PostgresStore) GetReport(ctx context.Context, id string) (*analysis.Report, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM reports WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query report %s: %w", id, err)
	}

	var r analysis.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &r, nil
}

// ListReports returns the newest reports, optionally for one address.
func (s *PostgresStore) ListReports(ctx context.Context, address string, limit int) ([]ReportSummary, error) {
	limit = clampLimit(limit)

	const listSQL = `
		SELECT id, address, language, risk_score, risk_level, pattern_count, anomaly_count, created_at
		FROM reports
		WHERE ($1 = '' OR address = $1)
		ORDER BY created_at DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, listSQL, models.NormalizeAddress(address), limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := make([]ReportSummary, 0)
	for rows.Next() {
		var r ReportSummary
		var level string
		if err := rows.Scan(&r.ID, &r.Address, &r.Language, &r.RiskScore, &level,
			&r.PatternCount, &r.AnomalyCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		r.RiskLevel = models.RiskLevel(level)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summarize builds the listing row for a report.
func Summarize(r *analysis.Report) ReportSummary {
	return ReportSummary{
		ID:           r.ID,
		Address:      r.Address,
		Language:     r.Language,
		RiskScore:    r.RiskAssessment.RiskScore,
		RiskLevel:    r.RiskAssessment.RiskLevel,
		PatternCount: len(r.Patterns),
		AnomalyCount: len(r.Anomalies),
		CreatedAt:    r.GeneratedAt,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
