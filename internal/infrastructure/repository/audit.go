package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/database/postgres"
)

// AuditStore is append-only for the pipeline and read-only for everything
// else. Records are never mutated or deleted.
type AuditStore interface {
	Append(ctx context.Context, rec *core.AuditRecord) error
	ListByDocument(ctx context.Context, documentID string) ([]*core.AuditRecord, error)
	// Aggregate sums usage over a window; an empty provider means all.
	Aggregate(ctx context.Context, start, end time.Time, provider string) (*core.UsageAggregate, error)
	StageMetrics(ctx context.Context, documentID string) ([]*core.StageMetric, error)
}

// PostgresAuditStore implements AuditStore on pgx.
type PostgresAuditStore struct {
	pool   *postgres.Pool
	logger *slog.Logger
}

// NewPostgresAuditStore builds the store.
func NewPostgresAuditStore(pool *postgres.Pool, logger *slog.Logger) *PostgresAuditStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditStore{
		pool:   pool,
		logger: logger.With("component", "audit_store"),
	}
}

// Append writes one stage record. IDs and timestamps are filled in when
// the caller left them zero.
func (s *PostgresAuditStore) Append(ctx context.Context, rec *core.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var extracted []byte
	if rec.ExtractedData != nil {
		b, err := json.Marshal(rec.ExtractedData)
		if err != nil {
			return core.NewError(core.KindInternal, "encode extracted_data", err)
		}
		extracted = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_records (
			id, document_id, stage, provider, model, prompt_template_id,
			prompt, raw_response, extracted_data, confidence,
			processing_time_ms, tokens_used, cost_estimate, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.ID, rec.DocumentID, string(rec.Stage), rec.Provider, rec.Model,
		rec.PromptTemplateID, rec.Prompt, rec.RawResponse, extracted, rec.Confidence,
		rec.ProcessingTimeMs, rec.TokensUsed, rec.CostEstimate, rec.CreatedAt,
	)
	if err != nil {
		return core.NewError(core.KindDatabase, "insert audit record", err)
	}
	return nil
}

// ListByDocument returns the chronological stage history of one document.
func (s *PostgresAuditStore) ListByDocument(ctx context.Context, documentID string) ([]*core.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, stage, provider, model, prompt_template_id,
		       prompt, raw_response, extracted_data, confidence,
		       processing_time_ms, tokens_used, cost_estimate, created_at
		FROM audit_records
		WHERE document_id = $1
		ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, core.NewError(core.KindDatabase, "list audit records", err)
	}
	defer rows.Close()

	var records []*core.AuditRecord
	for rows.Next() {
		var (
			rec       core.AuditRecord
			stage     string
			extracted []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.DocumentID, &stage, &rec.Provider, &rec.Model,
			&rec.PromptTemplateID, &rec.Prompt, &rec.RawResponse, &extracted,
			&rec.Confidence, &rec.ProcessingTimeMs, &rec.TokensUsed,
			&rec.CostEstimate, &rec.CreatedAt,
		); err != nil {
			return nil, core.NewError(core.KindDatabase, "scan audit record", err)
		}
		rec.Stage = core.Stage(stage)
		if len(extracted) > 0 {
			if err := json.Unmarshal(extracted, &rec.ExtractedData); err != nil {
				return nil, core.NewError(core.KindDatabase, "decode extracted_data", err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.KindDatabase, "list audit records", err)
	}
	return records, nil
}

// Aggregate sums tokens, cost and processing time over a window, counting
// records per provider.
func (s *PostgresAuditStore) Aggregate(ctx context.Context, start, end time.Time, provider string) (*core.UsageAggregate, error) {
	query := `
		SELECT provider, COUNT(*), COALESCE(SUM(tokens_used),0),
		       COALESCE(SUM(cost_estimate),0), COALESCE(SUM(processing_time_ms),0)
		FROM audit_records
		WHERE created_at >= $1 AND created_at < $2`
	args := []any{start, end}
	if provider != "" {
		query += ` AND provider = $3`
		args = append(args, provider)
	}
	query += ` GROUP BY provider`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.KindDatabase, "aggregate audit records", err)
	}
	defer rows.Close()

	agg := &core.UsageAggregate{CountByProvider: make(map[string]int64)}
	for rows.Next() {
		var (
			prov   string
			count  int64
			tokens int64
			cost   float64
			timeMs int64
		)
		if err := rows.Scan(&prov, &count, &tokens, &cost, &timeMs); err != nil {
			return nil, core.NewError(core.KindDatabase, "scan aggregate", err)
		}
		agg.TotalRecords += count
		agg.TotalTokens += tokens
		agg.TotalCost += cost
		agg.TotalTimeMs += timeMs
		if prov != "" {
			agg.CountByProvider[prov] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.KindDatabase, "aggregate audit records", err)
	}
	return agg, nil
}

// StageMetrics averages time, tokens and confidence per stage of one
// document.
func (s *PostgresAuditStore) StageMetrics(ctx context.Context, documentID string) ([]*core.StageMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage, COUNT(*), AVG(processing_time_ms),
		       COALESCE(SUM(tokens_used),0), AVG(confidence)
		FROM audit_records
		WHERE document_id = $1
		GROUP BY stage`, documentID)
	if err != nil {
		return nil, core.NewError(core.KindDatabase, "stage metrics", err)
	}
	defer rows.Close()

	byStage := make(map[core.Stage]*core.StageMetric)
	for rows.Next() {
		var (
			stage   string
			m       core.StageMetric
			avgConf *float64
		)
		if err := rows.Scan(&stage, &m.Attempts, &m.AvgTimeMs, &m.TotalTokens, &avgConf); err != nil {
			return nil, core.NewError(core.KindDatabase, "scan stage metric", err)
		}
		m.Stage = core.Stage(stage)
		m.AvgConfidence = avgConf
		byStage[m.Stage] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.KindDatabase, "stage metrics", err)
	}

	// Present in canonical stage order.
	var out []*core.StageMetric
	for _, stage := range core.StageOrder {
		if m, ok := byStage[stage]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}
