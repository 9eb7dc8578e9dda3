package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Save writes one reports row. The extract substructures go into jsonb
// columns so the raw model output stays queryable.
func (p *Postgres) Save(ctx context.Context, record report.StoredRecord) error {
	risks, err := json.Marshal(record.Extract.Risks)
	if err != nil {
		return fmt.Errorf("marshal risks: %w", err)
	}
	needs, err := json.Marshal(record.Extract.Needs)
	if err != nil {
		return fmt.Errorf("marshal needs: %w", err)
	}
	alignment, err := json.Marshal(record.Extract.Alignment)
	if err != nil {
		return fmt.Errorf("marshal alignment: %w", err)
	}
	nextActions, err := json.Marshal(record.Extract.NextActions)
	if err != nil {
		return fmt.Errorf("marshal next actions: %w", err)
	}

	id := uuid.New()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO reports (
			id, user_id, user_name, period_type, period_start, period_end,
			message_ts, raw_text, hr_summary, risk_level,
			risks, needs, okr_alignment, next_actions, okr_brief, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())`,
		id,
		record.Event.UserID, record.Event.UserName,
		record.Event.PeriodType, record.Event.PeriodStart, record.Event.PeriodEnd,
		record.Event.MessageTS, record.Event.RawText,
		record.Extract.Summary, record.Extract.RiskLevel,
		risks, needs, alignment, nextActions,
		record.GoalBrief,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	p.logger.Info("report saved",
		"storage", "postgres",
		"id", id,
		"user_id", record.Event.UserID,
	)
	return nil
}
