// Package processor orchestrates the report pipeline: normalize, pull
// the goal context, extract, persist, deliver.
package processor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/herald/internal/bus"
	"github.com/MikeSquared-Agency/herald/internal/extractor"
	"github.com/MikeSquared-Agency/herald/internal/feishu"
	"github.com/MikeSquared-Agency/herald/internal/goals"
	"github.com/MikeSquared-Agency/herald/internal/report"
)

// StorageSink persists processed records.
type StorageSink interface {
	Save(ctx context.Context, record report.StoredRecord) error
}

// DeliverySink pushes the rendered summary card out.
type DeliverySink interface {
	SendCard(ctx context.Context, card map[string]any) error
}

// Publisher announces pipeline results on the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

type Processor struct {
	goals     goals.Source
	extractor *extractor.Extractor
	storage   StorageSink
	delivery  DeliverySink
	publisher Publisher
	token     string
	logger    *slog.Logger
}

// New wires the pipeline. delivery and publisher may be nil; storage
// and goals may not.
func New(src goals.Source, ext *extractor.Extractor, storage StorageSink, delivery DeliverySink, publisher Publisher, verificationToken string, logger *slog.Logger) *Processor {
	return &Processor{
		goals:     src,
		extractor: ext,
		storage:   storage,
		delivery:  delivery,
		publisher: publisher,
		token:     verificationToken,
		logger:    logger,
	}
}

// Process runs one envelope through the pipeline.
func (p *Processor) Process(ctx context.Context, env *feishu.Envelope) error {
	evt, err := feishu.BuildEvent(env)
	if err != nil {
		return err
	}
	p.ProcessEvent(ctx, evt)
	return nil
}

// ProcessEvent runs the pipeline for an already-normalized event.
// Storage and delivery are independent: a failing sink is logged and
// the other still runs, so one broken backend never silently drops
// both the record and the card.
func (p *Processor) ProcessEvent(ctx context.Context, evt report.Event) {
	brief := p.goals.Brief(ctx, evt.UserID, evt.PeriodStart, evt.PeriodEnd)
	extract := p.extractor.Extract(ctx, evt, brief)

	record := report.StoredRecord{Event: evt, Extract: extract, GoalBrief: brief}
	if err := p.storage.Save(ctx, record); err != nil {
		p.logger.Error("storage failed", "user_id", evt.UserID, "error", err)
	}

	if p.delivery != nil {
		card := feishu.BuildSummaryCard(evt, extract)
		if err := p.delivery.SendCard(ctx, card); err != nil {
			p.logger.Error("card delivery failed", "user_id", evt.UserID, "error", err)
		}
	}

	if p.publisher != nil {
		notice := bus.ProcessedNotice{
			UserID:     evt.UserID,
			PeriodType: string(evt.PeriodType),
			RiskLevel:  string(extract.RiskLevel),
			Offline:    strings.HasPrefix(extract.Summary, "(offline) "),
		}
		if err := p.publisher.Publish(bus.SubjectReportProcessed, notice); err != nil {
			p.logger.Warn("processed notice failed", "error", err)
		}
	}

	p.logger.Info("report processed",
		"user_id", evt.UserID,
		"period_type", evt.PeriodType,
		"risk_level", extract.RiskLevel,
		"okr_brief_len", len(brief),
	)
}

// Schedule runs the envelope in the background so the webhook can ack
// before the model round trips finish.
func (p *Processor) Schedule(env *feishu.Envelope) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pipeline panic", "panic", r)
			}
		}()
		if err := p.Process(context.Background(), env); err != nil {
			p.logger.Error("pipeline failed", "error", err)
		}
	}()
}

// HandleReportSubmitted is the bus handler for reduced report
// submissions.
func (p *Processor) HandleReportSubmitted(subject string, data []byte) {
	env, err := feishu.NormalizePayload(data, p.token)
	if err != nil {
		p.logger.Error("unsupported bus submission", "subject", subject, "error", err)
		return
	}
	if err := p.Process(context.Background(), env); err != nil {
		p.logger.Error("bus submission failed", "subject", subject, "error", err)
	}
}
