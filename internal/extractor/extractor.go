// Package extractor turns a normalized report event plus its goal brief
// into a structured HR extract. It owns the retry policy against the
// model service and always produces a well-formed result, degrading to
// a deterministic offline extract when the model cannot help.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/MikeSquared-Agency/herald/internal/qwen"
	"github.com/MikeSquared-Agency/herald/internal/report"
)

const (
	minAttemptTimeout = 20 * time.Second
	maxAttemptTimeout = 120 * time.Second
)

type Extractor struct {
	client      *qwen.Client
	maxRetries  int
	baseTimeout time.Duration
	sleep       func(time.Duration)
	logger      *slog.Logger
}

// New creates an extractor. client may be nil for credential-less
// deployments; every event then takes the offline fallback path.
func New(client *qwen.Client, maxRetries int, baseTimeout time.Duration, logger *slog.Logger) *Extractor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Extractor{
		client:      client,
		maxRetries:  maxRetries,
		baseTimeout: baseTimeout,
		sleep:       time.Sleep,
		logger:      logger,
	}
}

// SetSleep replaces the inter-attempt sleep, so tests can run the
// backoff schedule without real delay.
func (e *Extractor) SetSleep(sleep func(time.Duration)) {
	e.sleep = sleep
}

// Extract never fails: it returns either the sanitized model response
// or the deterministic fallback after the retry budget is spent.
func (e *Extractor) Extract(ctx context.Context, evt report.Event, goalBrief string) report.Extract {
	if e.client == nil {
		e.logger.Warn("no model credential configured, using offline extract", "user_id", evt.UserID)
		return Fallback(evt)
	}

	userPrompt := fmt.Sprintf(userPromptTemplate,
		evt.RawText,
		evt.UserName, evt.UserID,
		evt.PeriodType,
		evt.PeriodStart.Format("2006-01-02"), evt.PeriodEnd.Format("2006-01-02"),
		goalBrief,
	)

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		raw, err := e.client.Complete(ctx, systemPrompt, userPrompt, e.timeoutForAttempt(attempt))
		if err == nil {
			extract, parseErr := parsePayload(raw)
			if parseErr == nil {
				return extract
			}
			err = parseErr
		}

		lastErr = err
		e.logger.Error("model invocation failed",
			"model", e.client.Model(),
			"attempt", attempt+1,
			"max_retries", e.maxRetries,
			"error", err,
		)

		if !qwen.IsTransient(err) && !errors.Is(err, errUnparsable) {
			break
		}
		if attempt < e.maxRetries-1 {
			e.sleep(time.Duration(1<<attempt) * time.Second)
			userPrompt += fmt.Sprintf(retryHintFormat, err)
		}
	}

	e.logger.Error("model exhausted, using offline extract",
		"error", lastErr,
		"attempts", e.maxRetries,
		"user_id", evt.UserID,
	)
	return Fallback(evt)
}

// timeoutForAttempt doubles the budget each attempt: attempts get
// strictly more patient, capped at two minutes.
func (e *Extractor) timeoutForAttempt(attempt int) time.Duration {
	base := e.baseTimeout
	if base < minAttemptTimeout {
		base = minAttemptTimeout
	}
	timeout := base * time.Duration(1<<attempt)
	if timeout > maxAttemptTimeout {
		timeout = maxAttemptTimeout
	}
	return timeout
}

// errUnparsable marks a 2xx response whose body could not be turned
// into the expected structured payload. Retryable, like a 5xx.
var errUnparsable = errors.New("model output is not a valid JSON object")

// parsePayload decodes the model text into a sanitized Extract. Output
// that is not quite JSON gets one repair pass before the attempt is
// declared unparsable.
func parsePayload(raw string) (report.Extract, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return report.Extract{}, fmt.Errorf("%w: %v", errUnparsable, err)
		}
		if err := json.Unmarshal([]byte(repaired), &data); err != nil {
			return report.Extract{}, fmt.Errorf("%w: %v", errUnparsable, err)
		}
	}
	if data == nil {
		return report.Extract{}, errUnparsable
	}
	return sanitize(data), nil
}
