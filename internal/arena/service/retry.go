package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	"pdarena/internal/arena/sandbox"
	"pdarena/internal/common/mq"
	"pdarena/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
)

// RetryPolicy bounds sandbox retries for one side of one round.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p *RetryPolicy) setDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultRetryMaxDelay
	}
}

// SideRequest identifies one side of one round.
type SideRequest struct {
	SubmissionID int64
	OpponentID   int64
	Round        int
	Code         string
	History      []model.Turn
}

// SideResult is the counted decision for a side/round.
type SideResult struct {
	Decision model.Decision
	Attempt  int
	Inserted int
	Reused   int
	Fallback *model.Fallback
}

// RetryController persists every attempt of a side/round and falls back to
// defect when the sandbox keeps failing.
type RetryController struct {
	evaluator Evaluator
	store     repository.MatchResolutionRepository
	limiter   *mq.TokenLimiter
	policy    RetryPolicy
	wait      func(ctx context.Context, d time.Duration) error
}

// NewRetryController creates a controller. limiter may be nil.
func NewRetryController(evaluator Evaluator, store repository.MatchResolutionRepository, limiter *mq.TokenLimiter, policy RetryPolicy) *RetryController {
	policy.setDefaults()
	return &RetryController{
		evaluator: evaluator,
		store:     store,
		limiter:   limiter,
		policy:    policy,
		wait:      sleepContext,
	}
}

// MaxAttempts returns the attempt bound.
func (c *RetryController) MaxAttempts() int {
	return c.policy.MaxAttempts
}

// Resolve returns the decision that counts for req, resuming from rows a
// previous run already persisted. Only store errors and context cancellation
// are returned as errors.
func (c *RetryController) Resolve(ctx context.Context, req SideRequest) (SideResult, error) {
	var result SideResult

	existing, err := c.store.Attempts(ctx, req.SubmissionID, req.OpponentID, req.Round)
	if err != nil {
		return result, fmt.Errorf("load attempts failed: %w", err)
	}
	start := 1
	if n := len(existing); n > 0 {
		last := existing[n-1]
		result.Reused = n
		if IsFinalAttempt(last, c.policy.MaxAttempts) {
			return c.finish(result, last), nil
		}
		start = last.Attempt + 1
	}

	for attempt := start; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := ComputeBackoff(attempt-2, c.policy.BaseDelay, c.policy.MaxDelay)
			if err := c.wait(ctx, delay); err != nil {
				return result, err
			}
		}

		row, err := c.runAttempt(ctx, req, attempt)
		if err != nil {
			return result, err
		}
		stored, inserted, err := c.persist(ctx, row)
		if err != nil {
			return result, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Reused++
		}
		if IsFinalAttempt(stored, c.policy.MaxAttempts) {
			return c.finish(result, stored), nil
		}
		logger.Warn(ctx, "sandbox attempt failed, retrying",
			zap.Int64("submission_id", req.SubmissionID),
			zap.Int64("opponent_submission_id", req.OpponentID),
			zap.Int("round", req.Round),
			zap.Int("attempt", attempt),
		)
	}
	return result, fmt.Errorf("no final attempt for submission %d round %d", req.SubmissionID, req.Round)
}

func (c *RetryController) runAttempt(ctx context.Context, req SideRequest, attempt int) (*model.MatchResolution, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	out, err := c.evaluator.Evaluate(ctx, req.Code, req.History)
	if c.limiter != nil {
		c.limiter.Release()
	}

	row := &model.MatchResolution{
		SubmissionID:         req.SubmissionID,
		OpponentSubmissionID: req.OpponentID,
		Round:                req.Round,
		Attempt:              attempt,
	}
	if err != nil {
		// The run was cut short by our own shutdown, not by the program.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		failure, ok := sandbox.AsFailure(err)
		if !ok {
			failure = &sandbox.Failure{Status: sandbox.StatusTransportError, Err: err}
		}
		row.Defected = true
		row.Stdout = failure.Stdout
		row.Stderr = failureStderr(failure)
		return row, nil
	}
	row.Defected = out.Decision == model.Defect
	row.Stdout = out.Stdout
	row.Stderr = out.Stderr
	if !out.ParseFailure {
		row.Stderr = ProgramStderr(out.Stderr)
	}
	return row, nil
}

// persist inserts row and returns the row that is stored under its key.
func (c *RetryController) persist(ctx context.Context, row *model.MatchResolution) (model.MatchResolution, bool, error) {
	inserted, err := c.store.Insert(ctx, row)
	if err != nil {
		return model.MatchResolution{}, false, fmt.Errorf("insert match resolution failed: %w", err)
	}
	if inserted {
		return *row, true, nil
	}
	rows, err := c.store.Attempts(ctx, row.SubmissionID, row.OpponentSubmissionID, row.Round)
	if err != nil {
		return model.MatchResolution{}, false, fmt.Errorf("load attempts failed: %w", err)
	}
	for _, stored := range rows {
		if stored.Attempt == row.Attempt {
			return stored, false, nil
		}
	}
	return *row, false, nil
}

func (c *RetryController) finish(result SideResult, last model.MatchResolution) SideResult {
	result.Decision = last.Decision()
	result.Attempt = last.Attempt
	switch {
	case IsSandboxFailureRow(last):
		result.Fallback = &model.Fallback{
			SubmissionID:         last.SubmissionID,
			OpponentSubmissionID: last.OpponentSubmissionID,
			Round:                last.Round,
			Attempt:              last.Attempt,
			Reason:               model.ReasonSandboxFailure,
			Detail:               firstLine(last.Stderr),
		}
	case strings.HasPrefix(last.Stderr, ParseFailureMarker):
		result.Fallback = &model.Fallback{
			SubmissionID:         last.SubmissionID,
			OpponentSubmissionID: last.OpponentSubmissionID,
			Round:                last.Round,
			Attempt:              last.Attempt,
			Reason:               model.ReasonDecisionParseFailure,
			Detail:               firstLine(last.Stderr),
		}
	}
	return result
}

// IsSandboxFailureRow reports whether row records a failed sandbox run.
func IsSandboxFailureRow(row model.MatchResolution) bool {
	return strings.HasPrefix(row.Stderr, SandboxFailureMarker)
}

// IsFinalAttempt reports whether row settles its side/round: any completed run,
// or a failed run that used up the attempt bound.
func IsFinalAttempt(row model.MatchResolution, maxAttempts int) bool {
	return !IsSandboxFailureRow(row) || row.Attempt >= maxAttempts
}

// ComputeBackoff doubles base per retry, capped at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func failureStderr(f *sandbox.Failure) string {
	var b strings.Builder
	b.WriteString(SandboxFailureMarker)
	b.WriteString(string(f.Status))
	if f.Err != nil {
		b.WriteString(" (")
		b.WriteString(f.Err.Error())
		b.WriteString(")")
	}
	b.WriteByte('\n')
	b.WriteString(f.Stderr)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
