package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	"pdarena/internal/common/db"
	appErr "pdarena/pkg/errors"
	"pdarena/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultActivationMaxRetries = 3

// ActivationManager moves the active flag between revisions of one owner.
// Each transition runs in one transaction holding the owner's row lock.
type ActivationManager struct {
	db             db.Database
	submissions    repository.SubmissionRepository
	tournaments    repository.TournamentRepository
	testcaseData   repository.TestcaseDataRepository
	tournamentData repository.TournamentDataRepository
	maxRetries     int
}

func NewActivationManager(
	database db.Database,
	submissions repository.SubmissionRepository,
	tournaments repository.TournamentRepository,
	testcaseData repository.TestcaseDataRepository,
	tournamentData repository.TournamentDataRepository,
	maxRetries int,
) *ActivationManager {
	if maxRetries <= 0 {
		maxRetries = defaultActivationMaxRetries
	}
	return &ActivationManager{
		db:             database,
		submissions:    submissions,
		tournaments:    tournaments,
		testcaseData:   testcaseData,
		tournamentData: tournamentData,
		maxRetries:     maxRetries,
	}
}

// ActivateTestcaseData stores data as the newest revision of its submission.
func (m *ActivationManager) ActivateTestcaseData(ctx context.Context, data *model.TestcaseData) error {
	if data.CreationTime == 0 {
		data.CreationTime = time.Now().UnixMilli()
	}
	return m.withRetry(ctx, "testcase_data", data.SubmissionID, func(tx db.Transaction) error {
		if err := m.submissions.LockByID(ctx, tx, data.SubmissionID); err != nil {
			return err
		}
		return m.promoteTestcaseData(ctx, tx, data)
	})
}

// ActivateTournamentData stores data as the newest revision of its tournament.
func (m *ActivationManager) ActivateTournamentData(ctx context.Context, data *model.TournamentData) error {
	if data.CreationTime == 0 {
		data.CreationTime = time.Now().UnixMilli()
	}
	return m.withRetry(ctx, "tournament_data", data.TournamentID, func(tx db.Transaction) error {
		if err := m.tournaments.LockByID(ctx, tx, data.TournamentID); err != nil {
			return err
		}
		return m.promoteTournamentData(ctx, tx, data)
	})
}

// promoteTestcaseData demotes the current active revision and inserts data.
// The caller holds the submission row lock.
func (m *ActivationManager) promoteTestcaseData(ctx context.Context, tx db.Transaction, data *model.TestcaseData) error {
	if _, err := m.testcaseData.Deactivate(ctx, tx, data.SubmissionID); err != nil {
		return err
	}
	return m.testcaseData.Create(ctx, tx, data)
}

func (m *ActivationManager) promoteTournamentData(ctx context.Context, tx db.Transaction, data *model.TournamentData) error {
	if _, err := m.tournamentData.Deactivate(ctx, tx, data.TournamentID); err != nil {
		return err
	}
	return m.tournamentData.Create(ctx, tx, data)
}

// withRetry reruns fn in a fresh transaction while the store reports a lock race.
func (m *ActivationManager) withRetry(ctx context.Context, owner string, ownerID int64, fn func(tx db.Transaction) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		err := m.db.Transaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsActivationConflict(err) {
			return err
		}
		lastErr = err
		logger.Warn(ctx, "activation conflict, retrying transaction",
			zap.String("owner", owner),
			zap.Int64("owner_id", ownerID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepContext(ctx, ComputeBackoff(attempt-1, 10*time.Millisecond, 200*time.Millisecond)); err != nil {
			return err
		}
	}
	return appErr.Wrapf(lastErr, appErr.ActivationConflict, "activation of %s %d kept conflicting", owner, ownerID)
}

// IsActivationConflict reports whether err is a lock race the transaction can be rerun for.
func IsActivationConflict(err error) bool {
	if err == nil {
		return false
	}
	if db.IsRetryableTxError(err) {
		return true
	}
	if key, ok := db.UniqueViolation(err); ok {
		return strings.HasSuffix(key, repository.TestcaseDataActiveKey) ||
			strings.HasSuffix(key, repository.TournamentDataActiveKey)
	}
	return false
}

// mapRepositoryError translates repository errors for callers of the engine.
func mapRepositoryError(err error, failCode appErr.ErrorCode) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrSubmissionNotFound) {
		return appErr.New(appErr.SubmissionNotFound)
	}
	if errors.Is(err, repository.ErrTournamentNotFound) {
		return appErr.New(appErr.TournamentNotFound)
	}
	var coded *appErr.Error
	if errors.As(err, &coded) {
		return err
	}
	return appErr.Wrap(fmt.Errorf("activation failed: %w", err), failCode)
}
