package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	"pdarena/internal/arena/sandbox"
	"pdarena/internal/common/db"
	"pdarena/internal/common/mq"
	appErr "pdarena/pkg/errors"
	"pdarena/pkg/utils/contextkey"
	"pdarena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxConcurrentSandboxCalls = 8
	defaultTimeLimit                 = time.Second
	defaultMaxCodeBytes              = 64 << 10
	runLockReleaseTimeout            = 5 * time.Second
)

// EngineOptions tunes the engine. Zero values take defaults.
type EngineOptions struct {
	RoundsPerMatch            int
	Workers                   int
	MaxConcurrentSandboxCalls int
	MaxAttempts               int
	RetryBaseDelay            time.Duration
	RetryMaxDelay             time.Duration
	TimeLimit                 time.Duration
	ParseFailurePolicy        string
	MaxCodeBytes              int
	ActivationMaxRetries      int
}

func (o *EngineOptions) setDefaults() {
	if o.RoundsPerMatch <= 0 {
		o.RoundsPerMatch = defaultRoundsPerMatch
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.MaxConcurrentSandboxCalls <= 0 {
		o.MaxConcurrentSandboxCalls = defaultMaxConcurrentSandboxCalls
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = defaultRetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}
	if o.TimeLimit <= 0 {
		o.TimeLimit = defaultTimeLimit
	}
	if o.MaxCodeBytes <= 0 {
		o.MaxCodeBytes = defaultMaxCodeBytes
	}
	if o.ActivationMaxRetries <= 0 {
		o.ActivationMaxRetries = defaultActivationMaxRetries
	}
}

// EngineDeps are the collaborators of the engine. RunLock and Publisher may be nil.
type EngineDeps struct {
	DB                    db.Database
	Submissions           repository.SubmissionRepository
	Tournaments           repository.TournamentRepository
	TestcaseData          repository.TestcaseDataRepository
	TournamentData        repository.TournamentDataRepository
	TournamentSubmissions repository.TournamentSubmissionRepository
	Results               repository.MatchResolutionRepository
	Sandbox               sandbox.Client
	RunLock               repository.RunLock
	Publisher             repository.SummaryPublisher
}

// Engine is the match resolution engine.
type Engine struct {
	db                    db.Database
	submissions           repository.SubmissionRepository
	tournaments           repository.TournamentRepository
	testcaseData          repository.TestcaseDataRepository
	tournamentData        repository.TournamentDataRepository
	tournamentSubmissions repository.TournamentSubmissionRepository
	results               repository.MatchResolutionRepository
	runLock               repository.RunLock
	publisher             repository.SummaryPublisher

	activation *ActivationManager
	scheduler  *MatchScheduler
	opts       EngineOptions
}

// NewEngine wires the engine components.
func NewEngine(deps EngineDeps, opts EngineOptions) (*Engine, error) {
	if deps.DB == nil {
		return nil, errors.New("database is required")
	}
	if deps.Sandbox == nil {
		return nil, errors.New("sandbox client is required")
	}
	if deps.Submissions == nil || deps.Tournaments == nil || deps.TestcaseData == nil ||
		deps.TournamentData == nil || deps.TournamentSubmissions == nil || deps.Results == nil {
		return nil, errors.New("all repositories are required")
	}
	opts.setDefaults()
	parsePolicy, err := model.ParseDecision(opts.ParseFailurePolicy)
	if err != nil {
		return nil, fmt.Errorf("invalid parse failure policy: %w", err)
	}

	evaluator := NewRoundEvaluator(deps.Sandbox, opts.TimeLimit, parsePolicy)
	limiter := mq.NewTokenLimiter(opts.MaxConcurrentSandboxCalls)
	retry := NewRetryController(evaluator, deps.Results, limiter, RetryPolicy{
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   opts.RetryBaseDelay,
		MaxDelay:    opts.RetryMaxDelay,
	})

	return &Engine{
		db:                    deps.DB,
		submissions:           deps.Submissions,
		tournaments:           deps.Tournaments,
		testcaseData:          deps.TestcaseData,
		tournamentData:        deps.TournamentData,
		tournamentSubmissions: deps.TournamentSubmissions,
		results:               deps.Results,
		runLock:               deps.RunLock,
		publisher:             deps.Publisher,
		activation: NewActivationManager(
			deps.DB, deps.Submissions, deps.Tournaments, deps.TestcaseData, deps.TournamentData, opts.ActivationMaxRetries,
		),
		scheduler: NewMatchScheduler(retry, deps.Results, opts.RoundsPerMatch, opts.Workers),
		opts:      opts,
	}, nil
}

// ResolveTournament plays every pairing of the tournament's in-scope submissions.
// Misbehaving submissions never fail the run; they show up in the summary.
func (e *Engine) ResolveTournament(ctx context.Context, tournamentID int64) (model.RunSummary, error) {
	if tournamentID <= 0 {
		return model.RunSummary{}, appErr.ValidationError("tournament_id", "must be positive")
	}
	if _, err := e.tournaments.GetByID(ctx, nil, tournamentID); err != nil {
		if errors.Is(err, repository.ErrTournamentNotFound) {
			return model.RunSummary{}, appErr.New(appErr.TournamentNotFound)
		}
		return model.RunSummary{}, appErr.Wrap(fmt.Errorf("get tournament failed: %w", err), appErr.DatabaseError)
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.RunID, runID)

	release, err := e.acquireRunLock(ctx, tournamentID)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer release()

	summary := model.RunSummary{
		RunID:          runID,
		TournamentID:   tournamentID,
		Rounds:         e.scheduler.Rounds(),
		Submissions:    []int64{},
		Fallbacks:      []model.Fallback{},
		FailedPairings: []model.PairingFailure{},
		StartedAt:      time.Now().UnixMilli(),
	}

	ids, err := e.tournamentSubmissions.ListCompeting(ctx, nil, tournamentID)
	if err != nil {
		return model.RunSummary{}, appErr.Wrap(fmt.Errorf("list competing submissions failed: %w", err), appErr.DatabaseError)
	}
	entrants := make([]Entrant, 0, len(ids))
	for _, id := range ids {
		sub, err := e.submissions.GetByID(ctx, nil, id)
		if err != nil {
			return model.RunSummary{}, appErr.Wrap(fmt.Errorf("load submission %d failed: %w", id, err), appErr.DatabaseError)
		}
		entrants = append(entrants, Entrant{SubmissionID: sub.SubmissionID, Code: sub.Code})
		summary.Submissions = append(summary.Submissions, sub.SubmissionID)
	}

	pairings := BuildPairings(entrants)
	logger.Info(ctx, "tournament resolution started",
		zap.Int64("tournament_id", tournamentID),
		zap.Int("submissions", len(entrants)),
		zap.Int("pairings", len(pairings)),
		zap.Int("rounds", summary.Rounds),
	)
	collect(&summary, e.scheduler.Run(ctx, pairings))
	summary.FinishedAt = time.Now().UnixMilli()

	logger.Info(ctx, "tournament resolution finished",
		zap.Int64("tournament_id", tournamentID),
		zap.Int("completed_pairings", summary.CompletedPairings),
		zap.Int("failed_pairings", len(summary.FailedPairings)),
		zap.Int("fallbacks", len(summary.Fallbacks)),
		zap.Int("rows_inserted", summary.RowsInserted),
		zap.Int("rows_reused", summary.RowsReused),
	)
	if e.publisher != nil {
		if err := e.publisher.PublishSummary(ctx, summary); err != nil {
			logger.Warn(ctx, "publish run summary failed", zap.Int64("tournament_id", tournamentID), zap.Error(err))
		}
	}
	return summary, nil
}

// acquireRunLock takes the per-tournament run lock and keeps it alive until release is called.
func (e *Engine) acquireRunLock(ctx context.Context, tournamentID int64) (func(), error) {
	if e.runLock == nil {
		return func() {}, nil
	}
	token, err := e.runLock.Acquire(ctx, tournamentID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire run lock failed")
	}
	if token == "" {
		return nil, appErr.New(appErr.ResolutionInProgress)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		interval := e.runLock.TTL() / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := e.runLock.Extend(ctx, tournamentID, token)
				if err != nil || !ok {
					logger.Warn(ctx, "extend run lock failed", zap.Int64("tournament_id", tournamentID), zap.Bool("held", ok), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runLockReleaseTimeout)
		defer cancel()
		if err := e.runLock.Release(releaseCtx, tournamentID, token); err != nil {
			logger.Warn(ctx, "release run lock failed", zap.Int64("tournament_id", tournamentID), zap.Error(err))
		}
	}, nil
}

// TestcaseRevisionInput creates a TestcaseData revision. Active defaults to true.
type TestcaseRevisionInput struct {
	SubmissionID  int64
	CreatorUserID int64
	Active        *bool
}

// CreateTestcaseRevision makes a new revision the authoritative state of its submission.
func (e *Engine) CreateTestcaseRevision(ctx context.Context, input TestcaseRevisionInput) (model.TestcaseData, error) {
	if input.SubmissionID <= 0 {
		return model.TestcaseData{}, appErr.ValidationError("submission_id", "must be positive")
	}
	data := &model.TestcaseData{
		CreatorUserID: input.CreatorUserID,
		SubmissionID:  input.SubmissionID,
		Active:        boolOrDefault(input.Active, true),
	}
	if err := e.activation.ActivateTestcaseData(ctx, data); err != nil {
		return model.TestcaseData{}, mapRepositoryError(err, appErr.DatabaseError)
	}
	return *data, nil
}

// TournamentDataRevisionInput creates a TournamentData revision. Active defaults to true.
type TournamentDataRevisionInput struct {
	TournamentID  int64
	CreatorUserID int64
	Title         string
	Description   string
	Active        *bool
}

// CreateTournamentDataRevision makes a new revision the authoritative state of its tournament.
func (e *Engine) CreateTournamentDataRevision(ctx context.Context, input TournamentDataRevisionInput) (model.TournamentData, error) {
	if input.TournamentID <= 0 {
		return model.TournamentData{}, appErr.ValidationError("tournament_id", "must be positive")
	}
	data := &model.TournamentData{
		CreatorUserID: input.CreatorUserID,
		TournamentID:  input.TournamentID,
		Title:         input.Title,
		Description:   input.Description,
		Active:        boolOrDefault(input.Active, true),
	}
	if err := e.activation.ActivateTournamentData(ctx, data); err != nil {
		return model.TournamentData{}, mapRepositoryError(err, appErr.DatabaseError)
	}
	return *data, nil
}

// CreateSubmissionInput carries new strategy code.
type CreateSubmissionInput struct {
	CreatorUserID int64
	Code          string
}

// SubmissionResult is a new submission with its first revision.
type SubmissionResult struct {
	Submission   model.Submission   `json:"submission"`
	TestcaseData model.TestcaseData `json:"testcase_data"`
}

// CreateSubmission stores code and its first active TestcaseData in one transaction.
func (e *Engine) CreateSubmission(ctx context.Context, input CreateSubmissionInput) (SubmissionResult, error) {
	if input.Code == "" {
		return SubmissionResult{}, appErr.ValidationError("code", "required")
	}
	if len(input.Code) > e.opts.MaxCodeBytes {
		return SubmissionResult{}, appErr.New(appErr.SubmissionTooLong).WithDetail("max_bytes", e.opts.MaxCodeBytes)
	}

	now := time.Now().UnixMilli()
	sub := &model.Submission{CreationTime: now, CreatorUserID: input.CreatorUserID, Code: input.Code}
	data := &model.TestcaseData{CreationTime: now, CreatorUserID: input.CreatorUserID, Active: true}
	err := e.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := e.submissions.Create(ctx, tx, sub); err != nil {
			return err
		}
		data.SubmissionID = sub.SubmissionID
		return e.activation.promoteTestcaseData(ctx, tx, data)
	})
	if err != nil {
		return SubmissionResult{}, appErr.Wrap(fmt.Errorf("create submission failed: %w", err), appErr.SubmissionCreateFailed)
	}
	return SubmissionResult{Submission: *sub, TestcaseData: *data}, nil
}

// CreateTournamentInput carries a new tournament's first revision.
type CreateTournamentInput struct {
	CreatorUserID int64
	Title         string
	Description   string
}

// TournamentResult is a new tournament with its first revision.
type TournamentResult struct {
	Tournament     model.Tournament     `json:"tournament"`
	TournamentData model.TournamentData `json:"tournament_data"`
}

// CreateTournament stores a tournament and its first active TournamentData in one transaction.
func (e *Engine) CreateTournament(ctx context.Context, input CreateTournamentInput) (TournamentResult, error) {
	if input.Title == "" {
		return TournamentResult{}, appErr.ValidationError("title", "required")
	}
	now := time.Now().UnixMilli()
	tournament := &model.Tournament{CreationTime: now, CreatorUserID: input.CreatorUserID}
	data := &model.TournamentData{
		CreationTime:  now,
		CreatorUserID: input.CreatorUserID,
		Title:         input.Title,
		Description:   input.Description,
		Active:        true,
	}
	err := e.db.Transaction(ctx, func(tx db.Transaction) error {
		if err := e.tournaments.Create(ctx, tx, tournament); err != nil {
			return err
		}
		data.TournamentID = tournament.TournamentID
		return e.activation.promoteTournamentData(ctx, tx, data)
	})
	if err != nil {
		return TournamentResult{}, appErr.Wrap(fmt.Errorf("create tournament failed: %w", err), appErr.TournamentCreateFailed)
	}
	return TournamentResult{Tournament: *tournament, TournamentData: *data}, nil
}

// CreateTournamentSubmissionInput enters a submission into a tournament.
type CreateTournamentSubmissionInput struct {
	TournamentID  int64
	SubmissionID  int64
	CreatorUserID int64
	Kind          string
}

// CreateTournamentSubmission appends a join record. COMPETE requires an active TestcaseData.
func (e *Engine) CreateTournamentSubmission(ctx context.Context, input CreateTournamentSubmissionInput) (model.TournamentSubmission, error) {
	kind, ok := model.ParseSubmissionKind(input.Kind)
	if !ok {
		return model.TournamentSubmission{}, appErr.New(appErr.InvalidSubmissionKind).WithDetail("kind", input.Kind)
	}
	if _, err := e.tournaments.GetByID(ctx, nil, input.TournamentID); err != nil {
		return model.TournamentSubmission{}, mapRepositoryError(err, appErr.DatabaseError)
	}
	if _, err := e.submissions.GetByID(ctx, nil, input.SubmissionID); err != nil {
		return model.TournamentSubmission{}, mapRepositoryError(err, appErr.DatabaseError)
	}
	if kind == model.KindCompete {
		active, err := e.testcaseData.GetActive(ctx, nil, input.SubmissionID)
		if err != nil {
			return model.TournamentSubmission{}, appErr.Wrap(fmt.Errorf("get active testcase data failed: %w", err), appErr.DatabaseError)
		}
		if active == nil {
			return model.TournamentSubmission{}, appErr.New(appErr.TournamentSubmissionNotValidated)
		}
	}

	entry := &model.TournamentSubmission{
		CreatorUserID: input.CreatorUserID,
		TournamentID:  input.TournamentID,
		SubmissionID:  input.SubmissionID,
		Kind:          kind,
	}
	if err := e.tournamentSubmissions.Create(ctx, nil, entry); err != nil {
		return model.TournamentSubmission{}, appErr.Wrap(fmt.Errorf("create tournament submission failed: %w", err), appErr.DatabaseError)
	}
	return *entry, nil
}

// ViewMatchResolutions lists result rows matching filter.
func (e *Engine) ViewMatchResolutions(ctx context.Context, filter model.MatchResolutionFilter) ([]model.MatchResolution, error) {
	rows, err := e.results.View(ctx, filter)
	if err != nil {
		return nil, appErr.Wrap(fmt.Errorf("view match resolutions failed: %w", err), appErr.DatabaseError)
	}
	if rows == nil {
		rows = []model.MatchResolution{}
	}
	return rows, nil
}

// ViewTournamentData lists a tournament's revisions, oldest first.
func (e *Engine) ViewTournamentData(ctx context.Context, tournamentID int64, onlyActive bool) ([]model.TournamentData, error) {
	if _, err := e.tournaments.GetByID(ctx, nil, tournamentID); err != nil {
		return nil, mapRepositoryError(err, appErr.DatabaseError)
	}
	list, err := e.tournamentData.ListByTournament(ctx, nil, tournamentID, onlyActive)
	if err != nil {
		return nil, appErr.Wrap(fmt.Errorf("list tournament data failed: %w", err), appErr.DatabaseError)
	}
	if list == nil {
		list = []model.TournamentData{}
	}
	return list, nil
}

// ViewSubmissions lists submissions matching filter, code included.
func (e *Engine) ViewSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	list, err := e.submissions.View(ctx, filter)
	if err != nil {
		return nil, appErr.Wrap(fmt.Errorf("view submissions failed: %w", err), appErr.DatabaseError)
	}
	if list == nil {
		list = []model.Submission{}
	}
	return list, nil
}

// ViewTournamentSubmissions lists the join records of a tournament.
func (e *Engine) ViewTournamentSubmissions(ctx context.Context, tournamentID int64, filter model.TournamentSubmissionFilter) ([]model.TournamentSubmission, error) {
	if filter.Kind != "" {
		kind, ok := model.ParseSubmissionKind(string(filter.Kind))
		if !ok {
			return nil, appErr.New(appErr.InvalidSubmissionKind).WithDetail("kind", string(filter.Kind))
		}
		filter.Kind = kind
	}
	if _, err := e.tournaments.GetByID(ctx, nil, tournamentID); err != nil {
		return nil, mapRepositoryError(err, appErr.DatabaseError)
	}
	list, err := e.tournamentSubmissions.View(ctx, tournamentID, filter)
	if err != nil {
		return nil, appErr.Wrap(fmt.Errorf("view tournament submissions failed: %w", err), appErr.DatabaseError)
	}
	if list == nil {
		list = []model.TournamentSubmission{}
	}
	return list, nil
}

// ViewCompetingSubmissions returns the submission ids a resolution run would pair, ascending.
func (e *Engine) ViewCompetingSubmissions(ctx context.Context, tournamentID int64) ([]int64, error) {
	if _, err := e.tournaments.GetByID(ctx, nil, tournamentID); err != nil {
		return nil, mapRepositoryError(err, appErr.DatabaseError)
	}
	ids, err := e.tournamentSubmissions.ListCompeting(ctx, nil, tournamentID)
	if err != nil {
		return nil, appErr.Wrap(fmt.Errorf("list competing submissions failed: %w", err), appErr.DatabaseError)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
