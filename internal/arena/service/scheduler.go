package service

import (
	"context"
	"errors"
	"sort"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	appErr "pdarena/pkg/errors"
	"pdarena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRoundsPerMatch = 10
	defaultWorkers        = 4
)

// Entrant is an in-scope submission with its code.
type Entrant struct {
	SubmissionID int64
	Code         string
}

// Pairing is an unordered pair of entrants; A has the lower id.
type Pairing struct {
	A Entrant
	B Entrant
}

// BuildPairings returns every unordered pair of distinct entrants, ordered by (A, B).
func BuildPairings(entrants []Entrant) []Pairing {
	sorted := make([]Entrant, 0, len(entrants))
	seen := make(map[int64]struct{}, len(entrants))
	for _, e := range entrants {
		if _, ok := seen[e.SubmissionID]; ok {
			continue
		}
		seen[e.SubmissionID] = struct{}{}
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubmissionID < sorted[j].SubmissionID })

	pairings := make([]Pairing, 0, len(sorted)*(len(sorted)-1)/2)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			pairings = append(pairings, Pairing{A: sorted[i], B: sorted[j]})
		}
	}
	return pairings
}

// PairingReport is the outcome of one pairing's round loop.
type PairingReport struct {
	Pairing   Pairing
	Completed bool
	Inserted  int
	Reused    int
	Fallbacks []model.Fallback
	Failure   *model.PairingFailure
}

// MatchScheduler drives pairings on a bounded worker pool. Rounds within a
// pairing are strictly sequential.
type MatchScheduler struct {
	retry   *RetryController
	store   repository.MatchResolutionRepository
	rounds  int
	workers int
}

func NewMatchScheduler(retry *RetryController, store repository.MatchResolutionRepository, rounds, workers int) *MatchScheduler {
	if rounds <= 0 {
		rounds = defaultRoundsPerMatch
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &MatchScheduler{retry: retry, store: store, rounds: rounds, workers: workers}
}

// Rounds returns the number of rounds per pairing.
func (s *MatchScheduler) Rounds() int {
	return s.rounds
}

// Run plays every pairing and returns reports in pairing order.
// A failing pairing never stops the others.
func (s *MatchScheduler) Run(ctx context.Context, pairings []Pairing) []PairingReport {
	reports := make([]PairingReport, len(pairings))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range pairings {
		i := i
		g.Go(func() error {
			reports[i] = s.playPairing(ctx, pairings[i])
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (s *MatchScheduler) playPairing(ctx context.Context, p Pairing) PairingReport {
	report := PairingReport{Pairing: p}
	a, b := p.A, p.B

	for round := 1; round <= s.rounds; round++ {
		if err := ctx.Err(); err != nil {
			report.Failure = pairingFailure(p, round, model.ReasonCanceled, err)
			return report
		}
		history, err := s.store.History(ctx, a.SubmissionID, b.SubmissionID, round)
		if err != nil {
			report.Failure = pairingFailure(p, round, model.ReasonStoreError, err)
			return report
		}
		turnsA, turnsB, err := BuildTurns(history, a.SubmissionID, b.SubmissionID, round, s.retry.MaxAttempts())
		if err != nil {
			logger.Error(ctx, "ordering violation",
				zap.Int64("submission_id", a.SubmissionID),
				zap.Int64("opponent_submission_id", b.SubmissionID),
				zap.Int("round", round),
				zap.Error(err),
			)
			report.Failure = pairingFailure(p, round, model.ReasonOrderingViolation, err)
			return report
		}

		var sides [2]SideResult
		var g errgroup.Group
		g.Go(func() error {
			res, err := s.retry.Resolve(ctx, SideRequest{
				SubmissionID: a.SubmissionID, OpponentID: b.SubmissionID, Round: round, Code: a.Code, History: turnsA,
			})
			sides[0] = res
			return err
		})
		g.Go(func() error {
			res, err := s.retry.Resolve(ctx, SideRequest{
				SubmissionID: b.SubmissionID, OpponentID: a.SubmissionID, Round: round, Code: b.Code, History: turnsB,
			})
			sides[1] = res
			return err
		})
		err = g.Wait()
		for _, side := range sides {
			report.Inserted += side.Inserted
			report.Reused += side.Reused
			if side.Fallback != nil {
				report.Fallbacks = append(report.Fallbacks, *side.Fallback)
			}
		}
		if err != nil {
			reason := model.ReasonStoreError
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reason = model.ReasonCanceled
			}
			report.Failure = pairingFailure(p, round, reason, err)
			return report
		}
	}
	report.Completed = true
	return report
}

// BuildTurns checks that every round before round has a final row in both
// directions and returns the history as seen by a and by b.
func BuildTurns(history []model.MatchResolution, a, b int64, round, maxAttempts int) ([]model.Turn, []model.Turn, error) {
	type key struct {
		sub   int64
		round int
	}
	last := make(map[key]model.MatchResolution, len(history))
	for _, row := range history {
		if row.Round >= round {
			continue
		}
		k := key{sub: row.SubmissionID, round: row.Round}
		if prev, ok := last[k]; !ok || row.Attempt > prev.Attempt {
			last[k] = row
		}
	}

	turnsA := make([]model.Turn, 0, round-1)
	turnsB := make([]model.Turn, 0, round-1)
	for r := 1; r < round; r++ {
		rowA, okA := last[key{sub: a, round: r}]
		rowB, okB := last[key{sub: b, round: r}]
		if !okA || !okB || !IsFinalAttempt(rowA, maxAttempts) || !IsFinalAttempt(rowB, maxAttempts) {
			return nil, nil, appErr.New(appErr.OrderingViolation).
				WithMessagef("round %d requested before round %d is resolved for %d vs %d", round, r, a, b)
		}
		turnsA = append(turnsA, model.Turn{Own: rowA.Decision(), Opponent: rowB.Decision()})
		turnsB = append(turnsB, model.Turn{Own: rowB.Decision(), Opponent: rowA.Decision()})
	}
	return turnsA, turnsB, nil
}

func pairingFailure(p Pairing, round int, reason string, err error) *model.PairingFailure {
	return &model.PairingFailure{
		SubmissionID:         p.A.SubmissionID,
		OpponentSubmissionID: p.B.SubmissionID,
		Round:                round,
		Reason:               reason,
		Detail:               err.Error(),
	}
}

// collect folds pairing reports into summary.
func collect(summary *model.RunSummary, reports []PairingReport) {
	summary.Pairings = len(reports)
	for _, r := range reports {
		if r.Completed {
			summary.CompletedPairings++
		}
		summary.RowsInserted += r.Inserted
		summary.RowsReused += r.Reused
		summary.Fallbacks = append(summary.Fallbacks, r.Fallbacks...)
		if r.Failure != nil {
			summary.FailedPairings = append(summary.FailedPairings, *r.Failure)
		}
	}
}
