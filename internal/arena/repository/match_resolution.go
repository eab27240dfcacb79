package repository

import (
	"context"
	"errors"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/db"
)

const (
	defaultViewLimit = 500
	maxViewLimit     = 5000
)

// MatchResolutionRepository is the append-only result store.
type MatchResolutionRepository interface {
	// Insert writes one attempt row. A row with the same natural key already
	// present is a no-op success reported as inserted=false.
	Insert(ctx context.Context, row *model.MatchResolution) (bool, error)
	// Attempts returns every attempt of one side of one round, ascending.
	Attempts(ctx context.Context, submissionID, opponentID int64, round int) ([]model.MatchResolution, error)
	// History returns rows of both directions of the pairing with round < beforeRound,
	// ordered by round, attempt. beforeRound <= 0 returns everything.
	History(ctx context.Context, a, b int64, beforeRound int) ([]model.MatchResolution, error)
	View(ctx context.Context, filter model.MatchResolutionFilter) ([]model.MatchResolution, error)
}

type MySQLMatchResolutionRepository struct {
	db db.Database
}

func NewMatchResolutionRepository(database db.Database) *MySQLMatchResolutionRepository {
	return &MySQLMatchResolutionRepository{db: database}
}

const matchResolutionColumns = "submission_id, opponent_submission_id, round, attempt, creation_time, defected, stdout, stderr"

func (r *MySQLMatchResolutionRepository) Insert(ctx context.Context, row *model.MatchResolution) (bool, error) {
	if row == nil {
		return false, errors.New("match resolution is nil")
	}
	if row.Round <= 0 || row.Attempt <= 0 {
		return false, errors.New("round and attempt must be positive")
	}
	if row.CreationTime == 0 {
		row.CreationTime = time.Now().UnixMilli()
	}
	query := `
		INSERT INTO match_resolutions
		(submission_id, opponent_submission_id, round, attempt, creation_time, defected, stdout, stderr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(
		ctx,
		query,
		row.SubmissionID,
		row.OpponentSubmissionID,
		row.Round,
		row.Attempt,
		row.CreationTime,
		row.Defected,
		row.Stdout,
		row.Stderr,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *MySQLMatchResolutionRepository) Attempts(ctx context.Context, submissionID, opponentID int64, round int) ([]model.MatchResolution, error) {
	query := "SELECT " + matchResolutionColumns + `
		FROM match_resolutions
		WHERE submission_id = ? AND opponent_submission_id = ? AND round = ?
		ORDER BY attempt`
	return r.list(ctx, query, submissionID, opponentID, round)
}

func (r *MySQLMatchResolutionRepository) History(ctx context.Context, a, b int64, beforeRound int) ([]model.MatchResolution, error) {
	query := "SELECT " + matchResolutionColumns + `
		FROM match_resolutions
		WHERE ((submission_id = ? AND opponent_submission_id = ?) OR (submission_id = ? AND opponent_submission_id = ?))`
	args := []interface{}{a, b, b, a}
	if beforeRound > 0 {
		query += " AND round < ?"
		args = append(args, beforeRound)
	}
	query += " ORDER BY round, attempt, submission_id"
	return r.list(ctx, query, args...)
}

// View applies filter; rows come back ordered by round, attempt.
func (r *MySQLMatchResolutionRepository) View(ctx context.Context, filter model.MatchResolutionFilter) ([]model.MatchResolution, error) {
	var where whereClause
	addIn(&where, "submission_id", filter.SubmissionIDs)
	addIn(&where, "opponent_submission_id", filter.OpponentIDs)
	addIn(&where, "round", filter.Rounds)
	where.creationRange("creation_time", filter.MinCreationTime, filter.MaxCreationTime)

	query := "SELECT " + matchResolutionColumns + " FROM match_resolutions" + where.String() +
		" ORDER BY round, attempt, submission_id, opponent_submission_id LIMIT ?"
	args := append(where.args, clampLimit(filter.Limit))
	return r.list(ctx, query, args...)
}

func (r *MySQLMatchResolutionRepository) list(ctx context.Context, query string, args ...interface{}) ([]model.MatchResolution, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MatchResolution
	for rows.Next() {
		var m model.MatchResolution
		if err := rows.Scan(
			&m.SubmissionID,
			&m.OpponentSubmissionID,
			&m.Round,
			&m.Attempt,
			&m.CreationTime,
			&m.Defected,
			&m.Stdout,
			&m.Stderr,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ MatchResolutionRepository = (*MySQLMatchResolutionRepository)(nil)
