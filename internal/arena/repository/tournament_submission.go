package repository

import (
	"context"
	"errors"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/db"
)

// TournamentSubmissionRepository persists join records and answers the roster query.
type TournamentSubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, entry *model.TournamentSubmission) error
	// ListCompeting returns, ascending, the submissions whose latest join record
	// is COMPETE and which have an active TestcaseData.
	ListCompeting(ctx context.Context, tx db.Transaction, tournamentID int64) ([]int64, error)
	// View lists the join records of one tournament ordered by id.
	View(ctx context.Context, tournamentID int64, filter model.TournamentSubmissionFilter) ([]model.TournamentSubmission, error)
}

type MySQLTournamentSubmissionRepository struct {
	db db.Database
}

func NewTournamentSubmissionRepository(database db.Database) *MySQLTournamentSubmissionRepository {
	return &MySQLTournamentSubmissionRepository{db: database}
}

func (r *MySQLTournamentSubmissionRepository) Create(ctx context.Context, tx db.Transaction, entry *model.TournamentSubmission) error {
	if entry == nil {
		return errors.New("tournament submission is nil")
	}
	if entry.Kind == "" {
		entry.Kind = model.KindCompete
	}
	if entry.CreationTime == 0 {
		entry.CreationTime = time.Now().UnixMilli()
	}
	query := `
		INSERT INTO tournament_submissions
		(creation_time, creator_user_id, tournament_id, submission_id, kind)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		entry.CreationTime,
		entry.CreatorUserID,
		entry.TournamentID,
		entry.SubmissionID,
		string(entry.Kind),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.TournamentSubmissionID = id
	return nil
}

func (r *MySQLTournamentSubmissionRepository) ListCompeting(ctx context.Context, tx db.Transaction, tournamentID int64) ([]int64, error) {
	query := `
		SELECT ts.submission_id
		FROM tournament_submissions ts
		JOIN (
			SELECT submission_id, MAX(tournament_submission_id) AS latest_id
			FROM tournament_submissions
			WHERE tournament_id = ?
			GROUP BY submission_id
		) latest ON latest.latest_id = ts.tournament_submission_id
		JOIN testcase_data td ON td.submission_id = ts.submission_id AND td.active = TRUE
		WHERE ts.kind = ?
		ORDER BY ts.submission_id
	`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, tournamentID, string(model.KindCompete))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MySQLTournamentSubmissionRepository) View(ctx context.Context, tournamentID int64, filter model.TournamentSubmissionFilter) ([]model.TournamentSubmission, error) {
	query := `
		SELECT ts.tournament_submission_id, ts.creation_time, ts.creator_user_id, ts.tournament_id, ts.submission_id, ts.kind
		FROM tournament_submissions ts`
	var args []interface{}
	if filter.OnlyRecent {
		query += `
		JOIN (
			SELECT submission_id, MAX(tournament_submission_id) AS latest_id
			FROM tournament_submissions
			WHERE tournament_id = ?
			GROUP BY submission_id
		) latest ON latest.latest_id = ts.tournament_submission_id`
		args = append(args, tournamentID)
	}

	var where whereClause
	where.add("ts.tournament_id = ?", tournamentID)
	addIn(&where, "ts.tournament_submission_id", filter.TournamentSubmissionIDs)
	addIn(&where, "ts.submission_id", filter.SubmissionIDs)
	addIn(&where, "ts.creator_user_id", filter.CreatorUserIDs)
	if filter.Kind != "" {
		where.add("ts.kind = ?", string(filter.Kind))
	}
	where.creationRange("ts.creation_time", filter.MinCreationTime, filter.MaxCreationTime)

	query += where.String() + " ORDER BY ts.tournament_submission_id LIMIT ?"
	args = append(args, where.args...)
	args = append(args, clampLimit(filter.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TournamentSubmission
	for rows.Next() {
		var (
			entry model.TournamentSubmission
			kind  string
		)
		if err := rows.Scan(
			&entry.TournamentSubmissionID,
			&entry.CreationTime,
			&entry.CreatorUserID,
			&entry.TournamentID,
			&entry.SubmissionID,
			&kind,
		); err != nil {
			return nil, err
		}
		entry.Kind = model.SubmissionKind(kind)
		out = append(out, entry)
	}
	return out, rows.Err()
}

var _ TournamentSubmissionRepository = (*MySQLTournamentSubmissionRepository)(nil)
