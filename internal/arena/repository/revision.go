package repository

import (
	"context"
	"errors"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/db"
)

// Unique keys on the generated active_owner_id columns.
const (
	TestcaseDataActiveKey   = "uk_testcase_data_active"
	TournamentDataActiveKey = "uk_tournament_data_active"
)

// TestcaseDataRepository persists TestcaseData revisions.
// Deactivate and Create are only meaningful inside the activation transaction.
type TestcaseDataRepository interface {
	Deactivate(ctx context.Context, tx db.Transaction, submissionID int64) (int64, error)
	Create(ctx context.Context, tx db.Transaction, data *model.TestcaseData) error
	GetActive(ctx context.Context, tx db.Transaction, submissionID int64) (*model.TestcaseData, error)
	ListBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) ([]model.TestcaseData, error)
}

// TournamentDataRepository persists TournamentData revisions.
type TournamentDataRepository interface {
	Deactivate(ctx context.Context, tx db.Transaction, tournamentID int64) (int64, error)
	Create(ctx context.Context, tx db.Transaction, data *model.TournamentData) error
	GetActive(ctx context.Context, tx db.Transaction, tournamentID int64) (*model.TournamentData, error)
	ListByTournament(ctx context.Context, tx db.Transaction, tournamentID int64, onlyActive bool) ([]model.TournamentData, error)
}

type MySQLTestcaseDataRepository struct {
	db db.Database
}

func NewTestcaseDataRepository(database db.Database) *MySQLTestcaseDataRepository {
	return &MySQLTestcaseDataRepository{db: database}
}

const testcaseDataColumns = "testcase_data_id, creation_time, creator_user_id, submission_id, active"

// Deactivate flips the active revision of a submission, returning the number of rows changed.
func (r *MySQLTestcaseDataRepository) Deactivate(ctx context.Context, tx db.Transaction, submissionID int64) (int64, error) {
	query := "UPDATE testcase_data SET active = FALSE WHERE submission_id = ? AND active = TRUE"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, submissionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *MySQLTestcaseDataRepository) Create(ctx context.Context, tx db.Transaction, data *model.TestcaseData) error {
	if data == nil {
		return errors.New("testcase data is nil")
	}
	if data.CreationTime == 0 {
		data.CreationTime = time.Now().UnixMilli()
	}
	query := "INSERT INTO testcase_data (creation_time, creator_user_id, submission_id, active) VALUES (?, ?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, data.CreationTime, data.CreatorUserID, data.SubmissionID, data.Active)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	data.TestcaseDataID = id
	return nil
}

// GetActive returns the active revision or nil when the submission has none.
func (r *MySQLTestcaseDataRepository) GetActive(ctx context.Context, tx db.Transaction, submissionID int64) (*model.TestcaseData, error) {
	query := "SELECT " + testcaseDataColumns + " FROM testcase_data WHERE submission_id = ? AND active = TRUE LIMIT 1"
	data, err := scanTestcaseData(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &data, nil
}

func (r *MySQLTestcaseDataRepository) ListBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) ([]model.TestcaseData, error) {
	query := "SELECT " + testcaseDataColumns + " FROM testcase_data WHERE submission_id = ? ORDER BY creation_time, testcase_data_id"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TestcaseData
	for rows.Next() {
		data, err := scanTestcaseData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func scanTestcaseData(scanner db.Scanner) (model.TestcaseData, error) {
	var data model.TestcaseData
	err := scanner.Scan(
		&data.TestcaseDataID,
		&data.CreationTime,
		&data.CreatorUserID,
		&data.SubmissionID,
		&data.Active,
	)
	return data, err
}

type MySQLTournamentDataRepository struct {
	db db.Database
}

func NewTournamentDataRepository(database db.Database) *MySQLTournamentDataRepository {
	return &MySQLTournamentDataRepository{db: database}
}

const tournamentDataColumns = "tournament_data_id, creation_time, creator_user_id, tournament_id, title, description, active"

func (r *MySQLTournamentDataRepository) Deactivate(ctx context.Context, tx db.Transaction, tournamentID int64) (int64, error) {
	query := "UPDATE tournament_data SET active = FALSE WHERE tournament_id = ? AND active = TRUE"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, tournamentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *MySQLTournamentDataRepository) Create(ctx context.Context, tx db.Transaction, data *model.TournamentData) error {
	if data == nil {
		return errors.New("tournament data is nil")
	}
	if data.CreationTime == 0 {
		data.CreationTime = time.Now().UnixMilli()
	}
	query := `
		INSERT INTO tournament_data
		(creation_time, creator_user_id, tournament_id, title, description, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		data.CreationTime,
		data.CreatorUserID,
		data.TournamentID,
		data.Title,
		data.Description,
		data.Active,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	data.TournamentDataID = id
	return nil
}

func (r *MySQLTournamentDataRepository) GetActive(ctx context.Context, tx db.Transaction, tournamentID int64) (*model.TournamentData, error) {
	query := "SELECT " + tournamentDataColumns + " FROM tournament_data WHERE tournament_id = ? AND active = TRUE LIMIT 1"
	data, err := scanTournamentData(db.GetQuerier(r.db, tx).QueryRow(ctx, query, tournamentID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &data, nil
}

// ListByTournament returns revisions oldest first.
func (r *MySQLTournamentDataRepository) ListByTournament(ctx context.Context, tx db.Transaction, tournamentID int64, onlyActive bool) ([]model.TournamentData, error) {
	query := "SELECT " + tournamentDataColumns + " FROM tournament_data WHERE tournament_id = ?"
	if onlyActive {
		query += " AND active = TRUE"
	}
	query += " ORDER BY creation_time, tournament_data_id"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TournamentData
	for rows.Next() {
		data, err := scanTournamentData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func scanTournamentData(scanner db.Scanner) (model.TournamentData, error) {
	var data model.TournamentData
	err := scanner.Scan(
		&data.TournamentDataID,
		&data.CreationTime,
		&data.CreatorUserID,
		&data.TournamentID,
		&data.Title,
		&data.Description,
		&data.Active,
	)
	return data, err
}

var (
	_ TestcaseDataRepository   = (*MySQLTestcaseDataRepository)(nil)
	_ TournamentDataRepository = (*MySQLTournamentDataRepository)(nil)
)
