package repository

import (
	"context"
	"errors"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/db"
)

var (
	ErrTournamentNotFound = errors.New("tournament not found")
)

// TournamentRepository defines tournament persistence interfaces.
type TournamentRepository interface {
	Create(ctx context.Context, tx db.Transaction, tournament *model.Tournament) error
	GetByID(ctx context.Context, tx db.Transaction, tournamentID int64) (*model.Tournament, error)
	// LockByID takes a row lock on the tournament; tx is required.
	LockByID(ctx context.Context, tx db.Transaction, tournamentID int64) error
}

// MySQLTournamentRepository implements TournamentRepository with MySQL.
type MySQLTournamentRepository struct {
	db db.Database
}

func NewTournamentRepository(database db.Database) *MySQLTournamentRepository {
	return &MySQLTournamentRepository{db: database}
}

func (r *MySQLTournamentRepository) Create(ctx context.Context, tx db.Transaction, tournament *model.Tournament) error {
	if tournament == nil {
		return errors.New("tournament is nil")
	}
	if tournament.CreationTime == 0 {
		tournament.CreationTime = time.Now().UnixMilli()
	}
	query := "INSERT INTO tournaments (creation_time, creator_user_id) VALUES (?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, tournament.CreationTime, tournament.CreatorUserID)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	tournament.TournamentID = id
	return nil
}

func (r *MySQLTournamentRepository) GetByID(ctx context.Context, tx db.Transaction, tournamentID int64) (*model.Tournament, error) {
	query := "SELECT tournament_id, creation_time, creator_user_id FROM tournaments WHERE tournament_id = ? LIMIT 1"
	tournament := &model.Tournament{}
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, tournamentID).Scan(
		&tournament.TournamentID,
		&tournament.CreationTime,
		&tournament.CreatorUserID,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return tournament, nil
}

func (r *MySQLTournamentRepository) LockByID(ctx context.Context, tx db.Transaction, tournamentID int64) error {
	if tx == nil {
		return errors.New("lock requires a transaction")
	}
	var id int64
	query := "SELECT tournament_id FROM tournaments WHERE tournament_id = ? FOR UPDATE"
	if err := tx.QueryRow(ctx, query, tournamentID).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return ErrTournamentNotFound
		}
		return err
	}
	return nil
}

var _ TournamentRepository = (*MySQLTournamentRepository)(nil)
