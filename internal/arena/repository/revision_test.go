package repository_test

import (
	"context"
	"regexp"
	"testing"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	"pdarena/internal/common/db"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTestcaseDataDeactivateAndCreateInTransaction(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewTestcaseDataRepository(database)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE testcase_data SET active = FALSE WHERE submission_id = ? AND active = TRUE")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO testcase_data")).
		WithArgs(int64(123), int64(9), int64(7), true).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	data := &model.TestcaseData{CreationTime: 123, CreatorUserID: 9, SubmissionID: 7, Active: true}
	err := database.Transaction(context.Background(), func(tx db.Transaction) error {
		n, err := repo.Deactivate(context.Background(), tx, 7)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected one demoted row, got %d", n)
		}
		return repo.Create(context.Background(), tx, data)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if data.TestcaseDataID != 42 {
		t.Fatalf("expected id 42, got %d", data.TestcaseDataID)
	}
	expectationsMet(t, mock)
}

func TestTestcaseDataGetActiveMissing(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewTestcaseDataRepository(database)

	mock.ExpectQuery(regexp.QuoteMeta("FROM testcase_data WHERE submission_id = ? AND active = TRUE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"testcase_data_id", "creation_time", "creator_user_id", "submission_id", "active"}))

	active, err := repo.GetActive(context.Background(), nil, 3)
	if err != nil {
		t.Fatalf("get active failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active revision, got %+v", active)
	}
	expectationsMet(t, mock)
}

func TestTournamentDataListOnlyActive(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewTournamentDataRepository(database)

	cols := []string{"tournament_data_id", "creation_time", "creator_user_id", "tournament_id", "title", "description", "active"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE tournament_id = ? AND active = TRUE ORDER BY creation_time")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(2), int64(20), int64(1), int64(5), "Spring", "desc", true))

	list, err := repo.ListByTournament(context.Background(), nil, 5, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Spring" || !list[0].Active {
		t.Fatalf("unexpected revisions: %+v", list)
	}
	expectationsMet(t, mock)
}

func TestSubmissionLockRequiresTransaction(t *testing.T) {
	t.Parallel()
	database, _ := newMockDB(t)
	repo := repository.NewSubmissionRepository(database, nil)
	if err := repo.LockByID(context.Background(), nil, 1); err == nil {
		t.Fatalf("expected error without transaction")
	}
}

func TestTournamentLockMissing(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewTournamentRepository(database)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tournament_id FROM tournaments WHERE tournament_id = ? FOR UPDATE")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"tournament_id"}))
	mock.ExpectRollback()

	err := database.Transaction(context.Background(), func(tx db.Transaction) error {
		return repo.LockByID(context.Background(), tx, 99)
	})
	if err != repository.ErrTournamentNotFound {
		t.Fatalf("expected ErrTournamentNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}
