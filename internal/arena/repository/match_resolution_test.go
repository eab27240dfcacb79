package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func TestMatchResolutionInsert(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)

	row := sampleRow()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO match_resolutions")).
		WithArgs(int64(1), int64(2), 1, 1, int64(1700000000000), false, "C\n", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Insert(context.Background(), row)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Fatalf("expected inserted=true")
	}
	expectationsMet(t, mock)
}

func TestMatchResolutionInsertDuplicateIsNoop(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO match_resolutions")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1-2-1-1' for key 'PRIMARY'"})

	inserted, err := repo.Insert(context.Background(), sampleRow())
	if err != nil {
		t.Fatalf("duplicate insert should succeed, got %v", err)
	}
	if inserted {
		t.Fatalf("expected inserted=false for duplicate")
	}
	expectationsMet(t, mock)
}

func TestMatchResolutionInsertPropagatesErrors(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO match_resolutions")).
		WillReturnError(errors.New("connection reset"))

	if _, err := repo.Insert(context.Background(), sampleRow()); err == nil {
		t.Fatalf("expected error")
	}
	expectationsMet(t, mock)
}

func TestMatchResolutionInsertRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	database, _ := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)
	row := sampleRow()
	row.Attempt = 0
	if _, err := repo.Insert(context.Background(), row); err == nil {
		t.Fatalf("expected error for attempt 0")
	}
}

func TestMatchResolutionHistory(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)

	rows := sqlmock.NewRows(matchResolutionCols).
		AddRow(int64(1), int64(2), 1, 1, int64(10), false, "C", "").
		AddRow(int64(2), int64(1), 1, 1, int64(11), true, "D", "")
	mock.ExpectQuery(regexp.QuoteMeta("AND round < ?")).
		WithArgs(int64(1), int64(2), int64(2), int64(1), 2).
		WillReturnRows(rows)

	history, err := repo.History(context.Background(), 1, 2, 2)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(history))
	}
	if history[1].Decision() != model.Defect {
		t.Fatalf("expected second row to defect")
	}
	expectationsMet(t, mock)
}

func TestMatchResolutionAttempts(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)

	rows := sqlmock.NewRows(matchResolutionCols).
		AddRow(int64(1), int64(2), 3, 1, int64(10), true, "", "[arena] sandbox failure: timeout").
		AddRow(int64(1), int64(2), 3, 2, int64(11), false, "C", "")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY attempt")).
		WithArgs(int64(1), int64(2), 3).
		WillReturnRows(rows)

	attempts, err := repo.Attempts(context.Background(), 1, 2, 3)
	if err != nil {
		t.Fatalf("attempts failed: %v", err)
	}
	if len(attempts) != 2 || attempts[1].Attempt != 2 {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
	expectationsMet(t, mock)
}

func TestMatchResolutionView(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	repo := repository.NewMatchResolutionRepository(database)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE submission_id IN (?,?) AND round IN (?) AND creation_time >= ?")).
		WithArgs(int64(1), int64(2), 4, int64(100), 500).
		WillReturnRows(sqlmock.NewRows(matchResolutionCols))

	_, err := repo.View(context.Background(), model.MatchResolutionFilter{
		SubmissionIDs:   []int64{1, 2},
		Rounds:          []int{4},
		MinCreationTime: 100,
	})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	expectationsMet(t, mock)
}
