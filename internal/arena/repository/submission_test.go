package repository_test

import (
	"context"
	"regexp"
	"testing"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	"pdarena/internal/common/cache"

	"github.com/DATA-DOG/go-sqlmock"
)

var submissionCols = []string{"submission_id", "creation_time", "creator_user_id", "code"}

func TestSubmissionGetByIDUsesCache(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	c, _ := newMiniredisCache(t)
	repo := repository.NewSubmissionRepository(database, c)

	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions WHERE submission_id = ?")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(submissionCols).AddRow(int64(4), int64(1), int64(2), "print('C')"))

	for i := 0; i < 2; i++ {
		sub, err := repo.GetByID(context.Background(), nil, 4)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if sub.Code != "print('C')" {
			t.Fatalf("unexpected code: %q", sub.Code)
		}
	}
	expectationsMet(t, mock)
}

func TestSubmissionGetByIDCachesMiss(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	c, mr := newMiniredisCache(t)
	repo := repository.NewSubmissionRepository(database, c)

	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions WHERE submission_id = ?")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(submissionCols))

	for i := 0; i < 2; i++ {
		if _, err := repo.GetByID(context.Background(), nil, 9); err != repository.ErrSubmissionNotFound {
			t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
		}
	}
	if got, _ := mr.Get("arena:submission:9"); got != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", got)
	}
	expectationsMet(t, mock)
}

func TestSubmissionCreateClearsNullMarker(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	c, mr := newMiniredisCache(t)
	repo := repository.NewSubmissionRepository(database, c)
	if err := mr.Set("arena:submission:12", cache.NullCacheValue); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submissions (creation_time, creator_user_id, code) VALUES (?, ?, ?)")).
		WithArgs(int64(5), int64(1), "x").
		WillReturnResult(sqlmock.NewResult(12, 1))

	sub := &model.Submission{CreationTime: 5, CreatorUserID: 1, Code: "x"}
	if err := repo.Create(context.Background(), nil, sub); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sub.SubmissionID != 12 {
		t.Fatalf("expected id 12, got %d", sub.SubmissionID)
	}
	if mr.Exists("arena:submission:12") {
		t.Fatalf("expected null marker removed")
	}
	expectationsMet(t, mock)
}

func TestSubmissionView(t *testing.T) {
	t.Parallel()
	database, mock := newMockDB(t)
	c, _ := newMiniredisCache(t)
	repo := repository.NewSubmissionRepository(database, c)

	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions WHERE creator_user_id IN (?) AND creation_time <= ? ORDER BY submission_id LIMIT ?")).
		WithArgs(int64(9), int64(200), 10).
		WillReturnRows(sqlmock.NewRows(submissionCols).
			AddRow(int64(1), int64(100), int64(9), "a").
			AddRow(int64(3), int64(150), int64(9), "b"))

	subs, err := repo.View(context.Background(), model.SubmissionFilter{
		CreatorUserIDs:  []int64{9},
		MaxCreationTime: 200,
		Limit:           10,
	})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if len(subs) != 2 || subs[1].SubmissionID != 3 || subs[1].Code != "b" {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
	expectationsMet(t, mock)
}
