package repository_test

import (
	"context"
	"testing"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/cache"
	"pdarena/internal/common/db"
	"pdarena/internal/common/mq"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMockDB(t *testing.T) (*db.MySQL, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	database, err := db.NewMySQLWithDB(sqlDB)
	if err != nil {
		t.Fatalf("wrap db: %v", err)
	}
	return database, mock
}

func newMiniredisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

var matchResolutionCols = []string{
	"submission_id", "opponent_submission_id", "round", "attempt",
	"creation_time", "defected", "stdout", "stderr",
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	published []publishedMessage
	err       error
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

func (f *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (f *fakeQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (f *fakeQueue) Start() error { return nil }

func (f *fakeQueue) Stop() error { return nil }

func (f *fakeQueue) Ping(ctx context.Context) error { return nil }

func (f *fakeQueue) Close() error { return nil }

func sampleRow() *model.MatchResolution {
	return &model.MatchResolution{
		SubmissionID:         1,
		OpponentSubmissionID: 2,
		Round:                1,
		Attempt:              1,
		CreationTime:         1700000000000,
		Stdout:               "C\n",
	}
}
