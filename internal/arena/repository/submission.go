package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/cache"
	"pdarena/internal/common/db"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
	submissionCacheKeyPrefix       = "arena:submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error)
	// LockByID takes a row lock on the submission; tx is required.
	LockByID(ctx context.Context, tx db.Transaction, submissionID int64) error
	// View lists submissions ordered by id. It reads the database, not the cache.
	View(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
// Submissions never change, so cached rows are never invalidated.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *MySQLSubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const submissionColumns = "submission_id, creation_time, creator_user_id, code"

// Create inserts a submission and fills its id.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.CreationTime == 0 {
		submission.CreationTime = time.Now().UnixMilli()
	}

	query := "INSERT INTO submissions (creation_time, creator_user_id, code) VALUES (?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, submission.CreationTime, submission.CreatorUserID, submission.Code)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	submission.SubmissionID = id
	// An earlier miss may have cached a null marker for this id.
	if r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKey(id))
	}
	return nil
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	if submissionID <= 0 {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*model.Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *model.Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*model.Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

// LockByID locks the submission row for the rest of tx.
func (r *MySQLSubmissionRepository) LockByID(ctx context.Context, tx db.Transaction, submissionID int64) error {
	if tx == nil {
		return errors.New("lock requires a transaction")
	}
	var id int64
	query := "SELECT submission_id FROM submissions WHERE submission_id = ? FOR UPDATE"
	if err := tx.QueryRow(ctx, query, submissionID).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return ErrSubmissionNotFound
		}
		return err
	}
	return nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission := &model.Submission{}
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.CreationTime,
		&submission.CreatorUserID,
		&submission.Code,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) View(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	var where whereClause
	addIn(&where, "submission_id", filter.SubmissionIDs)
	addIn(&where, "creator_user_id", filter.CreatorUserIDs)
	where.creationRange("creation_time", filter.MinCreationTime, filter.MaxCreationTime)

	query := "SELECT " + submissionColumns + " FROM submissions" + where.String() + " ORDER BY submission_id LIMIT ?"
	args := append(where.args, clampLimit(filter.Limit))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.SubmissionID, &s.CreationTime, &s.CreatorUserID, &s.Code); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func submissionCacheKey(submissionID int64) string {
	return submissionCacheKeyPrefix + strconv.FormatInt(submissionID, 10)
}

func marshalSubmission(submission *model.Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*model.Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission model.Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
