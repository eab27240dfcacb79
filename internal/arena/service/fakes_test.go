package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/repository"
	"pdarena/internal/arena/sandbox"
	"pdarena/internal/arena/service"
	"pdarena/internal/common/db"
)

var errNotSupported = errors.New("not supported by fake")

// ---- database ----

type fakeDB struct {
	mu      sync.Mutex
	txErrs  []error
	txCalls int
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errNotSupported
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return fakeRow{}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errNotSupported
}

// Transaction serializes callers, standing in for the owner row lock.
func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if len(f.txErrs) > 0 {
		err := f.txErrs[0]
		f.txErrs = f.txErrs[1:]
		return err
	}
	return fn(fakeTx{})
}

func (f *fakeDB) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	return fakeTx{}, nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }

func (f *fakeDB) Close() error { return nil }

type fakeTx struct{}

func (fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errNotSupported
}

func (fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return fakeRow{}
}

func (fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errNotSupported
}

func (fakeTx) Commit() error { return nil }

func (fakeTx) Rollback() error { return nil }

type fakeRow struct{}

func (fakeRow) Scan(dest ...interface{}) error { return errNotSupported }

// ---- entity repositories ----

type memState struct {
	mu          sync.Mutex
	nextID      int64
	submissions map[int64]model.Submission
	tournaments map[int64]model.Tournament
	testcase    []model.TestcaseData
	tdata       []model.TournamentData
	joins       []model.TournamentSubmission
}

func newMemState() *memState {
	return &memState{
		submissions: make(map[int64]model.Submission),
		tournaments: make(map[int64]model.Tournament),
	}
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memState) activeTestcaseCount(submissionID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.testcase {
		if d.SubmissionID == submissionID && d.Active {
			n++
		}
	}
	return n
}

func (s *memState) activeTournamentDataCount(tournamentID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.tdata {
		if d.TournamentID == tournamentID && d.Active {
			n++
		}
	}
	return n
}

type memSubmissions struct{ s *memState }

func (r memSubmissions) Create(ctx context.Context, tx db.Transaction, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub.SubmissionID = r.s.id()
	r.s.submissions[sub.SubmissionID] = *sub
	return nil
}

func (r memSubmissions) GetByID(ctx context.Context, tx db.Transaction, id int64) (*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (r memSubmissions) LockByID(ctx context.Context, tx db.Transaction, id int64) error {
	if tx == nil {
		return errors.New("lock requires a transaction")
	}
	_, err := r.GetByID(ctx, tx, id)
	return err
}

func (r memSubmissions) View(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Submission
	for _, sub := range r.s.submissions {
		if len(filter.SubmissionIDs) > 0 && !containsID(filter.SubmissionIDs, sub.SubmissionID) {
			continue
		}
		if len(filter.CreatorUserIDs) > 0 && !containsID(filter.CreatorUserIDs, sub.CreatorUserID) {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmissionID < out[j].SubmissionID })
	return out, nil
}

type memTournaments struct{ s *memState }

func (r memTournaments) Create(ctx context.Context, tx db.Transaction, t *model.Tournament) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.TournamentID = r.s.id()
	r.s.tournaments[t.TournamentID] = *t
	return nil
}

func (r memTournaments) GetByID(ctx context.Context, tx db.Transaction, id int64) (*model.Tournament, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tournaments[id]
	if !ok {
		return nil, repository.ErrTournamentNotFound
	}
	return &t, nil
}

func (r memTournaments) LockByID(ctx context.Context, tx db.Transaction, id int64) error {
	if tx == nil {
		return errors.New("lock requires a transaction")
	}
	_, err := r.GetByID(ctx, tx, id)
	return err
}

type memTestcaseData struct{ s *memState }

func (r memTestcaseData) Deactivate(ctx context.Context, tx db.Transaction, submissionID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.testcase {
		if r.s.testcase[i].SubmissionID == submissionID && r.s.testcase[i].Active {
			r.s.testcase[i].Active = false
			n++
		}
	}
	return n, nil
}

func (r memTestcaseData) Create(ctx context.Context, tx db.Transaction, data *model.TestcaseData) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if data.Active {
		for _, d := range r.s.testcase {
			if d.SubmissionID == data.SubmissionID && d.Active {
				return fmt.Errorf("duplicate active revision for %d", data.SubmissionID)
			}
		}
	}
	data.TestcaseDataID = r.s.id()
	r.s.testcase = append(r.s.testcase, *data)
	return nil
}

func (r memTestcaseData) GetActive(ctx context.Context, tx db.Transaction, submissionID int64) (*model.TestcaseData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.testcase {
		if d.SubmissionID == submissionID && d.Active {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (r memTestcaseData) ListBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) ([]model.TestcaseData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.TestcaseData
	for _, d := range r.s.testcase {
		if d.SubmissionID == submissionID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memTournamentData struct{ s *memState }

func (r memTournamentData) Deactivate(ctx context.Context, tx db.Transaction, tournamentID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.tdata {
		if r.s.tdata[i].TournamentID == tournamentID && r.s.tdata[i].Active {
			r.s.tdata[i].Active = false
			n++
		}
	}
	return n, nil
}

func (r memTournamentData) Create(ctx context.Context, tx db.Transaction, data *model.TournamentData) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	data.TournamentDataID = r.s.id()
	r.s.tdata = append(r.s.tdata, *data)
	return nil
}

func (r memTournamentData) GetActive(ctx context.Context, tx db.Transaction, tournamentID int64) (*model.TournamentData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.tdata {
		if d.TournamentID == tournamentID && d.Active {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (r memTournamentData) ListByTournament(ctx context.Context, tx db.Transaction, tournamentID int64, onlyActive bool) ([]model.TournamentData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.TournamentData
	for _, d := range r.s.tdata {
		if d.TournamentID == tournamentID && (!onlyActive || d.Active) {
			out = append(out, d)
		}
	}
	return out, nil
}

type memJoins struct{ s *memState }

func (r memJoins) Create(ctx context.Context, tx db.Transaction, entry *model.TournamentSubmission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.TournamentSubmissionID = r.s.id()
	r.s.joins = append(r.s.joins, *entry)
	return nil
}

func (r memJoins) ListCompeting(ctx context.Context, tx db.Transaction, tournamentID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	latest := make(map[int64]model.TournamentSubmission)
	for _, j := range r.s.joins {
		if j.TournamentID != tournamentID {
			continue
		}
		if prev, ok := latest[j.SubmissionID]; !ok || j.TournamentSubmissionID > prev.TournamentSubmissionID {
			latest[j.SubmissionID] = j
		}
	}
	var ids []int64
	for id, j := range latest {
		if j.Kind != model.KindCompete {
			continue
		}
		for _, d := range r.s.testcase {
			if d.SubmissionID == id && d.Active {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r memJoins) View(ctx context.Context, tournamentID int64, filter model.TournamentSubmissionFilter) ([]model.TournamentSubmission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	latest := make(map[int64]int64)
	for _, j := range r.s.joins {
		if j.TournamentID == tournamentID && j.TournamentSubmissionID > latest[j.SubmissionID] {
			latest[j.SubmissionID] = j.TournamentSubmissionID
		}
	}
	var out []model.TournamentSubmission
	for _, j := range r.s.joins {
		if j.TournamentID != tournamentID {
			continue
		}
		if filter.OnlyRecent && latest[j.SubmissionID] != j.TournamentSubmissionID {
			continue
		}
		if len(filter.SubmissionIDs) > 0 && !containsID(filter.SubmissionIDs, j.SubmissionID) {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].TournamentSubmissionID < out[k].TournamentSubmissionID })
	return out, nil
}

// ---- result store ----

type resKey struct {
	sub, opp       int64
	round, attempt int
}

type memResults struct {
	mu          sync.Mutex
	rows        []model.MatchResolution
	keys        map[resKey]struct{}
	violations  []string
	hideHistory func(a, b int64) bool
	insertErr   error
}

func newMemResults() *memResults {
	return &memResults{keys: make(map[resKey]struct{})}
}

// Insert also records any row written before the previous round exists in both directions.
func (m *memResults) Insert(ctx context.Context, row *model.MatchResolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	k := resKey{row.SubmissionID, row.OpponentSubmissionID, row.Round, row.Attempt}
	if _, ok := m.keys[k]; ok {
		return false, nil
	}
	if row.Round > 1 && (!m.hasRound(row.SubmissionID, row.OpponentSubmissionID, row.Round-1) ||
		!m.hasRound(row.OpponentSubmissionID, row.SubmissionID, row.Round-1)) {
		m.violations = append(m.violations, fmt.Sprintf("%d vs %d round %d", row.SubmissionID, row.OpponentSubmissionID, row.Round))
	}
	m.keys[k] = struct{}{}
	m.rows = append(m.rows, *row)
	return true, nil
}

func (m *memResults) hasRound(sub, opp int64, round int) bool {
	for _, r := range m.rows {
		if r.SubmissionID == sub && r.OpponentSubmissionID == opp && r.Round == round {
			return true
		}
	}
	return false
}

func (m *memResults) Attempts(ctx context.Context, sub, opp int64, round int) ([]model.MatchResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MatchResolution
	for _, r := range m.rows {
		if r.SubmissionID == sub && r.OpponentSubmissionID == opp && r.Round == round {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (m *memResults) History(ctx context.Context, a, b int64, beforeRound int) ([]model.MatchResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideHistory != nil && m.hideHistory(a, b) {
		return nil, nil
	}
	var out []model.MatchResolution
	for _, r := range m.rows {
		pair := (r.SubmissionID == a && r.OpponentSubmissionID == b) || (r.SubmissionID == b && r.OpponentSubmissionID == a)
		if pair && (beforeRound <= 0 || r.Round < beforeRound) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].SubmissionID < out[j].SubmissionID
	})
	return out, nil
}

func (m *memResults) View(ctx context.Context, filter model.MatchResolutionFilter) ([]model.MatchResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MatchResolution
	for _, r := range m.rows {
		if len(filter.SubmissionIDs) > 0 && !containsID(filter.SubmissionIDs, r.SubmissionID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memResults) all() []model.MatchResolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.MatchResolution(nil), m.rows...)
}

func (m *memResults) side(sub, opp int64) []model.MatchResolution {
	var out []model.MatchResolution
	for _, r := range m.all() {
		if r.SubmissionID == sub && r.OpponentSubmissionID == opp {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ---- sandbox ----

type fakeSandbox struct {
	calls atomic.Int64
	fn    func(req sandbox.Request) (sandbox.Result, error)
}

func (f *fakeSandbox) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	f.calls.Add(1)
	if f.fn == nil {
		return strategies(req)
	}
	return f.fn(req)
}

func okResult(stdout string) (sandbox.Result, error) {
	return sandbox.Result{Stdout: stdout, Status: sandbox.StatusOK}, nil
}

// strategies interprets the submission code as the name of a canned behavior.
func strategies(req sandbox.Request) (sandbox.Result, error) {
	switch req.Code {
	case "always-c":
		return okResult("C\n")
	case "always-d":
		return okResult("D\n")
	case "garbage":
		return okResult("??\n")
	case "timeout":
		return sandbox.Result{}, &sandbox.Failure{Status: sandbox.StatusTimeout, Stderr: "killed"}
	case "tit-for-tat":
		lines := strings.Split(strings.TrimSpace(req.Stdin), "\n")
		if len(lines) <= 1 {
			return okResult("C\n")
		}
		fields := strings.Fields(lines[len(lines)-1])
		return okResult(fields[1] + "\n")
	default:
		return sandbox.Result{}, &sandbox.Failure{Status: sandbox.StatusRuntimeError, Stderr: "unknown strategy"}
	}
}

// ---- run lock / publisher ----

type fakeRunLock struct {
	mu       sync.Mutex
	held     map[int64]bool
	releases int
}

func (l *fakeRunLock) Acquire(ctx context.Context, tournamentID int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[int64]bool)
	}
	if l.held[tournamentID] {
		return "", nil
	}
	l.held[tournamentID] = true
	return "token", nil
}

func (l *fakeRunLock) Extend(ctx context.Context, tournamentID int64, token string) (bool, error) {
	return true, nil
}

func (l *fakeRunLock) Release(ctx context.Context, tournamentID int64, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, tournamentID)
	l.releases++
	return nil
}

func (l *fakeRunLock) TTL() time.Duration { return time.Minute }

type fakePublisher struct {
	mu        sync.Mutex
	summaries []model.RunSummary
	err       error
}

func (p *fakePublisher) PublishSummary(ctx context.Context, summary model.RunSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, summary)
	return p.err
}

// ---- wiring ----

type testEnv struct {
	engine    *service.Engine
	db        *fakeDB
	state     *memState
	results   *memResults
	sandbox   *fakeSandbox
	lock      *fakeRunLock
	publisher *fakePublisher
}

func newTestEnv(t *testing.T, opts service.EngineOptions) *testEnv {
	t.Helper()
	env := &testEnv{
		db:        &fakeDB{},
		state:     newMemState(),
		results:   newMemResults(),
		sandbox:   &fakeSandbox{},
		lock:      &fakeRunLock{},
		publisher: &fakePublisher{},
	}
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	engine, err := service.NewEngine(service.EngineDeps{
		DB:                    env.db,
		Submissions:           memSubmissions{env.state},
		Tournaments:           memTournaments{env.state},
		TestcaseData:          memTestcaseData{env.state},
		TournamentData:        memTournamentData{env.state},
		TournamentSubmissions: memJoins{env.state},
		Results:               env.results,
		Sandbox:               env.sandbox,
		RunLock:               env.lock,
		Publisher:             env.publisher,
	}, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env.engine = engine
	return env
}

// enter creates a submission with code and enters it into the tournament.
func (env *testEnv) enter(t *testing.T, tournamentID int64, code string) int64 {
	t.Helper()
	ctx := context.Background()
	res, err := env.engine.CreateSubmission(ctx, service.CreateSubmissionInput{CreatorUserID: 1, Code: code})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	_, err = env.engine.CreateTournamentSubmission(ctx, service.CreateTournamentSubmissionInput{
		TournamentID:  tournamentID,
		SubmissionID:  res.Submission.SubmissionID,
		CreatorUserID: 1,
	})
	if err != nil {
		t.Fatalf("enter tournament: %v", err)
	}
	return res.Submission.SubmissionID
}

func (env *testEnv) tournament(t *testing.T) int64 {
	t.Helper()
	res, err := env.engine.CreateTournament(context.Background(), service.CreateTournamentInput{CreatorUserID: 1, Title: "arena"})
	if err != nil {
		t.Fatalf("create tournament: %v", err)
	}
	return res.Tournament.TournamentID
}
