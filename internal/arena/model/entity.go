package model

// Submission is immutable user code. New code means a new Submission.
type Submission struct {
	SubmissionID  int64  `json:"submission_id"`
	CreationTime  int64  `json:"creation_time"`
	CreatorUserID int64  `json:"creator_user_id"`
	Code          string `json:"code"`
}

// TestcaseData is a versioned annotation of a Submission.
// At most one row per submission is active.
type TestcaseData struct {
	TestcaseDataID int64 `json:"testcase_data_id"`
	CreationTime   int64 `json:"creation_time"`
	CreatorUserID  int64 `json:"creator_user_id"`
	SubmissionID   int64 `json:"submission_id"`
	Active         bool  `json:"active"`
}

// Tournament is an immutable container of submissions.
type Tournament struct {
	TournamentID  int64 `json:"tournament_id"`
	CreationTime  int64 `json:"creation_time"`
	CreatorUserID int64 `json:"creator_user_id"`
}

// TournamentData is a revision of a tournament's title and description.
type TournamentData struct {
	TournamentDataID int64  `json:"tournament_data_id"`
	CreationTime     int64  `json:"creation_time"`
	CreatorUserID    int64  `json:"creator_user_id"`
	TournamentID     int64  `json:"tournament_id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Active           bool   `json:"active"`
}

// TournamentSubmission records that a submission entered a tournament.
type TournamentSubmission struct {
	TournamentSubmissionID int64          `json:"tournament_submission_id"`
	CreationTime           int64          `json:"creation_time"`
	CreatorUserID          int64          `json:"creator_user_id"`
	TournamentID           int64          `json:"tournament_id"`
	SubmissionID           int64          `json:"submission_id"`
	Kind                   SubmissionKind `json:"kind"`
}

// MatchResolution is one attempt at one round of one directed pairing.
// (SubmissionID, OpponentSubmissionID, Round, Attempt) is unique; rows are never updated.
type MatchResolution struct {
	SubmissionID         int64  `json:"submission_id"`
	OpponentSubmissionID int64  `json:"opponent_submission_id"`
	Round                int    `json:"round"`
	Attempt              int    `json:"attempt"`
	CreationTime         int64  `json:"creation_time"`
	Defected             bool   `json:"defected"`
	Stdout               string `json:"stdout"`
	Stderr               string `json:"stderr"`
}

// Decision returns the recorded move.
func (m *MatchResolution) Decision() Decision {
	if m.Defected {
		return Defect
	}
	return Cooperate
}

// MatchResolutionFilter narrows ViewMatchResolutions. Empty slices and zero bounds match everything.
type MatchResolutionFilter struct {
	SubmissionIDs   []int64 `json:"submission_ids" form:"submission_id"`
	OpponentIDs     []int64 `json:"opponent_submission_ids" form:"opponent_submission_id"`
	Rounds          []int   `json:"rounds" form:"round"`
	MinCreationTime int64   `json:"min_creation_time" form:"min_creation_time"`
	MaxCreationTime int64   `json:"max_creation_time" form:"max_creation_time"`
	Limit           int     `json:"limit" form:"limit"`
}

// SubmissionFilter narrows ViewSubmissions.
type SubmissionFilter struct {
	SubmissionIDs   []int64 `json:"submission_ids" form:"submission_id"`
	CreatorUserIDs  []int64 `json:"creator_user_ids" form:"creator_user_id"`
	MinCreationTime int64   `json:"min_creation_time" form:"min_creation_time"`
	MaxCreationTime int64   `json:"max_creation_time" form:"max_creation_time"`
	Limit           int     `json:"limit" form:"limit"`
}

// TournamentSubmissionFilter narrows the join records of one tournament.
// OnlyRecent keeps only the latest record per submission before the other filters apply.
type TournamentSubmissionFilter struct {
	TournamentSubmissionIDs []int64        `json:"tournament_submission_ids" form:"tournament_submission_id"`
	SubmissionIDs           []int64        `json:"submission_ids" form:"submission_id"`
	CreatorUserIDs          []int64        `json:"creator_user_ids" form:"creator_user_id"`
	Kind                    SubmissionKind `json:"kind" form:"kind"`
	MinCreationTime         int64          `json:"min_creation_time" form:"min_creation_time"`
	MaxCreationTime         int64          `json:"max_creation_time" form:"max_creation_time"`
	OnlyRecent              bool           `json:"only_recent" form:"only_recent"`
	Limit                   int            `json:"limit" form:"limit"`
}
