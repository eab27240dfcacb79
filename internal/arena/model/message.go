package model

// ResolveMessage is the Kafka payload asking for a tournament resolution.
type ResolveMessage struct {
	TournamentID int64 `json:"tournament_id"`
}

// Reasons recorded in a RunSummary.
const (
	ReasonSandboxFailure       = "sandbox_failure"
	ReasonDecisionParseFailure = "decision_parse_failure"
	ReasonOrderingViolation    = "ordering_violation"
	ReasonStoreError           = "store_error"
	ReasonCanceled             = "canceled"
)

// Fallback records a side/round that resolved through the fail-closed default.
type Fallback struct {
	SubmissionID         int64  `json:"submission_id"`
	OpponentSubmissionID int64  `json:"opponent_submission_id"`
	Round                int    `json:"round"`
	Attempt              int    `json:"attempt"`
	Reason               string `json:"reason"`
	Detail               string `json:"detail,omitempty"`
}

// PairingFailure records a pairing whose round loop stopped early.
type PairingFailure struct {
	SubmissionID         int64  `json:"submission_id"`
	OpponentSubmissionID int64  `json:"opponent_submission_id"`
	Round                int    `json:"round"`
	Reason               string `json:"reason"`
	Detail               string `json:"detail,omitempty"`
}

// RunSummary is the outcome of one ResolveTournament call.
type RunSummary struct {
	RunID             string           `json:"run_id"`
	TournamentID      int64            `json:"tournament_id"`
	Rounds            int              `json:"rounds"`
	Submissions       []int64          `json:"submissions"`
	Pairings          int              `json:"pairings"`
	CompletedPairings int              `json:"completed_pairings"`
	RowsInserted      int              `json:"rows_inserted"`
	RowsReused        int              `json:"rows_reused"`
	Fallbacks         []Fallback       `json:"fallbacks"`
	FailedPairings    []PairingFailure `json:"failed_pairings"`
	StartedAt         int64            `json:"started_at"`
	FinishedAt        int64            `json:"finished_at"`
}

// SummaryEvent wraps a RunSummary on the summary topic.
type SummaryEvent struct {
	Summary   RunSummary `json:"summary"`
	CreatedAt int64      `json:"created_at"`
}
