package service

import (
	"context"
	"strings"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/sandbox"
	appErr "pdarena/pkg/errors"
)

// Diagnostic markers written at the start of a row's stderr.
const (
	SandboxFailureMarker = "[arena] sandbox failure: "
	ParseFailureMarker   = "[arena] decision parse failure: "

	markerNamespace = "[arena] "
	programPrefix   = "[program] "
)

// ProgramStderr returns the program's stderr as stored on a row. Output that
// would read as one of the diagnostic markers is prefixed so only the engine
// can mark a row as failed.
func ProgramStderr(stderr string) string {
	if strings.HasPrefix(stderr, markerNamespace) || strings.HasPrefix(stderr, programPrefix) {
		return programPrefix + stderr
	}
	return stderr
}

// Outcome is one successful sandbox run turned into a decision.
type Outcome struct {
	Decision     model.Decision
	Stdout       string
	Stderr       string
	ParseFailure bool
}

// Evaluator resolves one side of one round.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, history []model.Turn) (Outcome, error)
}

// RoundEvaluator runs a submission against its visible history and reads its move.
type RoundEvaluator struct {
	sandbox     sandbox.Client
	timeLimit   time.Duration
	parsePolicy model.Decision
}

// NewRoundEvaluator creates an evaluator. parsePolicy is the decision used when
// stdout cannot be parsed.
func NewRoundEvaluator(client sandbox.Client, timeLimit time.Duration, parsePolicy model.Decision) *RoundEvaluator {
	return &RoundEvaluator{sandbox: client, timeLimit: timeLimit, parsePolicy: parsePolicy}
}

// Evaluate returns a *sandbox.Failure when the run itself failed. A run whose
// output cannot be parsed is not an error: it resolves to the parse policy.
func (e *RoundEvaluator) Evaluate(ctx context.Context, code string, history []model.Turn) (Outcome, error) {
	res, err := e.sandbox.Execute(ctx, sandbox.Request{
		Code:      code,
		Stdin:     sandbox.EncodeHistory(history),
		TimeLimit: e.timeLimit,
	})
	if err != nil {
		return Outcome{}, err
	}

	decision, err := ParseDecision(res.Stdout)
	if err != nil {
		return Outcome{
			Decision:     e.parsePolicy,
			Stdout:       res.Stdout,
			Stderr:       ParseFailureMarker + err.Error() + "\n" + res.Stderr,
			ParseFailure: true,
		}, nil
	}
	return Outcome{Decision: decision, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

// ParseDecision reads the first whitespace-separated token of stdout.
// D or DEFECT in any case means defect; any other token of ASCII letters means cooperate.
func ParseDecision(stdout string) (model.Decision, error) {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return model.Defect, appErr.New(appErr.DecisionParseFailure).WithMessage("empty output")
	}
	token := fields[0]
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return model.Defect, appErr.New(appErr.DecisionParseFailure).WithMessagef("malformed token %q", clip(token, 32))
		}
	}
	switch strings.ToUpper(token) {
	case "D", "DEFECT":
		return model.Defect, nil
	default:
		return model.Cooperate, nil
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
