package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/arena/sandbox"
	"pdarena/internal/arena/service"
	appErr "pdarena/pkg/errors"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    model.Decision
		wantErr bool
	}{
		{name: "cooperate letter", stdout: "C\n", want: model.Cooperate},
		{name: "defect letter", stdout: "D\n", want: model.Defect},
		{name: "defect word lower case", stdout: "  defect extra words\n", want: model.Defect},
		{name: "other word cooperates", stdout: "cooperate", want: model.Cooperate},
		{name: "unknown letters cooperate", stdout: "X", want: model.Cooperate},
		{name: "empty output", stdout: "", want: model.Defect, wantErr: true},
		{name: "whitespace only", stdout: " \n\t", want: model.Defect, wantErr: true},
		{name: "digits", stdout: "1\n", want: model.Defect, wantErr: true},
		{name: "punctuation", stdout: "D!", want: model.Defect, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := service.ParseDecision(tt.stdout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if err != nil && !appErr.Is(err, appErr.DecisionParseFailure) {
				t.Fatalf("expected decision parse failure code, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRoundEvaluatorPassesHistory(t *testing.T) {
	var got sandbox.Request
	sb := &fakeSandbox{fn: func(req sandbox.Request) (sandbox.Result, error) {
		got = req
		return okResult("D\n")
	}}
	evaluator := service.NewRoundEvaluator(sb, 3*time.Second, model.Defect)

	history := []model.Turn{
		{Own: model.Cooperate, Opponent: model.Defect},
		{Own: model.Defect, Opponent: model.Defect},
	}
	out, err := evaluator.Evaluate(context.Background(), "code", history)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if out.Decision != model.Defect || out.ParseFailure {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if got.Code != "code" || got.TimeLimit != 3*time.Second {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Stdin != "2\nC D\nD D\n" {
		t.Fatalf("unexpected stdin %q", got.Stdin)
	}
}

func TestRoundEvaluatorParseFailureUsesPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy model.Decision
	}{
		{name: "defect policy", policy: model.Defect},
		{name: "cooperate policy", policy: model.Cooperate},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sb := &fakeSandbox{fn: func(req sandbox.Request) (sandbox.Result, error) {
				return sandbox.Result{Stdout: "42\n", Stderr: "warning", Status: sandbox.StatusOK}, nil
			}}
			evaluator := service.NewRoundEvaluator(sb, time.Second, tt.policy)
			out, err := evaluator.Evaluate(context.Background(), "code", nil)
			if err != nil {
				t.Fatalf("parse failure must not be an error: %v", err)
			}
			if !out.ParseFailure || out.Decision != tt.policy {
				t.Fatalf("unexpected outcome: %+v", out)
			}
			if !strings.HasPrefix(out.Stderr, service.ParseFailureMarker) || !strings.HasSuffix(out.Stderr, "\nwarning") {
				t.Fatalf("unexpected stderr %q", out.Stderr)
			}
			if out.Stdout != "42\n" {
				t.Fatalf("stdout not kept: %q", out.Stdout)
			}
		})
	}
}

func TestRoundEvaluatorReturnsSandboxFailure(t *testing.T) {
	sb := &fakeSandbox{fn: func(req sandbox.Request) (sandbox.Result, error) {
		return sandbox.Result{}, &sandbox.Failure{Status: sandbox.StatusTimeout}
	}}
	evaluator := service.NewRoundEvaluator(sb, time.Second, model.Defect)
	_, err := evaluator.Evaluate(context.Background(), "code", nil)
	failure, ok := sandbox.AsFailure(err)
	if !ok || failure.Status != sandbox.StatusTimeout {
		t.Fatalf("expected timeout failure, got %v", err)
	}
}

func TestProgramStderr(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "debug line\n", want: "debug line\n"},
		{name: "empty", in: "", want: ""},
		{name: "marker", in: service.SandboxFailureMarker + "ok", want: "[program] " + service.SandboxFailureMarker + "ok"},
		{name: "already prefixed", in: "[program] x", want: "[program] [program] x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ProgramStderr(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
