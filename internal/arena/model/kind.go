package model

import "strings"

// SubmissionKind is the intent of a TournamentSubmission join record.
type SubmissionKind string

const (
	KindCompete  SubmissionKind = "COMPETE"
	KindValidate SubmissionKind = "VALIDATE"
	KindTestcase SubmissionKind = "TESTCASE"
	KindCancel   SubmissionKind = "CANCEL"
)

// ParseSubmissionKind normalizes raw. Empty input defaults to COMPETE.
func ParseSubmissionKind(raw string) (SubmissionKind, bool) {
	switch SubmissionKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", KindCompete:
		return KindCompete, true
	case KindValidate:
		return KindValidate, true
	case KindTestcase:
		return KindTestcase, true
	case KindCancel:
		return KindCancel, true
	default:
		return "", false
	}
}
