package model

import (
	"fmt"
	"strings"
)

// Decision is a single-round move.
type Decision uint8

const (
	Cooperate Decision = iota
	Defect
)

// Move returns the history letter for d.
func (d Decision) Move() byte {
	if d == Defect {
		return 'D'
	}
	return 'C'
}

func (d Decision) String() string {
	if d == Defect {
		return "defect"
	}
	return "cooperate"
}

// ParseDecision reads a configured policy value such as "defect" or "cooperate".
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "defect", "d":
		return Defect, nil
	case "cooperate", "c":
		return Cooperate, nil
	default:
		return Defect, fmt.Errorf("unknown decision %q", raw)
	}
}

// Turn is one resolved round seen from one side.
type Turn struct {
	Own      Decision
	Opponent Decision
}
