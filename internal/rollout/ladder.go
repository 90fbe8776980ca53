package rollout

import (
	"fmt"
	"strconv"
	"strings"
)

// Ladder is the fixed, ordered set of allowed exposure percentages. A
// feature's percent is always exactly one rung; promotions and rollbacks move
// one rung at a time and never skip.
type Ladder []int

// DefaultLadder returns the standard exposure ladder.
func DefaultLadder() Ladder {
	return Ladder{0, 10, 50, 100}
}

// Validate checks the structural invariants: at least two rungs, strictly
// increasing, starting at 0 and ending at 100.
func (l Ladder) Validate() error {
	if len(l) < 2 {
		return fmt.Errorf("ladder must have at least 2 rungs, got %d", len(l))
	}
	if l[0] != 0 {
		return fmt.Errorf("ladder must start at 0, got %d", l[0])
	}
	if l[len(l)-1] != 100 {
		return fmt.Errorf("ladder must end at 100, got %d", l[len(l)-1])
	}
	for i := 1; i < len(l); i++ {
		if l[i] <= l[i-1] {
			return fmt.Errorf("ladder must be strictly increasing, got %d after %d", l[i], l[i-1])
		}
	}
	return nil
}

// Contains reports whether percent is exactly one of the rungs.
func (l Ladder) Contains(percent int) bool {
	for _, rung := range l {
		if rung == percent {
			return true
		}
	}
	return false
}

// Next returns the rung one step above percent. The top rung is absorbing:
// Next(100) == 100.
func (l Ladder) Next(percent int) int {
	for i, rung := range l {
		if rung == percent {
			if i == len(l)-1 {
				return rung
			}
			return l[i+1]
		}
	}
	return percent
}

// Previous returns the rung one step below percent. The bottom rung is
// absorbing: Previous(0) == 0.
func (l Ladder) Previous(percent int) int {
	for i, rung := range l {
		if rung == percent {
			if i == 0 {
				return rung
			}
			return l[i-1]
		}
	}
	return percent
}

// Floor reports whether percent is the bottom rung.
func (l Ladder) Floor(percent int) bool {
	return len(l) > 0 && l[0] == percent
}

// Ceiling reports whether percent is the top rung.
func (l Ladder) Ceiling(percent int) bool {
	return len(l) > 0 && l[len(l)-1] == percent
}

// String renders the ladder as a comma-separated list, e.g. "0,10,50,100".
func (l Ladder) String() string {
	parts := make([]string, len(l))
	for i, rung := range l {
		parts[i] = strconv.Itoa(rung)
	}
	return strings.Join(parts, ",")
}

// ParseLadder parses a comma-separated rung list like "0,10,50,100" and
// validates it.
func ParseLadder(s string) (Ladder, error) {
	parts := strings.Split(s, ",")
	ladder := make(Ladder, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid ladder rung %q: %w", part, err)
		}
		ladder = append(ladder, value)
	}
	if err := ladder.Validate(); err != nil {
		return nil, err
	}
	return ladder, nil
}
