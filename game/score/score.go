// Package score holds the rules shared by solo and cooperative high scores.
package score

import "errors"

var (
	// ErrInvalidScore is returned for negative or non-integral scores.
	ErrInvalidScore = errors.New("score must be a non-negative integer")
	// ErrScoreNotHigher is returned when a submission does not beat the stored best.
	// The stored value is left untouched.
	ErrScoreNotHigher = errors.New("new score is not higher than the existing score")
)

// Validate checks that s is an acceptable submission.
func Validate(s int64) error {
	if s < 0 {
		return ErrInvalidScore
	}
	return nil
}

// ParseJSONNumber converts a decoded JSON number into an integer score.
// Fractions and exponents are rejected; the sign is left to Validate so that
// callers can check the players of a submission first.
func ParseJSONNumber(n interface{ Int64() (int64, error) }) (int64, error) {
	v, err := n.Int64()
	if err != nil {
		return 0, ErrInvalidScore
	}
	return v, nil
}
