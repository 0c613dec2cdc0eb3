package model

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrAggregation   = errors.New("aggregation error")
	ErrNumeric       = errors.New("numeric error")
)

// RoundError reports which round failed, and which client when one was at fault.
type RoundError struct {
	Round    int
	ClientID string
	Err      error
}

func (e *RoundError) Error() string {
	if e.ClientID != "" {
		return fmt.Sprintf("round %d: client %s: %v", e.Round, e.ClientID, e.Err)
	}
	return fmt.Sprintf("round %d: %v", e.Round, e.Err)
}

func (e *RoundError) Unwrap() error {
	return e.Err
}

// Kind names the taxonomy entry of err, or "unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, ErrShapeMismatch):
		return "ShapeMismatchError"
	case errors.Is(err, ErrAggregation):
		return "AggregationError"
	case errors.Is(err, ErrNumeric):
		return "NumericError"
	default:
		return "unknown"
	}
}
