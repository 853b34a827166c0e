package domain

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned by the search engine when no catalog record scores
// above zero. It is a normal outcome, not a failure; callers should prompt
// for a refined query.
var ErrNoMatch = errors.New("no matching recommendations")

// InvalidParameterError reports a caller-supplied value outside its domain,
// e.g. a probability outside [0,1] or a negative rate.
type InvalidParameterError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%g: %s", e.Param, e.Value, e.Reason)
}

// ConfigurationError reports a structurally degenerate catalog entry, e.g.
// RRrx == 1, which makes both threshold formulas divide by zero. Detected at
// catalog load so the process fails fast instead of propagating non-finite
// results.
type ConfigurationError struct {
	RecommendationID string
	Reason           string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("recommendation %s: %s", e.RecommendationID, e.Reason)
}

// AsInvalidParameter reports whether err is an InvalidParameterError.
func AsInvalidParameter(err error) bool {
	var ipe *InvalidParameterError
	return errors.As(err, &ipe)
}

// AsConfiguration reports whether err is a ConfigurationError.
func AsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
