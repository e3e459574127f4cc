package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled marks a render that stopped because a caller asked for it.
	ErrCancelled = errors.New("render cancelled")

	// ErrJobTimeout marks a render that exceeded its wall-clock budget.
	ErrJobTimeout = errors.New("render timed out")
)

// FieldError describes one rejected recipe field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s failed %s=%s", f.Field, f.Rule, f.Param)
	}
	return fmt.Sprintf("%s failed %s", f.Field, f.Rule)
}

// ValidationError is returned for a malformed recipe. A recipe that fails
// validation never becomes a job.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid recipe: " + strings.Join(parts, "; ")
}
