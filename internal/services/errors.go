package services

import (
	"errors"
	"fmt"
)

// ErrEncoderMissing matches any EncoderMissingError via errors.Is.
var ErrEncoderMissing = errors.New("encoder binary not found")

// EncoderMissingError means the encoder executable could not be spawned
// because it does not exist. Callers surface it as a setup instruction.
type EncoderMissingError struct {
	Binary string
	Err    error
}

func (e *EncoderMissingError) Error() string {
	return fmt.Sprintf("%s not found: install the encoder and ensure it is on the execution path", e.Binary)
}

func (e *EncoderMissingError) Unwrap() error { return e.Err }

func (e *EncoderMissingError) Is(target error) bool { return target == ErrEncoderMissing }

// EncoderRuntimeError is a spawn failure other than a missing binary, or a
// nonzero encoder exit. Stderr holds the tail of the encoder's output.
type EncoderRuntimeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EncoderRuntimeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("encoder failed (exit %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("encoder failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *EncoderRuntimeError) Unwrap() error { return e.Err }

// WriteError means the encoder's stdin pipe failed mid-stream.
type WriteError struct {
	Frame int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write frame %d to encoder: %v", e.Frame, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
